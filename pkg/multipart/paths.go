package multipart

import (
	"strconv"
	"strings"

	"github.com/eteran/stagegate/pkg/staging"
)

const (
	// MarkerName is the final path segment of a session's marker object.
	MarkerName = "marker"

	rootSeparator = "+"
)

var componentEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	rootSeparator, "%2B",
)

// EscapeComponent makes a client-supplied name safe to embed in a staging
// path. Slashes are escaped so names never introduce hierarchy, and the root
// separator is escaped so distinct components never collide.
func EscapeComponent(s string) string {
	return componentEscaper.Replace(s)
}

// UploadRoot returns the staging path under which every object belonging to
// the session lives. The root is a single top-level path segment.
func UploadRoot(bucket, key, uploadID string) string {
	return EscapeComponent(bucket) + rootSeparator + EscapeComponent(key) + rootSeparator + EscapeComponent(uploadID)
}

// SessionPrefix is the listing prefix covering exactly one session.
func SessionPrefix(root string) string {
	return root + staging.Delimiter
}

// PartPath is the staging path of part n.
func PartPath(root string, n int) string {
	return SessionPrefix(root) + strconv.Itoa(n)
}

// MarkerPath is the staging path of the session marker.
func MarkerPath(root string) string {
	return SessionPrefix(root) + MarkerName
}

// lastSegment returns the final slash-separated segment of path.
func lastSegment(path string) string {
	if idx := strings.LastIndex(path, staging.Delimiter); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
