package core

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeChunks frames payload as aws-chunked with a fake signature per chunk.
func encodeChunks(payload []byte, chunkSize int) string {
	var b strings.Builder
	for len(payload) > 0 {
		n := min(chunkSize, len(payload))
		fmt.Fprintf(&b, "%x;chunk-signature=%064d\r\n", n, 0)
		b.Write(payload[:n])
		b.WriteString("\r\n")
		payload = payload[n:]
	}
	fmt.Fprintf(&b, "0;chunk-signature=%064d\r\n\r\n", 0)
	return b.String()
}

func TestDecodeStreamingPayload(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	var dst bytes.Buffer

	n, err := decodeStreamingPayload(&dst, strings.NewReader(encodeChunks(payload, 4096)), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, dst.Bytes())
}

func TestDecodeStreamingPayloadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		decodedLen int64
	}{
		{name: "length mismatch", body: encodeChunks([]byte("hello"), 2), decodedLen: 6},
		{name: "truncated header", body: "5;chunk-signature=abc", decodedLen: 5},
		{name: "bad size", body: "zz\r\nhello\r\n0\r\n\r\n", decodedLen: 5},
		{name: "short chunk", body: "a\r\nhello", decodedLen: 10},
		{name: "missing terminator", body: "5\r\nhelloXX0\r\n\r\n", decodedLen: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var dst bytes.Buffer
			_, err := decodeStreamingPayload(&dst, strings.NewReader(tt.body), tt.decodedLen)
			require.Error(t, err)
		})
	}
}

func TestStreamingHeaders(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("PUT", "/b/k", nil)
	require.False(t, isStreamingPayload(r))

	r.Header.Set("X-Amz-Content-Sha256", "STREAMING-AWS4-HMAC-SHA256-PAYLOAD")
	require.True(t, isStreamingPayload(r))

	_, err := decodedContentLength(r)
	require.Error(t, err, "missing decoded length")

	r.Header.Set("X-Amz-Decoded-Content-Length", "-1")
	_, err = decodedContentLength(r)
	require.Error(t, err)

	r.Header.Set("X-Amz-Decoded-Content-Length", "42")
	n, err := decodedContentLength(r)
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}

func TestValidTargets(t *testing.T) {
	t.Parallel()

	require.True(t, isValidBucketName("my-bucket.v2"))
	require.False(t, isValidBucketName("my..bucket"))
	require.False(t, isValidBucketName("my.-bucket"))
	require.False(t, isValidBucketName("10.0.0.1"))
	require.True(t, isValidObjectKey("a/b/c+d%e"))
	require.False(t, isValidObjectKey(""))
	require.False(t, isValidObjectKey("bad\x00key"))
}
