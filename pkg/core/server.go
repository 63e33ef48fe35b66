package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/eteran/stagegate/pkg/auth"
	"github.com/eteran/stagegate/pkg/metrics"
	"github.com/eteran/stagegate/pkg/multipart"
	"github.com/eteran/stagegate/pkg/s3err"

	"github.com/google/uuid"
)

// ContentIDHeader carries the content-store identifier of a completed upload.
const ContentIDHeader = "X-Stagegate-Content-Id"

var (
	// Regex for validating S3 bucket names.
	// matches lowercase letters, digits, dots, and hyphens,
	// must start and end with a letter or digit, and must be between 3 and 63 characters long.
	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
)

// Server serves the multipart subset of the S3 API. Every other S3 call is
// answered with NotImplemented.
type Server struct {
	uploads       Uploads
	authorizer    BucketAuthorizer
	authenticator auth.AuthEngine
	metrics       *metrics.Metrics
	opMetrics     *metrics.MultipartMetrics
	logger        *slog.Logger
	newUploadID   func() string
}

// NewServer validates cfg and returns a Server. When no authenticator is
// configured and the authorizer can release secret keys, SigV4 and basic
// authentication are enabled against it.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Uploads == nil {
		return nil, errors.New("core: no upload manager configured")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("core: no bucket authorizer configured")
	}

	authenticator := cfg.Authenticator
	if authenticator == nil {
		secrets, ok := cfg.Authorizer.(auth.SecretSource)
		if !ok {
			return nil, errors.New("core: no authenticator configured")
		}
		authenticator = auth.NewCompoundAuthEngine(
			auth.NewSigV4AuthEngine(secrets),
			auth.NewBasicAuthEngine(secrets),
		)
	}

	s := &Server{
		uploads:       cfg.Uploads,
		authorizer:    cfg.Authorizer,
		authenticator: authenticator,
		metrics:       cfg.Metrics,
		opMetrics:     cfg.MultipartMetrics,
		logger:        cfg.Logger,
		newUploadID:   cfg.NewUploadID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newUploadID == nil {
		s.newUploadID = uuid.NewString
	}
	return s, nil
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, e *s3err.Error, resource string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(e.HTTPStatus)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     e.Code,
		Message:  e.Message,
		Resource: resource,
	})
}

// writeError reports err to the client without its cause. Server-side
// failures are logged with the cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := s3err.From(err)
	if e.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "code", e.Code, "err", err)
	}
	writeS3Error(w, e, r.URL.Path)
}

func (s *Server) writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	s.writeError(w, r, s3err.NotImplemented.Wrap(fmt.Errorf("%s is not supported", op)))
}

// isValidBucketName implements the standard S3 bucket naming rules for
// "virtual hosted-style" buckets.
func isValidBucketName(name string) bool {
	if !bucketNamePattern.MatchString(name) {
		return false
	}

	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	return net.ParseIP(name) == nil
}

// isValidObjectKey enforces basic S3 object key constraints: non-empty,
// at most 1024 bytes, and no control characters.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

func validateTarget(bucket, key string) error {
	if !isValidBucketName(bucket) {
		return s3err.InvalidBucketName.Wrap(fmt.Errorf("bucket %q", bucket))
	}
	if !isValidObjectKey(key) {
		return s3err.InvalidObjectName.Wrap(fmt.Errorf("key %q", key))
	}
	return nil
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// observe runs one multipart operation, records it and reports its error.
func (s *Server) observe(op string, w http.ResponseWriter, r *http.Request, fn func() error) {
	start := time.Now()
	err := fn()
	if s.opMetrics != nil {
		s.opMetrics.ObserveOp(op, err, time.Since(start))
	}
	if err != nil {
		s.writeError(w, r, err)
	}
}

// authorizeWrite checks that the authenticated user may write to bucket.
func (s *Server) authorizeWrite(ctx context.Context, bucket string) error {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return s3err.AccessDenied.Wrap(errors.New("no authenticated user"))
	}

	allowed, err := s.authorizer.AuthorizeBucketWrite(ctx, *user, bucket)
	if err != nil {
		return err
	}
	if !allowed {
		return s3err.AccessDenied.Wrap(fmt.Errorf("%q may not write to bucket %q", user.AccessKeyID, bucket))
	}
	return nil
}

// requireSession fails with NoSuchUpload unless the session has staged
// objects.
func (s *Server) requireSession(ctx context.Context, bucket, key, uploadID string) error {
	if uploadID == "" {
		return s3err.NoSuchUpload.Wrap(errors.New("empty upload id"))
	}
	exists, err := s.uploads.CheckExists(ctx, bucket, key, uploadID)
	if err != nil {
		return err
	}
	if !exists {
		return s3err.NoSuchUpload.Wrap(fmt.Errorf("upload %q for %s/%s", uploadID, bucket, key))
	}
	return nil
}

// handleCreateMultipartUpload implements POST /bucket/key?uploads
func (s *Server) handleCreateMultipartUpload(ctx context.Context, w http.ResponseWriter, bucket, key string) error {
	if err := validateTarget(bucket, key); err != nil {
		return err
	}
	if err := s.authorizeWrite(ctx, bucket); err != nil {
		return err
	}

	uploadID := s.newUploadID()
	if err := s.uploads.Create(ctx, bucket, key, uploadID); err != nil {
		return err
	}

	resp := InitiateMultipartUploadResult{
		XMLNS:    S3XMLNamespace,
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	}
	if err := writeXMLResponse(w, resp); err != nil {
		s.logger.Debug("Encode create multipart upload XML", "bucket", bucket, "key", key, "err", err)
	}
	return nil
}

// parsePartNumber accepts decimal part numbers in [1, multipart.MaxPartNumber).
func parsePartNumber(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n >= multipart.MaxPartNumber {
		return 0, s3err.PartNumberOutOfRange.Wrap(fmt.Errorf("part number %q", value))
	}
	return n, nil
}

// handleUploadPart implements PUT /bucket/key?partNumber=N&uploadId=ID
func (s *Server) handleUploadPart(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, uploadID, partNumber string) error {
	if err := validateTarget(bucket, key); err != nil {
		return err
	}
	n, err := parsePartNumber(partNumber)
	if err != nil {
		return err
	}
	if err := s.authorizeWrite(ctx, bucket); err != nil {
		return err
	}
	if err := s.requireSession(ctx, bucket, key, uploadID); err != nil {
		return err
	}

	h := sha256.New()
	if isStreamingPayload(r) {
		err = s.uploadStreamingPart(ctx, r, h, bucket, key, uploadID, n)
	} else {
		err = s.uploads.UploadPart(ctx, bucket, key, uploadID, n, io.TeeReader(r.Body, h))
	}
	if err != nil {
		return err
	}

	w.Header().Set("ETag", createETag(hex.EncodeToString(h.Sum(nil))))
	w.WriteHeader(http.StatusOK)
	return nil
}

// uploadStreamingPart decodes an aws-chunked body on the fly and stages the
// decoded payload as part n.
func (s *Server) uploadStreamingPart(ctx context.Context, r *http.Request, h hash.Hash, bucket, key, uploadID string, n int) error {
	decodedLen, err := decodedContentLength(r)
	if err != nil {
		return s3err.InvalidRequest.Wrap(err)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := decodeStreamingPayload(io.MultiWriter(h, pw), r.Body, decodedLen)
		pw.CloseWithError(err)
		done <- err
	}()

	uploadErr := s.uploads.UploadPart(ctx, bucket, key, uploadID, n, pr)
	_ = pr.Close()

	if decodeErr := <-done; decodeErr != nil && !errors.Is(decodeErr, io.ErrClosedPipe) {
		return s3err.InvalidRequest.Wrap(fmt.Errorf("decode streaming payload: %w", decodeErr))
	}
	return uploadErr
}

// handleCompleteMultipartUpload implements POST /bucket/key?uploadId=ID.
// The part list in the request body is checked for well-formedness only;
// the staged parts decide what is assembled.
func (s *Server) handleCompleteMultipartUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, uploadID string) error {
	if err := validateTarget(bucket, key); err != nil {
		return err
	}
	if err := s.authorizeWrite(ctx, bucket); err != nil {
		return err
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return s3err.InvalidRequest.Wrap(fmt.Errorf("read request body: %w", err))
	}
	if len(body) > 0 {
		var req CompleteMultipartUpload
		if err := xml.Unmarshal(body, &req); err != nil {
			return s3err.MalformedXML.Wrap(err)
		}
		s.logger.Debug("Complete multipart upload", "bucket", bucket, "key", key, "upload_id", uploadID, "listed_parts", len(req.Parts))
	}

	if err := s.requireSession(ctx, bucket, key, uploadID); err != nil {
		return err
	}

	result, err := s.uploads.Complete(ctx, bucket, key, uploadID)
	if err != nil {
		return err
	}
	if s.opMetrics != nil {
		s.opMetrics.ObserveCompleted(result.Content.Size)
	}

	resp := CompleteMultipartUploadResult{
		XMLNS:    S3XMLNamespace,
		Location: "/" + bucket + "/" + key,
		Bucket:   bucket,
		Key:      key,
		ETag:     createETag(fmt.Sprintf("%s-%d", result.Content.Hash, result.Parts)),
	}
	w.Header().Set(ContentIDHeader, result.Content.ID)
	if err := writeXMLResponse(w, resp); err != nil {
		s.logger.Debug("Encode complete multipart upload XML", "bucket", bucket, "key", key, "err", err)
	}
	return nil
}

// handleAbortMultipartUpload implements DELETE /bucket/key?uploadId=ID
func (s *Server) handleAbortMultipartUpload(ctx context.Context, w http.ResponseWriter, bucket, key, uploadID string) error {
	if err := validateTarget(bucket, key); err != nil {
		return err
	}
	if err := s.authorizeWrite(ctx, bucket); err != nil {
		return err
	}
	if err := s.requireSession(ctx, bucket, key, uploadID); err != nil {
		return err
	}
	if err := s.uploads.Abort(ctx, bucket, key, uploadID); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request, bucket, key string) {
	ctx := r.Context()
	query := r.URL.Query()

	switch {
	case query.Has("uploads"):
		s.observe(metrics.OpCreate, w, r, func() error {
			return s.handleCreateMultipartUpload(ctx, w, bucket, key)
		})
	case query.Has("uploadId"):
		s.observe(metrics.OpComplete, w, r, func() error {
			return s.handleCompleteMultipartUpload(ctx, w, r, bucket, key, query.Get("uploadId"))
		})
	default:
		s.writeNotImplemented(w, r, "POST object")
	}
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, bucket, key string) {
	ctx := r.Context()
	query := r.URL.Query()

	switch {
	case r.Header.Get("X-Amz-Copy-Source") != "":
		s.writeNotImplemented(w, r, "CopyObject")
	case query.Has("partNumber") && query.Has("uploadId"):
		s.observe(metrics.OpUploadPart, w, r, func() error {
			return s.handleUploadPart(ctx, w, r, bucket, key, query.Get("uploadId"), query.Get("partNumber"))
		})
	default:
		s.writeNotImplemented(w, r, "PutObject")
	}
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, bucket, key string) {
	ctx := r.Context()
	query := r.URL.Query()

	if !query.Has("uploadId") {
		s.writeNotImplemented(w, r, "DeleteObject")
		return
	}
	s.observe(metrics.OpAbort, w, r, func() error {
		return s.handleAbortMultipartUpload(ctx, w, bucket, key, query.Get("uploadId"))
	})
}
