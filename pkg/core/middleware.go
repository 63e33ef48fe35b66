package core

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eteran/stagegate/pkg/auth"
	"github.com/eteran/stagegate/pkg/s3err"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type LogEntry struct {
	IP         string
	AccessKey  string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP, "access_key", e.AccessKey)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequest is middleware that logs every request once it has been served.
// It must wrap RequireAuthentication to see the access key.
func (s *Server) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := LogEntry{
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    r.URL.String(),
			Proto:  r.Proto,
		}

		writer := ResponseWriterWrapper{ResponseWriter: w}

		var user *auth.User
		start := time.Now()
		next.ServeHTTP(&writer, r.WithContext(withUserSlot(r.Context(), &user)))
		elapsed := time.Since(start)

		entry.DurationMS = float64(elapsed.Nanoseconds()) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode
		if user != nil {
			entry.AccessKey = user.AccessKeyID
		}

		switch {
		case writer.WrittenResponseCode >= 500:
			s.logger.Error("Request", entry.User(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			s.logger.Warn("Request", entry.User(), entry.Request())
		default:
			s.logger.Info("Request", entry.User(), entry.Request())
		}
	})
}

// RequireAuthentication rejects requests no configured engine accepts and
// stores the authenticated user in the request context.
func (s *Server) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user, err := s.authenticator.AuthenticateRequest(ctx, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if user == nil {
			s.writeError(w, r, s3err.AccessDenied)
			return
		}

		fillUserSlot(ctx, user)
		next.ServeHTTP(w, r.WithContext(auth.WithUser(ctx, user)))
	})
}

func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")

		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// the client connection is gone, nothing to report
					panic(rvr)
				}

				s.logger.Error("Internal Error in HTTP handler", "error", rvr)

				if r.Header.Get("Connection") != "Upgrade" {
					writeS3Error(w, s3err.InternalError, r.URL.Path)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type userSlotKey struct{}

// withUserSlot lets an outer middleware learn which user an inner one
// authenticated.
func withUserSlot(ctx context.Context, slot **auth.User) context.Context {
	return context.WithValue(ctx, userSlotKey{}, slot)
}

func fillUserSlot(ctx context.Context, user *auth.User) {
	if slot, ok := ctx.Value(userSlotKey{}).(**auth.User); ok {
		*slot = user
	}
}
