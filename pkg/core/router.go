package core

import (
	"net/http"
)

// Handler returns an http.Handler implementing the multipart subset of the
// S3 API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Object-level operations
	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectPut(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("POST /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectPost(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectDelete(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})

	// Service, bucket and read operations
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeNotImplemented(w, r, r.Method+" "+r.URL.Path)
	})

	// Add middleware
	handler := SlashFix(mux)
	handler = s.RequireAuthentication(handler)
	handler = s.LogRequest(handler)
	if s.metrics != nil {
		handler = s.metrics.Middleware(handler)
	}
	handler = s.Recoverer(handler)
	return handler
}
