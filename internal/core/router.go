package core

import (
	"net/http"
)

// Handler returns an http.Handler implementing the REST API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	base := s.cfg.Prefix + "/oss"

	// Chunked uploads
	mux.HandleFunc("POST "+base+"/chunk/init", s.handleChunkInit)
	mux.HandleFunc("POST "+base+"/chunk", s.handleChunkUpload)
	mux.HandleFunc("POST "+base+"/chunk/merge", s.handleChunkMerge)
	mux.HandleFunc("GET "+base+"/chunk/{guid}", func(w http.ResponseWriter, r *http.Request) {
		guid := r.PathValue("guid")
		s.handleChunkStatus(w, r, guid)
	})
	mux.HandleFunc("DELETE "+base+"/chunk/{guid}", func(w http.ResponseWriter, r *http.Request) {
		guid := r.PathValue("guid")
		s.handleChunkAbort(w, r, guid)
	})

	// Listings
	mux.HandleFunc("GET "+base+"/tree", s.handleTree)
	mux.HandleFunc("GET "+base+"/objects", s.handleListObjects)

	// Object-level operations
	mux.HandleFunc("POST "+base+"/object", s.handleObjectForm)
	mux.HandleFunc("PUT "+base+"/object/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		s.handleObjectPut(w, r, key)
	})
	mux.HandleFunc("GET "+base+"/object/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		s.handleObjectGet(w, r, key)
	})
	mux.HandleFunc("HEAD "+base+"/object/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		s.handleObjectHead(w, r, key)
	})
	mux.HandleFunc("DELETE "+base+"/object/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		s.handleObjectDelete(w, r, key)
	})
	mux.HandleFunc("GET "+base+"/info/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		s.handleObjectInfo(w, r, key)
	})
	mux.HandleFunc("DELETE "+base+"/folder/{path...}", func(w http.ResponseWriter, r *http.Request) {
		path := r.PathValue("path")
		s.handleFolderDelete(w, r, path)
	})

	mux.HandleFunc("GET "+s.cfg.Prefix+"/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET "+s.cfg.Metrics.Path(), s.cfg.Metrics.Handler())

	// Add middleware. Recoverer sits inside LogRequest so a panic is still
	// logged and counted as a 500.
	handler := s.Recoverer(mux)
	handler = s.SlashFix(handler)
	handler = s.LogRequest(handler)
	return handler
}
