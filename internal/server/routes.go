package server

import (
	"github.com/Sternrassler/bookmark-importer/pkg/metrics"
)

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /import", s.handleImport)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /bookmarks", s.handleBookmarks)
	s.mux.HandleFunc("POST /credentials", s.handleCredentials)
	s.mux.Handle("GET /metrics", metrics.Handler())
}
