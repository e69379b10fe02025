package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/bookmark-importer/pkg/pagination"
)

const (
	eventBuffer    = 64
	requestTimeout = 5 * time.Second
	maxBodyBytes   = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   s.opts.Importer.State(),
		"running": s.opts.Importer.Running(),
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	err := s.opts.Importer.StartAsync(s.opts.RunContext, func(result pagination.RunResult, err error) {
		if err != nil {
			s.opts.Logger.Error().Err(err).Int("total_imported", result.TotalImported).Msg("Import run failed")
			return
		}
		s.opts.Logger.Info().
			Int("total_imported", result.TotalImported).
			Int("pages", result.Pages).
			Bool("not_ready", result.NotReady).
			Msg("Import run finished")
	})
	if errors.Is(err, pagination.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleEvents streams notifier events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	events, cancel := s.opts.Broker.Subscribe(eventBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.opts.Logger.Warn().Err(err).Msg("Event stream not flushable")
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.opts.Logger.Warn().Err(err).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	items, err := s.opts.Store.Load(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load bookmarks: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bookmarks": items,
		"total":     len(items),
	})
}

// handleCredentials accepts a JSON object of captured request headers,
// e.g. {"authorization": "...", "cookie": "...", "x-csrf-token": "..."}.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if s.opts.Capturer == nil {
		writeError(w, http.StatusNotImplemented, "credential capture not configured")
		return
	}

	var raw map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid header object: "+err.Error())
		return
	}

	headers := make(http.Header, len(raw))
	for name, value := range raw {
		headers.Set(name, value)
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	captured, err := s.opts.Capturer.Capture(ctx, headers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "capture credentials: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"captured": captured})
}
