package apihttp

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"torrentsession/internal/domain"
)

type playRequest struct {
	ID string `json:"id"`
}

type playResponse struct {
	Files []domain.PlayableFile `json:"files"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}

	files, err := s.session.Play(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playResponse{Files: files})
	s.BroadcastStats(r.Context())
}

func (s *Server) handleListStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.StatsFor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStream serves one torrent file with range support. Reads block until
// the requested pieces arrive.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	hash, index, err := fileTarget(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reader, ref, err := s.session.OpenFile(r.Context(), hash, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType(ref.Name))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	s.logger.Debug("stream opened",
		slog.String("hash", string(hash)),
		slog.Int("index", index),
		slog.Int64("length", ref.Length),
	)
	http.ServeContent(w, r, ref.Name, time.Time{}, reader)
}
