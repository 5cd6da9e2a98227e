package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"torrentsession/internal/domain"
)

const subtitleBuffer = 256

type subtitleEvent struct {
	Track uint64             `json:"track"`
	Cue   domain.SubtitleCue `json:"cue"`
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	s.serveMedia(w, r, func(hash domain.InfoHash, index int) (any, error) {
		return s.media.Attachments(r.Context(), hash, index)
	})
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	s.serveMedia(w, r, func(hash domain.InfoHash, index int) (any, error) {
		return s.media.Chapters(r.Context(), hash, index)
	})
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	s.serveMedia(w, r, func(hash domain.InfoHash, index int) (any, error) {
		return s.media.Tracks(r.Context(), hash, index)
	})
}

// serveMedia answers once the container header of the file has been parsed
// from the bytes streamed so far. The request blocks until then.
func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request, fn func(domain.InfoHash, int) (any, error)) {
	if s.media == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "media index not configured")
		return
	}
	hash, index, err := fileTarget(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := fn(hash, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSubtitles upgrades to a WebSocket and forwards subtitle cues of one
// file as they are demuxed. A newer connection for the same file takes over
// the cue feed.
func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "media index not configured")
		return
	}
	hash, index, err := fileTarget(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	events := make(chan []byte, subtitleBuffer)
	listener := func(cue domain.SubtitleCue, track uint64) {
		payload, err := json.Marshal(wsMessage{Type: "subtitle", Data: subtitleEvent{Track: track, Cue: cue}})
		if err != nil {
			return
		}
		select {
		case events <- payload:
		default:
			s.logger.Debug("subtitle cue dropped", slog.String("hash", string(hash)), slog.Int("index", index))
		}
	}
	if err := s.media.Subtitle(hash, index, listener); err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case payload := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
