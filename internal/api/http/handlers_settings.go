package apihttp

import (
	"log/slog"
	"net/http"

	"torrentsession/internal/domain"
)

type storageSpaceResponse struct {
	Free int64 `json:"free"`
}

type probeRequest struct {
	Port int `json:"port"`
}

type probeResponse struct {
	Reachable bool `json:"reachable"`
}

type scrapeRequest struct {
	Hashes []string `json:"hashes"`
}

type debugRequest struct {
	Levels string `json:"levels"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Settings())
}

// handlePutSettings replaces the settings. Omitted fields take their zero
// value.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.TorrentSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.session.Configure(settings); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Settings())
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "reachability probe not configured")
		return
	}
	var req probeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Port == 0 {
		req.Port = s.session.Settings().TorrentPort
	}
	ok, err := s.probe.Check(r.Context(), req.Port)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, probeResponse{Reachable: ok})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "tracker scrape not configured")
		return
	}
	var req scrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	results, err := s.scraper.Scrape(r.Context(), req.Hashes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStorageSpace(w http.ResponseWriter, r *http.Request) {
	free, err := s.session.AvailableSpace()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storageSpaceResponse{Free: free})
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.ListCached())
}

func (s *Server) handleDiscardCache(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DiscardCached(r.PathValue("hash")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var req debugRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	s.session.SetDebug(req.Levels)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.shutdown == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "shutdown not configured")
		return
	}
	s.logger.Info("shutdown requested", slog.String("clientIP", clientIP(r)))
	w.WriteHeader(http.StatusAccepted)
	go s.shutdown()
}
