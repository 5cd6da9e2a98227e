package apihttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"torrentsession/internal/domain"
	domainports "torrentsession/internal/domain/ports"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Session is the torrent session the server fronts.
type Session interface {
	Play(ctx context.Context, id string) ([]domain.PlayableFile, error)
	Stats(ctx context.Context) ([]domain.TorrentStats, error)
	StatsFor(ctx context.Context, id string) (domain.TorrentStats, error)
	OpenFile(ctx context.Context, hash domain.InfoHash, index int) (io.ReadSeekCloser, domain.FileRef, error)
	AvailableSpace() (int64, error)
	ListCached() []string
	DiscardCached(hash string) error
	Settings() domain.TorrentSettings
	Configure(settings domain.TorrentSettings) error
	SetDebug(levels string)
}

type ReachabilityChecker interface {
	Check(ctx context.Context, port int) (bool, error)
}

type Scraper interface {
	Scrape(ctx context.Context, hashes []string) ([]domain.ScrapeResult, error)
}

type Server struct {
	session        Session
	media          domainports.MediaIndex
	probe          ReachabilityChecker
	scraper        Scraper
	shutdown       func()
	allowedOrigins []string
	rps            float64
	burst          int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithMedia(media domainports.MediaIndex) ServerOption {
	return func(s *Server) {
		s.media = media
	}
}

func WithReachability(probe ReachabilityChecker) ServerOption {
	return func(s *Server) {
		s.probe = probe
	}
}

func WithScraper(scraper Scraper) ServerOption {
	return func(s *Server) {
		s.scraper = scraper
	}
}

// WithShutdown installs the callback behind POST /shutdown.
func WithShutdown(fn func()) ServerOption {
	return func(s *Server) {
		s.shutdown = fn
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(session Session, opts ...ServerOption) *Server {
	s := &Server{
		session: session,
		rps:     100,
		burst:   200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /torrents/play", s.handlePlay)
	mux.HandleFunc("GET /torrents", s.handleListStats)
	mux.HandleFunc("GET /torrents/{id}", s.handleStats)
	mux.HandleFunc("GET /stream/{hash}/{index}", s.handleStream)
	mux.HandleFunc("GET /storage/space", s.handleStorageSpace)
	mux.HandleFunc("GET /cache", s.handleListCache)
	mux.HandleFunc("DELETE /cache/{hash}", s.handleDiscardCache)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)
	mux.HandleFunc("POST /settings/probe", s.handleProbe)
	mux.HandleFunc("POST /scrape", s.handleScrape)
	mux.HandleFunc("GET /media/{hash}/{index}/attachments", s.handleAttachments)
	mux.HandleFunc("GET /media/{hash}/{index}/chapters", s.handleChapters)
	mux.HandleFunc("GET /media/{hash}/{index}/tracks", s.handleTracks)
	mux.HandleFunc("GET /media/{hash}/{index}/subtitles", s.handleSubtitles)
	mux.HandleFunc("PUT /debug", s.handleDebug)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrent-session",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/ws" && !strings.HasPrefix(p, "/stream/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rps, s.burst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// RunBroadcast pushes torrent stats to every WebSocket client each interval
// until ctx ends.
func (s *Server) RunBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastStats(ctx)
		}
	}
}

// BroadcastStats sends the current stats of every torrent to all WebSocket
// clients.
func (s *Server) BroadcastStats(ctx context.Context) {
	if s.wsHub.clientCount() == 0 {
		return
	}
	stats, err := s.session.Stats(ctx)
	if err != nil {
		s.logger.Debug("ws broadcast stats failed", slog.String("error", err.Error()))
		return
	}
	s.wsHub.Broadcast("stats", stats)
}

// Close stops the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	s.wsHub.Close()
}
