package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentsession/internal/api/http"
	"torrentsession/internal/app"
	"torrentsession/internal/metrics"
	"torrentsession/internal/repository/statecache"
	"torrentsession/internal/services/media/attachments"
	"torrentsession/internal/services/session"
	"torrentsession/internal/services/torrent/engine/anacrolix"
	"torrentsession/internal/services/torrent/reachability"
	"torrentsession/internal/services/tracker/scrape"
	"torrentsession/internal/telemetry"
)

const serviceName = "torrent-session"

func main() {
	cfg := app.LoadConfig()
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(level, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.OptionsFromEnv(serviceName))
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	settings := cfg.TorrentSettings()
	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("downloadPath", session.DataDir(settings)),
		slog.String("scrapeURL", cfg.ScrapeURL),
		slog.Float64("speedMbps", cfg.SpeedMbps),
		slog.Int("torrentPort", cfg.TorrentPort),
		slog.Bool("persist", cfg.Persist),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := statecache.New(session.DataDir(settings), logger)

	media := attachments.New(attachments.WithLogger(logger))
	if err := media.Listen(cfg.AttachmentsAddr); err != nil {
		logger.Error("attachment server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tracker, err := scrape.New(cfg.ScrapeURL, scrape.WithLogger(logger))
	if err != nil {
		logger.Error("scrape client init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager, err := session.New(session.Config{
		Settings:      settings,
		Engines:       anacrolix.Factory(anacrolix.WithLogger(logger)),
		Cache:         cache,
		Media:         media,
		Tracker:       tracker,
		Logger:        logger,
		Level:         level,
		StreamBaseURL: "http://" + advertisedAddr(cfg.HTTPAddr),
	})
	if err != nil {
		logger.Error("session init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go manager.RunMetrics(rootCtx, 5*time.Second)
	go func() {
		for {
			select {
			case <-rootCtx.Done():
				return
			case err := <-manager.Errors():
				logger.Warn("session fault", slog.String("error", err.Error()))
			}
		}
	}()

	probe := reachability.New(manager, anacrolix.NewProbe,
		reachability.WithTimeout(time.Duration(cfg.ProbeTimeoutSec)*time.Second),
		reachability.WithLogger(logger),
	)

	handler := apihttp.NewServer(manager,
		apihttp.WithLogger(logger),
		apihttp.WithMedia(media),
		apihttp.WithReachability(probe),
		apihttp.WithScraper(tracker),
		apihttp.WithShutdown(stop),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)
	go handler.RunBroadcast(rootCtx, 2*time.Second)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := manager.Destroy(shutdownCtx); err != nil {
		logger.Warn("session destroy error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// advertisedAddr turns a listen address into one clients can dial.
func advertisedAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return strings.Replace(listen, "0.0.0.0", "127.0.0.1", 1)
}

func newLogger(level *slog.LevelVar, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
