// Package session owns the single active torrent: switching between
// torrents, resume snapshots, stats and the engine lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

const (
	defaultSnapshotInterval = 20 * time.Second
	defaultDonePoll         = time.Second
	errorBuffer             = 16
)

var errDestroyed = fmt.Errorf("%w: manager destroyed", domain.ErrEngine)

// Tracker is the shared tracker client torn down with the manager.
type Tracker interface {
	Close()
}

type Config struct {
	Settings domain.TorrentSettings
	Engines  ports.EngineFactory
	Cache    ports.StateCache
	Media    ports.MediaIndex
	Tracker  Tracker
	Logger   *slog.Logger
	// Level is switched by SetDebug. Optional.
	Level *slog.LevelVar
	// StreamBaseURL prefixes the stream URLs handed out by Play.
	StreamBaseURL    string
	SnapshotInterval time.Duration
	DonePollInterval time.Duration
	DiskFree         func(path string) (int64, error)
}

type Manager struct {
	engines    ports.EngineFactory
	cache      ports.StateCache
	media      ports.MediaIndex
	tracker    Tracker
	logger     *slog.Logger
	level      *slog.LevelVar
	baseLevel  slog.Level
	streamBase string
	interval   time.Duration
	donePoll   time.Duration
	diskFree   func(string) (int64, error)
	dataDir    string
	errs       chan error

	// playMu serializes operations that replace the active torrent or the
	// engine. It is never taken while holding mu.
	playMu sync.Mutex

	mu        sync.RWMutex
	settings  domain.TorrentSettings
	engine    ports.Engine
	active    *activeTorrent
	destroyed bool
}

type activeTorrent struct {
	torrent ports.Torrent
	loop    *snapshotLoop
}

// DataDir is the download directory for settings, defaulting to a
// webtorrent folder in the system temp dir.
func DataDir(settings domain.TorrentSettings) string {
	if settings.Path != "" {
		return settings.Path
	}
	return filepath.Join(os.TempDir(), "webtorrent")
}

// New validates the settings and starts the primary engine.
func New(cfg Config) (*Manager, error) {
	if cfg.Engines == nil || cfg.Cache == nil || cfg.Media == nil {
		return nil, errors.New("session: engine factory, cache and media index are required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		engines:    cfg.Engines,
		cache:      cfg.Cache,
		media:      cfg.Media,
		tracker:    cfg.Tracker,
		logger:     cfg.Logger,
		level:      cfg.Level,
		streamBase: cfg.StreamBaseURL,
		interval:   cfg.SnapshotInterval,
		donePoll:   cfg.DonePollInterval,
		diskFree:   cfg.DiskFree,
		dataDir:    DataDir(cfg.Settings),
		errs:       make(chan error, errorBuffer),
		settings:   cfg.Settings,
	}
	m.settings.Path = m.dataDir
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.level == nil {
		m.level = new(slog.LevelVar)
	}
	m.baseLevel = m.level.Level()
	if m.interval <= 0 {
		m.interval = defaultSnapshotInterval
	}
	if m.donePoll <= 0 {
		m.donePoll = defaultDonePoll
	}
	if m.diskFree == nil {
		m.diskFree = diskFreeBytes
	}

	engine, err := m.engines(m.settings.Engine(m.dataDir))
	if err != nil {
		return nil, wrapEngine(err)
	}
	m.engine = engine
	return m, nil
}

// Configure stores new settings. Throttles change in place on the running
// engine; ports, DHT, PEX and connection limits apply when the engine is
// next created. The download path is fixed for the manager's lifetime.
func (m *Manager) Configure(settings domain.TorrentSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	settings.Path = m.dataDir
	m.settings = settings
	engine := m.engine
	m.mu.Unlock()

	es := settings.Engine(m.dataDir)
	if engine != nil {
		engine.SetRateLimits(es.DownloadLimit, es.UploadLimit)
	}
	m.logger.Info("torrent settings updated",
		slog.Int64("downloadLimit", es.DownloadLimit),
		slog.Int64("uploadLimit", es.UploadLimit),
		slog.Bool("streamed", settings.TorrentStreamedDownload),
		slog.Bool("persist", settings.TorrentPersist),
	)
	return nil
}

func (m *Manager) Settings() domain.TorrentSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// SetDebug enables debug logging for any non-empty levels value and
// restores the configured level otherwise.
func (m *Manager) SetDebug(levels string) {
	if levels != "" {
		m.level.Set(slog.LevelDebug)
	} else {
		m.level.Set(m.baseLevel)
	}
	m.logger.Info("log level changed", slog.String("level", m.level.Level().String()))
}

// Errors delivers background faults. Faults are dropped while the channel
// is full.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

func (m *Manager) report(err error) {
	m.logger.Warn("background fault", slog.String("error", err.Error()))
	select {
	case m.errs <- err:
	default:
	}
}

// SuspendEngine closes the primary engine after a final snapshot of the
// active torrent. Play fails with ErrEngine until ResumeEngine.
func (m *Manager) SuspendEngine(ctx context.Context) error {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	m.mu.Lock()
	engine, active := m.engine, m.active
	m.engine, m.active = nil, nil
	m.mu.Unlock()

	active.halt()
	if engine == nil {
		return nil
	}
	if err := engine.Close(); err != nil {
		err = wrapEngine(err)
		m.report(err)
		return err
	}
	m.logger.Info("torrent engine suspended")
	return nil
}

// ResumeEngine starts a fresh engine from the current settings.
func (m *Manager) ResumeEngine(ctx context.Context) error {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return errDestroyed
	}
	if m.engine != nil {
		return nil
	}
	engine, err := m.engines(m.settings.Engine(m.dataDir))
	if err != nil {
		return wrapEngine(err)
	}
	m.engine = engine
	m.logger.Info("torrent engine resumed")
	return nil
}

// Destroy tears down the engine, the media index and the tracker client
// concurrently. Every teardown runs even if another fails.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	engine, active := m.engine, m.active
	m.engine, m.active = nil, nil
	m.mu.Unlock()

	active.halt()

	var g errgroup.Group
	g.Go(func() error {
		if engine == nil {
			return nil
		}
		if err := engine.Close(); err != nil {
			return wrapEngine(err)
		}
		return nil
	})
	g.Go(func() error {
		return m.media.Destroy(ctx)
	})
	g.Go(func() error {
		if m.tracker != nil {
			m.tracker.Close()
		}
		return nil
	})
	err := g.Wait()
	m.logger.Info("session manager destroyed")
	return err
}

func (m *Manager) currentEngine() (ports.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.destroyed {
		return nil, errDestroyed
	}
	if m.engine == nil {
		return nil, fmt.Errorf("%w: engine suspended", domain.ErrEngine)
	}
	return m.engine, nil
}

func wrapEngine(err error) error {
	if err == nil || errors.Is(err, domain.ErrEngine) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEngine, err)
}
