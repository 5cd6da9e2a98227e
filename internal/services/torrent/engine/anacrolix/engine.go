package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// addTimeout caps the time we wait for the client to accept a torrent.
// AddTorrentSpec can block on the client mutex while it is busy.
const addTimeout = 10 * time.Second

// minBurst keeps throttled limiters able to admit a full peer message.
const minBurst = 256 << 10

type Engine struct {
	client     *torrent.Client
	storage    storage.ClientImplCloser
	completion *seededCompletion
	dataDir    string
	down       *rate.Limiter
	up         *rate.Limiter
	logger     *slog.Logger

	mu       sync.RWMutex
	torrents map[domain.InfoHash]*Torrent

	speedMu sync.Mutex
	speeds  map[domain.InfoHash]speedSample
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New starts a client on the settings' port with file storage under DataDir.
func New(settings domain.EngineSettings, opts ...Option) (*Engine, error) {
	e := &Engine{
		dataDir:  settings.DataDir,
		down:     newLimiter(settings.DownloadLimit),
		up:       newLimiter(settings.UploadLimit),
		logger:   slog.Default(),
		torrents: make(map[domain.InfoHash]*Torrent),
		speeds:   make(map[domain.InfoHash]speedSample),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dataDir == "" {
		e.dataDir = filepath.Join(os.TempDir(), "webtorrent")
	}
	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrEngine, err)
	}

	e.completion = newSeededCompletion(storage.NewMapPieceCompletion())
	e.storage = storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   e.dataDir,
		PieceCompletion: e.completion,
	})

	cfg := clientConfig(settings, e.dataDir, e.down, e.up)
	cfg.DefaultStorage = e.storage

	client, err := torrent.NewClient(cfg)
	if err != nil {
		_ = e.storage.Close()
		return nil, fmt.Errorf("%w: start client: %v", domain.ErrEngine, err)
	}
	e.client = client

	e.logger.Info("torrent engine started",
		slog.String("dataDir", e.dataDir),
		slog.Int("port", settings.ListenPort),
		slog.Bool("dht", settings.DHT),
		slog.Bool("pex", settings.PEX),
	)
	return e, nil
}

// Factory adapts New to ports.EngineFactory.
func Factory(opts ...Option) ports.EngineFactory {
	return func(settings domain.EngineSettings) (ports.Engine, error) {
		e, err := New(settings, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

func clientConfig(settings domain.EngineSettings, dataDir string, down, up *rate.Limiter) *torrent.ClientConfig {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.ListenPort = settings.ListenPort
	cfg.NoDHT = !settings.DHT
	cfg.DisablePEX = !settings.PEX
	cfg.Seed = true
	cfg.PeerID = PeerID()
	if settings.MaxConns > 0 {
		cfg.EstablishedConnsPerTorrent = settings.MaxConns
	}
	cfg.DownloadRateLimiter = down
	cfg.UploadRateLimiter = up
	return cfg
}

// ---------------------------------------------------------------------------
// Torrent lifecycle
// ---------------------------------------------------------------------------

func (e *Engine) Add(ctx context.Context, spec ports.AddSpec) (ports.Torrent, error) {
	if e.client == nil {
		return nil, fmt.Errorf("%w: client not started", domain.ErrEngine)
	}
	var ih metainfo.Hash
	if err := ih.FromHexString(string(spec.InfoHash)); err != nil {
		return nil, fmt.Errorf("%w: info hash %q", domain.ErrInvalidInput, spec.InfoHash)
	}

	if existing, ok := e.Get(spec.InfoHash); ok {
		return existing, nil
	}
	if len(spec.Bitfield) > 0 {
		e.completion.Seed(ih, spec.Bitfield)
	}

	ts := &torrent.TorrentSpec{
		AddTorrentOpts: torrent.AddTorrentOpts{
			InfoHash:  ih,
			InfoBytes: spec.InfoBytes,
		},
		Trackers:    spec.Trackers,
		DisplayName: spec.DisplayName,
		Webseeds:    spec.URLList,
	}
	t, err := addWithTimeout(ctx, e.client, ts)
	if err != nil && len(ts.InfoBytes) > 0 {
		e.logger.Warn("cached metadata rejected, fetching from peers",
			slog.String("hash", string(spec.InfoHash)),
			slog.String("error", err.Error()),
		)
		e.completion.Forget(ih)
		ts.InfoBytes = nil
		t, err = addWithTimeout(ctx, e.client, ts)
	}
	if err != nil {
		return nil, err
	}

	w := &Torrent{engine: e, t: t, hash: spec.InfoHash}
	e.mu.Lock()
	if existing, ok := e.torrents[spec.InfoHash]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.torrents[spec.InfoHash] = w
	e.mu.Unlock()

	go e.watch(w, spec.Sequential)
	return w, nil
}

// addWithTimeout runs AddTorrentSpec with a timeout so callers never block
// indefinitely on a busy client.
func addWithTimeout(ctx context.Context, client *torrent.Client, ts *torrent.TorrentSpec) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, _, err := client.AddTorrentSpec(ts)
		ch <- addResult{t, err}
	}()

	abandon := func() {
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: add torrent: %v", domain.ErrEngine, res.err)
		}
		return res.t, nil
	case <-time.After(addTimeout):
		abandon()
		return nil, fmt.Errorf("%w: torrent client busy", domain.ErrEngine)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// watch selects every piece once metadata arrives unless the torrent is
// streamed, then forgets the torrent when the client closes it.
func (e *Engine) watch(w *Torrent, sequential bool) {
	select {
	case <-w.t.GotInfo():
		if !sequential {
			w.t.DownloadAll()
		}
	case <-w.t.Closed():
	}
	<-w.t.Closed()

	e.mu.Lock()
	if e.torrents[w.hash] == w {
		delete(e.torrents, w.hash)
	}
	e.mu.Unlock()
	e.forgetSpeed(w.hash)
}

func (e *Engine) Get(hash domain.InfoHash) (ports.Torrent, bool) {
	w := e.lookup(hash)
	if w == nil {
		return nil, false
	}
	return w, true
}

func (e *Engine) lookup(hash domain.InfoHash) *Torrent {
	e.mu.RLock()
	w := e.torrents[hash]
	e.mu.RUnlock()
	if w == nil {
		return nil
	}
	select {
	case <-w.t.Closed():
		return nil
	default:
		return w
	}
}

func (e *Engine) Torrents() []ports.Torrent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ports.Torrent, 0, len(e.torrents))
	for _, w := range e.torrents {
		out = append(out, w)
	}
	return out
}

func (e *Engine) Remove(ctx context.Context, hash domain.InfoHash, destroyStore bool) error {
	w := e.lookup(hash)
	if w == nil {
		return fmt.Errorf("%w: torrent %s", domain.ErrNotFound, hash)
	}
	files := mapFiles(w.t)

	e.mu.Lock()
	delete(e.torrents, hash)
	e.mu.Unlock()
	e.forgetSpeed(hash)

	w.t.Drop()
	e.completion.Forget(w.t.InfoHash())

	var err error
	if destroyStore {
		if rmErr := removeTorrentFiles(e.dataDir, files); rmErr != nil {
			err = fmt.Errorf("%w: remove files: %v", domain.ErrEngine, rmErr)
		}
	}
	// Return memory promptly after dropping a torrent.
	freeOSMemory()
	return err
}

// SetRateLimits adjusts both throttles in place without restarting the client.
func (e *Engine) SetRateLimits(downBytesPerSec, upBytesPerSec int64) {
	setLimit(e.down, downBytesPerSec)
	setLimit(e.up, upBytesPerSec)
	e.logger.Debug("rate limits changed",
		slog.Int64("downBytesPerSec", downBytesPerSec),
		slog.Int64("upBytesPerSec", upBytesPerSec),
	)
}

func (e *Engine) Close() error {
	var errs []error
	if e.client != nil {
		errs = append(errs, e.client.Close()...)
	}
	if e.storage != nil {
		errs = append(errs, e.storage.Close())
	}
	e.mu.Lock()
	clear(e.torrents)
	e.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: close: %v", domain.ErrEngine, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func newLimiter(bytesPerSec int64) *rate.Limiter {
	l := rate.NewLimiter(rate.Inf, 0)
	setLimit(l, bytesPerSec)
	return l
}

func setLimit(l *rate.Limiter, bytesPerSec int64) {
	if l == nil {
		return
	}
	if bytesPerSec <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	l.SetLimit(rate.Limit(bytesPerSec))
	l.SetBurst(int(max(bytesPerSec, minBurst)))
}

// freeOSMemory triggers garbage collection and returns freed memory to the OS.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

// pieceBitfield returns an MSB-first bitfield of verified pieces.
func pieceBitfield(t *torrent.Torrent) domain.Bitfield {
	if !torrentInfoReady(t) {
		return nil
	}
	n := t.NumPieces()
	if n <= 0 {
		return nil
	}
	bf := domain.NewBitfield(n)
	for i := 0; i < n; i++ {
		if t.PieceState(i).Complete {
			bf.Set(i)
		}
	}
	return bf
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Name:           filepath.Base(filepath.FromSlash(f.DisplayPath())),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func (e *Engine) sampleSpeed(hash domain.InfoHash, stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[hash]
	e.speeds[hash] = speedSample{
		at:           now,
		bytesRead:    currentRead,
		bytesWritten: currentWritten,
	}

	if !ok || prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := max(currentRead-prev.bytesRead, 0)
	deltaWritten := max(currentWritten-prev.bytesWritten, 0)
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func (e *Engine) forgetSpeed(hash domain.InfoHash) {
	e.speedMu.Lock()
	delete(e.speeds, hash)
	e.speedMu.Unlock()
}

// removeTorrentFiles deletes the torrent's files under baseDir, then prunes
// directories the removal left empty. Paths escaping baseDir are rejected.
func removeTorrentFiles(baseDir string, files []domain.FileRef) error {
	if strings.TrimSpace(baseDir) == "" {
		return errors.New("data dir not configured")
	}

	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	baseAbs = filepath.Clean(baseAbs)

	dirs := make(map[string]struct{})
	for _, file := range files {
		if strings.TrimSpace(file.Path) == "" || filepath.IsAbs(file.Path) {
			return errors.New("invalid file path")
		}
		fullPath := filepath.Clean(filepath.Join(baseAbs, filepath.FromSlash(file.Path)))
		if !strings.HasPrefix(fullPath, baseAbs+string(os.PathSeparator)) {
			return errors.New("invalid file path")
		}

		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		for dir := filepath.Dir(fullPath); dir != baseAbs; dir = filepath.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}

	// Deepest first; os.Remove refuses non-empty directories.
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	slices.SortFunc(ordered, func(a, b string) int {
		return strings.Count(b, string(os.PathSeparator)) - strings.Count(a, string(os.PathSeparator))
	})
	for _, dir := range ordered {
		_ = os.Remove(dir)
	}
	return nil
}
