package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

const (
	hashA = domain.InfoHash("dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c")
	hashB = domain.InfoHash("08ada5a7a6183aae1e09d831df6748d566095a10")
)

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

type removal struct {
	hash    domain.InfoHash
	destroy bool
}

type fakeEngine struct {
	mu       sync.Mutex
	torrents map[domain.InfoHash]*fakeTorrent
	// catalog supplies torrents for Add; unknown hashes get a ready torrent.
	catalog  map[domain.InfoHash]*fakeTorrent
	specs    []ports.AddSpec
	removals []removal
	limits   [][2]int64
	addErr   error
	closed   int
	settings domain.EngineSettings
}

func newFakeEngine(settings domain.EngineSettings) *fakeEngine {
	return &fakeEngine{
		torrents: make(map[domain.InfoHash]*fakeTorrent),
		catalog:  make(map[domain.InfoHash]*fakeTorrent),
		settings: settings,
	}
}

func (e *fakeEngine) Add(ctx context.Context, spec ports.AddSpec) (ports.Torrent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = append(e.specs, spec)
	if e.addErr != nil {
		return nil, e.addErr
	}
	t, ok := e.catalog[spec.InfoHash]
	if !ok {
		t = newReadyTorrent(spec.InfoHash)
	}
	e.torrents[spec.InfoHash] = t
	return t, nil
}

func (e *fakeEngine) Get(hash domain.InfoHash) (ports.Torrent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.torrents[hash]
	if !ok {
		return nil, false
	}
	return t, true
}

func (e *fakeEngine) Torrents() []ports.Torrent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ports.Torrent, 0, len(e.torrents))
	for _, t := range e.torrents {
		out = append(out, t)
	}
	return out
}

func (e *fakeEngine) Remove(ctx context.Context, hash domain.InfoHash, destroyStore bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.torrents[hash]
	if !ok {
		return domain.ErrNotFound
	}
	delete(e.torrents, hash)
	e.removals = append(e.removals, removal{hash, destroyStore})
	t.close()
	return nil
}

func (e *fakeEngine) SetRateLimits(down, up int64) {
	e.mu.Lock()
	e.limits = append(e.limits, [2]int64{down, up})
	e.mu.Unlock()
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) lastSpec() ports.AddSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.specs[len(e.specs)-1]
}

func (e *fakeEngine) removed() []removal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]removal(nil), e.removals...)
}

// engineRecorder hands out fake engines and remembers each one.
type engineRecorder struct {
	mu      sync.Mutex
	engines []*fakeEngine
	err     error
	setup   func(*fakeEngine)
}

func (r *engineRecorder) factory(settings domain.EngineSettings) (ports.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	e := newFakeEngine(settings)
	if r.setup != nil {
		r.setup(e)
	}
	r.engines = append(r.engines, e)
	return e, nil
}

func (r *engineRecorder) last() *fakeEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[len(r.engines)-1]
}

func (r *engineRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// ---------------------------------------------------------------------------
// Torrent
// ---------------------------------------------------------------------------

type fakeTorrent struct {
	hash      domain.InfoHash
	gotInfo   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	done     bool
	files    []domain.FileRef
	counters domain.TorrentCounters
	data     []byte
}

func newPendingTorrent(hash domain.InfoHash) *fakeTorrent {
	return &fakeTorrent{
		hash:    hash,
		gotInfo: make(chan struct{}),
		closed:  make(chan struct{}),
		files: []domain.FileRef{
			{Index: 0, Path: "Show/episode.mkv", Name: "episode.mkv", Length: 4},
			{Index: 1, Path: "Show/notes.txt", Name: "notes.txt", Length: 2},
		},
		data: []byte("mkv!"),
	}
}

func newReadyTorrent(hash domain.InfoHash) *fakeTorrent {
	t := newPendingTorrent(hash)
	close(t.gotInfo)
	return t
}

func (t *fakeTorrent) close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *fakeTorrent) setDone() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *fakeTorrent) InfoHash() domain.InfoHash { return t.hash }
func (t *fakeTorrent) GotInfo() <-chan struct{}  { return t.gotInfo }
func (t *fakeTorrent) Closed() <-chan struct{}   { return t.closed }

func (t *fakeTorrent) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *fakeTorrent) Files() []domain.FileRef {
	return append([]domain.FileRef(nil), t.files...)
}

func (t *fakeTorrent) OpenFile(ctx context.Context, index int) (ports.StreamReader, error) {
	if index != 0 {
		return nil, domain.ErrNotFound
	}
	return &fakeReader{Reader: bytes.NewReader(t.data)}, nil
}

func (t *fakeTorrent) Snapshot() (domain.TorrentStateRecord, bool) {
	select {
	case <-t.gotInfo:
	default:
		return domain.TorrentStateRecord{}, false
	}
	return domain.TorrentStateRecord{
		InfoHash:     t.hash,
		Info:         []byte("d4:name4:demoe"),
		AnnounceList: [][]string{{"udp://tracker.opentrackr.org:1337/announce"}},
		Bitfield:     domain.Bitfield{0x80},
	}, true
}

func (t *fakeTorrent) Counters() domain.TorrentCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

type fakeReader struct {
	*bytes.Reader
}

func (r *fakeReader) Close() error        { return nil }
func (r *fakeReader) SetReadahead(int64) {}
func (r *fakeReader) SetResponsive()     {}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

type fakeCache struct {
	mu      sync.Mutex
	records map[domain.InfoHash]domain.TorrentStateRecord
	sets    int
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[domain.InfoHash]domain.TorrentStateRecord)}
}

func (c *fakeCache) Get(hash domain.InfoHash) (domain.TorrentStateRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[hash]
	return r, ok
}

func (c *fakeCache) Set(hash domain.InfoHash, r domain.TorrentStateRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.sets++
	c.records[hash] = r
	return nil
}

func (c *fakeCache) Delete(hash domain.InfoHash) {
	c.mu.Lock()
	delete(c.records, hash)
	c.mu.Unlock()
}

func (c *fakeCache) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for h := range c.records {
		out = append(out, string(h))
	}
	slices.Sort(out)
	return out
}

func (c *fakeCache) has(hash domain.InfoHash) bool {
	_, ok := c.Get(hash)
	return ok
}

func (c *fakeCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

// ---------------------------------------------------------------------------
// Media index and tracker
// ---------------------------------------------------------------------------

type registration struct {
	hash  domain.InfoHash
	files []domain.MediaFile
}

type fakeMedia struct {
	mu         sync.Mutex
	registered []registration
	wrapped    int
	destroyed  int
	destroyErr error
}

func (f *fakeMedia) Register(hash domain.InfoHash, files []domain.MediaFile) {
	f.mu.Lock()
	f.registered = append(f.registered, registration{hash, files})
	f.mu.Unlock()
}

func (f *fakeMedia) Wrap(hash domain.InfoHash, index int, r io.ReadSeekCloser) io.ReadSeekCloser {
	f.mu.Lock()
	f.wrapped++
	f.mu.Unlock()
	return r
}

func (f *fakeMedia) Attachments(context.Context, domain.InfoHash, int) ([]domain.Attachment, error) {
	return nil, errors.New("unused")
}

func (f *fakeMedia) Chapters(context.Context, domain.InfoHash, int) ([]domain.Chapter, error) {
	return nil, errors.New("unused")
}

func (f *fakeMedia) Tracks(context.Context, domain.InfoHash, int) ([]domain.SubtitleTrack, error) {
	return nil, errors.New("unused")
}

func (f *fakeMedia) Subtitle(domain.InfoHash, int, func(domain.SubtitleCue, uint64)) error {
	return errors.New("unused")
}

func (f *fakeMedia) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return f.destroyErr
}

type fakeTracker struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeTracker) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
