package anacrolix

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
)

// ---------------------------------------------------------------------------
// clientConfig
// ---------------------------------------------------------------------------

func TestClientConfigFromSettings(t *testing.T) {
	down, up := newLimiter(100), newLimiter(0)
	settings := domain.EngineSettings{
		DownloadLimit: 100,
		ListenPort:    6881,
		DHT:           false,
		PEX:           true,
		MaxConns:      50,
	}

	cfg := clientConfig(settings, "/data", down, up)

	if cfg.DataDir != "/data" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ListenPort != 6881 {
		t.Fatalf("ListenPort = %d", cfg.ListenPort)
	}
	if !cfg.NoDHT {
		t.Fatalf("NoDHT = false, want true when DHT disabled")
	}
	if cfg.DisablePEX {
		t.Fatalf("DisablePEX = true, want false when PEX enabled")
	}
	if cfg.EstablishedConnsPerTorrent != 50 {
		t.Fatalf("EstablishedConnsPerTorrent = %d", cfg.EstablishedConnsPerTorrent)
	}
	if cfg.DownloadRateLimiter != down || cfg.UploadRateLimiter != up {
		t.Fatalf("rate limiters not wired through")
	}
	if !strings.HasPrefix(cfg.PeerID, peerIDPrefix) || len(cfg.PeerID) != 20 {
		t.Fatalf("PeerID = %q", cfg.PeerID)
	}
}

func TestClientConfigKeepsDefaultConnsWhenUnset(t *testing.T) {
	want := clientConfig(domain.EngineSettings{MaxConns: 1}, "", nil, nil).EstablishedConnsPerTorrent
	if want != 1 {
		t.Fatalf("MaxConns 1 not applied: %d", want)
	}
	cfg := clientConfig(domain.EngineSettings{}, "", nil, nil)
	if cfg.EstablishedConnsPerTorrent <= 0 {
		t.Fatalf("EstablishedConnsPerTorrent = %d, want client default", cfg.EstablishedConnsPerTorrent)
	}
}

func TestPeerIDStable(t *testing.T) {
	if PeerID() != PeerID() {
		t.Fatal("PeerID changed between calls")
	}
}

// ---------------------------------------------------------------------------
// Rate limits
// ---------------------------------------------------------------------------

func TestSetLimit(t *testing.T) {
	tests := []struct {
		name      string
		bytes     int64
		wantLimit rate.Limit
		wantBurst int
	}{
		{"Unlimited", 0, rate.Inf, -1},
		{"Negative", -5, rate.Inf, -1},
		{"Small", 1000, rate.Limit(1000), minBurst},
		{"Large", 5242880, rate.Limit(5242880), 5242880},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newLimiter(tc.bytes)
			if l.Limit() != tc.wantLimit {
				t.Fatalf("Limit = %v, want %v", l.Limit(), tc.wantLimit)
			}
			if tc.wantBurst >= 0 && l.Burst() != tc.wantBurst {
				t.Fatalf("Burst = %d, want %d", l.Burst(), tc.wantBurst)
			}
		})
	}
}

func TestSetRateLimitsAdjustsInPlace(t *testing.T) {
	e := &Engine{down: newLimiter(0), up: newLimiter(0), logger: discardLogger()}
	down, up := e.down, e.up

	e.SetRateLimits(2000, 3000)
	if e.down != down || e.up != up {
		t.Fatal("limiters replaced instead of adjusted")
	}
	if down.Limit() != 2000 || up.Limit() != 3000 {
		t.Fatalf("limits = %v/%v", down.Limit(), up.Limit())
	}

	e.SetRateLimits(0, 0)
	if down.Limit() != rate.Inf || up.Limit() != rate.Inf {
		t.Fatalf("limits = %v/%v, want Inf", down.Limit(), up.Limit())
	}
}

// ---------------------------------------------------------------------------
// seededCompletion
// ---------------------------------------------------------------------------

type fakeCompletion struct {
	m      map[metainfo.PieceKey]bool
	closed bool
}

func (f *fakeCompletion) Get(pk metainfo.PieceKey) (storage.Completion, error) {
	c, ok := f.m[pk]
	return storage.Completion{Complete: c, Ok: ok}, nil
}

func (f *fakeCompletion) Set(pk metainfo.PieceKey, complete bool) error {
	f.m[pk] = complete
	return nil
}

func (f *fakeCompletion) Close() error {
	f.closed = true
	return nil
}

func TestSeededCompletion(t *testing.T) {
	inner := &fakeCompletion{m: make(map[metainfo.PieceKey]bool)}
	c := newSeededCompletion(inner)
	ih := metainfo.HashBytes([]byte("demo"))

	bf := domain.NewBitfield(10)
	bf.Set(1)
	bf.Set(9)
	c.Seed(ih, bf)
	bf.Set(2) // caller mutation must not leak in

	check := func(index int, wantComplete, wantOk bool) {
		t.Helper()
		got, err := c.Get(metainfo.PieceKey{InfoHash: ih, Index: index})
		if err != nil {
			t.Fatalf("Get(%d): %v", index, err)
		}
		if got.Complete != wantComplete || got.Ok != wantOk {
			t.Fatalf("Get(%d) = %+v, want complete=%v ok=%v", index, got, wantComplete, wantOk)
		}
	}

	check(1, true, true)
	check(9, true, true)
	check(2, false, false)
	check(0, false, false)

	// A failed verification clears the seed and reaches the store.
	if err := c.Set(metainfo.PieceKey{InfoHash: ih, Index: 1}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	check(1, false, true)

	c.Forget(ih)
	check(9, false, false)

	other := metainfo.HashBytes([]byte("other"))
	if got, _ := c.Get(metainfo.PieceKey{InfoHash: other, Index: 1}); got.Complete {
		t.Fatal("seed leaked to another torrent")
	}

	if err := c.Close(); err != nil || !inner.closed {
		t.Fatalf("Close = %v, inner closed = %v", err, inner.closed)
	}
}

// ---------------------------------------------------------------------------
// removeTorrentFiles
// ---------------------------------------------------------------------------

func TestRemoveTorrentFiles(t *testing.T) {
	base := t.TempDir()
	files := []domain.FileRef{
		{Index: 0, Path: "Show/Season 1/ep1.mkv"},
		{Index: 1, Path: "Show/Season 1/ep2.mkv"},
		{Index: 2, Path: "Show/extras.txt"},
	}
	for _, f := range files {
		writeFile(t, filepath.Join(base, filepath.FromSlash(f.Path)))
	}
	keep := filepath.Join(base, "other.mkv")
	writeFile(t, keep)

	if err := removeTorrentFiles(base, files); err != nil {
		t.Fatalf("removeTorrentFiles: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "Show")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("torrent directory not pruned: %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestRemoveTorrentFilesKeepsNonEmptyDirs(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Show", "ep1.mkv"))
	writeFile(t, filepath.Join(base, "Show", "user-notes.txt"))

	if err := removeTorrentFiles(base, []domain.FileRef{{Path: "Show/ep1.mkv"}}); err != nil {
		t.Fatalf("removeTorrentFiles: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "Show", "user-notes.txt")); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}
}

func TestRemoveTorrentFilesMissingIsFine(t *testing.T) {
	if err := removeTorrentFiles(t.TempDir(), []domain.FileRef{{Path: "gone.mkv"}}); err != nil {
		t.Fatalf("removeTorrentFiles: %v", err)
	}
}

func TestRemoveTorrentFilesRejectsEscapes(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"Empty", "  "},
		{"Absolute", filepath.Join(base, "x")},
		{"ParentTraversal", "../outside"},
		{"Base", "."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := removeTorrentFiles(base, []domain.FileRef{{Path: tc.path}}); err == nil {
				t.Fatalf("expected error for %q", tc.path)
			}
		})
	}
	if err := removeTorrentFiles(" ", nil); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func writeFile(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
