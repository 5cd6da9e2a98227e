package ports

import (
	"context"

	"torrentsession/internal/domain"
)

// AddSpec describes a torrent to add to an engine. InfoBytes and Bitfield
// come from a persisted record when one exists.
type AddSpec struct {
	InfoHash    domain.InfoHash
	DisplayName string
	Trackers    [][]string
	URLList     []string
	InfoBytes   []byte
	Bitfield    domain.Bitfield
	Sequential  bool
}

type Engine interface {
	Add(ctx context.Context, spec AddSpec) (Torrent, error)
	Get(hash domain.InfoHash) (Torrent, bool)
	Torrents() []Torrent
	// Remove drops the torrent. destroyStore also deletes its downloaded data.
	Remove(ctx context.Context, hash domain.InfoHash, destroyStore bool) error
	// SetRateLimits adjusts throttles in place. Zero means unlimited.
	SetRateLimits(downBytesPerSec, upBytesPerSec int64)
	Close() error
}

// EngineFactory builds a fresh primary engine from settings.
type EngineFactory func(settings domain.EngineSettings) (Engine, error)

type Torrent interface {
	InfoHash() domain.InfoHash
	GotInfo() <-chan struct{}
	Closed() <-chan struct{}
	Done() bool
	Files() []domain.FileRef
	OpenFile(ctx context.Context, index int) (StreamReader, error)
	// Snapshot returns the resume record. ok is false until metadata is known.
	Snapshot() (record domain.TorrentStateRecord, ok bool)
	Counters() domain.TorrentCounters
}

// ProbeEngine is an isolated engine that only listens.
type ProbeEngine interface {
	// WaitInbound blocks until a remote peer connects or ctx ends.
	WaitInbound(ctx context.Context) error
	Close() error
}

type ProbeFactory func(ctx context.Context, port int) (ProbeEngine, error)
