package anacrolix

import (
	"sync"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"torrentsession/internal/domain"
)

// seededCompletion reports pieces from a persisted bitfield as complete
// until the store says otherwise, so resumed torrents skip a full recheck.
// Everything else is delegated to the wrapped completion.
type seededCompletion struct {
	inner storage.PieceCompletion

	mu    sync.RWMutex
	seeds map[metainfo.Hash]domain.Bitfield
}

func newSeededCompletion(inner storage.PieceCompletion) *seededCompletion {
	return &seededCompletion{
		inner: inner,
		seeds: make(map[metainfo.Hash]domain.Bitfield),
	}
}

func (c *seededCompletion) Seed(ih metainfo.Hash, bf domain.Bitfield) {
	c.mu.Lock()
	c.seeds[ih] = append(domain.Bitfield(nil), bf...)
	c.mu.Unlock()
}

func (c *seededCompletion) Forget(ih metainfo.Hash) {
	c.mu.Lock()
	delete(c.seeds, ih)
	c.mu.Unlock()
}

func (c *seededCompletion) Get(pk metainfo.PieceKey) (storage.Completion, error) {
	c.mu.RLock()
	bf, ok := c.seeds[pk.InfoHash]
	seeded := ok && bf.Has(pk.Index)
	c.mu.RUnlock()
	if seeded {
		return storage.Completion{Complete: true, Ok: true}, nil
	}
	return c.inner.Get(pk)
}

func (c *seededCompletion) Set(pk metainfo.PieceKey, complete bool) error {
	if !complete {
		c.mu.Lock()
		if bf, ok := c.seeds[pk.InfoHash]; ok {
			bf.Clear(pk.Index)
		}
		c.mu.Unlock()
	}
	return c.inner.Set(pk, complete)
}

func (c *seededCompletion) Close() error {
	return c.inner.Close()
}
