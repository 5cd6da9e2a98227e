package session

import (
	"context"
	"fmt"
	"io"
	"os"

	"torrentsession/internal/domain"
)

// AvailableSpace returns the free bytes on the download path's filesystem.
func (m *Manager) AvailableSpace() (int64, error) {
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return 0, fmt.Errorf("create download path: %w", err)
	}
	free, err := m.diskFree(m.dataDir)
	if err != nil {
		return 0, fmt.Errorf("statfs %s: %w", m.dataDir, err)
	}
	return free, nil
}

func (m *Manager) ListCached() []string {
	return m.cache.List()
}

// DiscardCached deletes the resume record for hash. The torrent itself is
// not touched.
func (m *Manager) DiscardCached(hash string) error {
	h, ok := domain.NormalizeInfoHash(hash)
	if !ok {
		return fmt.Errorf("%w: info hash %q", domain.ErrInvalidInput, hash)
	}
	m.cache.Delete(h)
	return nil
}

// OpenFile opens a reader over one file of a loaded torrent. The reader is
// routed through the media index so container metadata is parsed from the
// same bytes.
func (m *Manager) OpenFile(ctx context.Context, hash domain.InfoHash, index int) (io.ReadSeekCloser, domain.FileRef, error) {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	if engine == nil {
		return nil, domain.FileRef{}, fmt.Errorf("%w: torrent %s", domain.ErrNotFound, hash)
	}
	t, ok := engine.Get(hash)
	if !ok {
		return nil, domain.FileRef{}, fmt.Errorf("%w: torrent %s", domain.ErrNotFound, hash)
	}

	var ref domain.FileRef
	found := false
	for _, f := range t.Files() {
		if f.Index == index {
			ref, found = f, true
			break
		}
	}
	if !found {
		return nil, domain.FileRef{}, fmt.Errorf("%w: file %d of %s", domain.ErrNotFound, index, hash)
	}

	r, err := t.OpenFile(ctx, index)
	if err != nil {
		return nil, domain.FileRef{}, err
	}
	return m.media.Wrap(hash, index, r), ref, nil
}
