package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/metrics"
	"torrentsession/internal/services/torrent/source"
)

// Play makes id the single active torrent and returns its files once
// metadata is known. The previously active torrent is snapshotted and
// removed first; without persistence its data and record are deleted.
func (m *Manager) Play(ctx context.Context, id string) ([]domain.PlayableFile, error) {
	src, err := source.Resolve(id)
	if err != nil {
		return nil, err
	}

	m.playMu.Lock()
	defer m.playMu.Unlock()

	started := time.Now()
	engine, err := m.currentEngine()
	if err != nil {
		return nil, err
	}
	m.evict(ctx, engine)

	t, err := m.add(ctx, engine, src)
	if err != nil {
		return nil, err
	}
	a := &activeTorrent{torrent: t}
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, errDestroyed
	}
	m.active = a
	m.mu.Unlock()

	// Wait without holding mu so stats keep flowing.
	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return nil, fmt.Errorf("%w: torrent %s closed before metadata resolved", domain.ErrNotFound, src.InfoHash)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.PlayDuration.Observe(time.Since(started).Seconds())

	// Destroy may have run while metadata was pending.
	m.mu.Lock()
	if m.destroyed || m.active != a {
		m.mu.Unlock()
		return nil, errDestroyed
	}
	a.loop = m.startSnapshots(t)
	m.mu.Unlock()

	files := t.Files()
	media := make([]domain.MediaFile, 0, len(files))
	for _, f := range files {
		media = append(media, domain.MediaFile{Index: f.Index, Name: f.Name})
	}
	m.media.Register(src.InfoHash, media)

	m.logger.Info("torrent playing",
		slog.String("hash", string(src.InfoHash)),
		slog.Int("files", len(files)),
		slog.Duration("metadataWait", time.Since(started)),
	)
	return m.playable(src.InfoHash, files), nil
}

// evict snapshots and removes every torrent the engine holds. The manager
// only ever keeps one, but an interrupted Play may leave a stray.
func (m *Manager) evict(ctx context.Context, engine ports.Engine) {
	m.mu.Lock()
	active := m.active
	m.active = nil
	persist := m.settings.TorrentPersist
	m.mu.Unlock()

	active.halt()

	for _, t := range engine.Torrents() {
		hash := t.InfoHash()
		if err := engine.Remove(ctx, hash, !persist); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.report(fmt.Errorf("evict %s: %w", hash, err))
		}
		if !persist {
			m.cache.Delete(hash)
		}
		m.logger.Info("torrent evicted", slog.String("hash", string(hash)), slog.Bool("persist", persist))
	}
}

func (m *Manager) add(ctx context.Context, engine ports.Engine, src source.Source) (ports.Torrent, error) {
	if t, ok := engine.Get(src.InfoHash); ok {
		return t, nil
	}

	m.mu.RLock()
	streamed := m.settings.TorrentStreamedDownload
	m.mu.RUnlock()

	spec := ports.AddSpec{
		InfoHash:    src.InfoHash,
		DisplayName: src.DisplayName,
		Trackers:    mergeTiers(src.Trackers, [][]string{DefaultAnnounce}),
		URLList:     src.URLList,
		InfoBytes:   src.InfoBytes,
		Sequential:  streamed,
	}
	if rec, ok := m.cache.Get(src.InfoHash); ok {
		if len(spec.InfoBytes) == 0 {
			spec.InfoBytes = rec.Info
		}
		spec.Bitfield = rec.Bitfield
		spec.Trackers = mergeTiers(spec.Trackers, rec.AnnounceList)
		spec.URLList = mergeURLs(spec.URLList, rec.URLList)
		m.logger.Debug("resuming from cached state",
			slog.String("hash", string(src.InfoHash)),
			slog.Bool("info", len(rec.Info) > 0),
			slog.Int("bitfieldBytes", len(rec.Bitfield)),
		)
	}

	t, err := engine.Add(ctx, spec)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, wrapEngine(err)
	}
	return t, nil
}

func (m *Manager) playable(hash domain.InfoHash, files []domain.FileRef) []domain.PlayableFile {
	base := strings.TrimRight(m.streamBase, "/")
	out := make([]domain.PlayableFile, 0, len(files))
	for _, f := range files {
		out = append(out, domain.PlayableFile{
			Hash: hash,
			Name: f.Name,
			Type: mimeType(f.Name),
			Size: f.Length,
			Path: f.Path,
			ID:   f.Index,
			URL:  base + "/stream/" + string(hash) + "/" + strconv.Itoa(f.Index),
		})
	}
	return out
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	}
	return "application/octet-stream"
}
