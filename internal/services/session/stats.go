package session

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/metrics"
	"torrentsession/internal/services/torrent/source"
)

// Stats projects every torrent the engine holds, ordered by hash.
func (m *Manager) Stats(ctx context.Context) ([]domain.TorrentStats, error) {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	if engine == nil {
		return []domain.TorrentStats{}, nil
	}

	torrents := engine.Torrents()
	out := make([]domain.TorrentStats, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, project(t.InfoHash(), t.Counters()))
	}
	slices.SortFunc(out, func(a, b domain.TorrentStats) int {
		return strings.Compare(string(a.Hash), string(b.Hash))
	})
	return out, nil
}

// StatsFor projects one torrent. id accepts the same forms as Play.
func (m *Manager) StatsFor(ctx context.Context, id string) (domain.TorrentStats, error) {
	hash, err := source.InfoHash(id)
	if err != nil {
		return domain.TorrentStats{}, err
	}
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	if engine == nil {
		return domain.TorrentStats{}, fmt.Errorf("%w: torrent %s", domain.ErrNotFound, hash)
	}
	t, ok := engine.Get(hash)
	if !ok {
		return domain.TorrentStats{}, fmt.Errorf("%w: torrent %s", domain.ErrNotFound, hash)
	}
	return project(hash, t.Counters()), nil
}

// project maps engine counters to the UI projection. ETA is milliseconds:
// 0 once complete, -1 while metadata or throughput is missing.
func project(hash domain.InfoHash, c domain.TorrentCounters) domain.TorrentStats {
	s := domain.TorrentStats{
		Hash:       hash,
		Name:       c.Name,
		Peers:      c.TotalPeers,
		Down:       c.DownloadRate,
		Up:         c.UploadRate,
		Seeders:    c.Seeders,
		Leechers:   max(c.ActivePeers-c.Seeders, 0),
		Size:       c.Length,
		Downloaded: c.BytesCompleted,
		ETA:        -1,
	}
	if !c.InfoReady {
		return s
	}
	if c.Length > 0 {
		s.Progress = float64(c.BytesCompleted) / float64(c.Length)
	}
	switch {
	case c.BytesMissing <= 0:
		s.Progress = 1
		s.ETA = 0
	case c.DownloadRate > 0:
		s.ETA = int64(math.Ceil(float64(c.BytesMissing) / float64(c.DownloadRate) * 1000))
	}
	return s
}

// RunMetrics refreshes the engine gauges every interval until ctx ends.
func (m *Manager) RunMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.updateMetrics(ctx)
		}
	}
}

func (m *Manager) updateMetrics(ctx context.Context) {
	stats, _ := m.Stats(ctx)
	var down, up int64
	var peers int
	for _, s := range stats {
		down += s.Down
		up += s.Up
		peers += s.Seeders + s.Leechers
	}
	metrics.ActiveTorrents.Set(float64(len(stats)))
	metrics.DownloadSpeedBytes.Set(float64(down))
	metrics.UploadSpeedBytes.Set(float64(up))
	metrics.PeersConnected.Set(float64(peers))
}
