package session

import (
	"log/slog"
	"sync"
	"time"

	"torrentsession/internal/domain/ports"
	"torrentsession/internal/metrics"
)

type snapshotLoop struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// halt stops the active torrent's snapshot loop and waits for its final
// snapshot. Safe on nil and on torrents whose loop never started.
func (a *activeTorrent) halt() {
	if a == nil || a.loop == nil {
		return
	}
	a.loop.once.Do(func() { close(a.loop.stop) })
	<-a.loop.done
}

// startSnapshots persists t every interval until it completes, closes or
// is evicted, and once more at that point.
func (m *Manager) startSnapshots(t ports.Torrent) *snapshotLoop {
	l := &snapshotLoop{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(l.done)
		tick := time.NewTicker(m.interval)
		defer tick.Stop()
		poll := time.NewTicker(m.donePoll)
		defer poll.Stop()

		for {
			select {
			case <-tick.C:
				m.snapshot(t)
			case <-poll.C:
				if t.Done() {
					m.snapshot(t)
					return
				}
			case <-t.Closed():
				m.snapshot(t)
				return
			case <-l.stop:
				m.snapshot(t)
				return
			}
		}
	}()
	return l
}

func (m *Manager) snapshot(t ports.Torrent) {
	rec, ok := t.Snapshot()
	if !ok {
		return
	}
	if err := m.cache.Set(t.InfoHash(), rec); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		m.report(err)
		return
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
	m.logger.Debug("state snapshot saved",
		slog.String("hash", string(t.InfoHash())),
		slog.Int("pieces", rec.Bitfield.Count(len(rec.Bitfield)*8)),
	)
}
