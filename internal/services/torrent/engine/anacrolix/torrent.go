package anacrolix

import (
	"context"
	"fmt"
	"time"

	"github.com/anacrolix/torrent"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// Torrent adapts an anacrolix torrent to ports.Torrent.
type Torrent struct {
	engine *Engine
	t      *torrent.Torrent
	hash   domain.InfoHash
}

func (w *Torrent) InfoHash() domain.InfoHash {
	return w.hash
}

func (w *Torrent) GotInfo() <-chan struct{} {
	return w.t.GotInfo()
}

func (w *Torrent) Closed() <-chan struct{} {
	return w.t.Closed()
}

func (w *Torrent) Done() bool {
	return torrentInfoReady(w.t) && w.t.BytesMissing() == 0
}

func (w *Torrent) Files() []domain.FileRef {
	return mapFiles(w.t)
}

func (w *Torrent) OpenFile(ctx context.Context, index int) (ports.StreamReader, error) {
	select {
	case <-w.t.GotInfo():
	case <-w.t.Closed():
		return nil, fmt.Errorf("%w: torrent %s closed", domain.ErrNotFound, w.hash)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	files := w.t.Files()
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("%w: file %d of %s", domain.ErrNotFound, index, w.hash)
	}
	r := files[index].NewReader()
	r.SetResponsive()
	return r, nil
}

// Snapshot captures metadata, trackers and verified pieces for resume.
func (w *Torrent) Snapshot() (domain.TorrentStateRecord, bool) {
	if !torrentInfoReady(w.t) {
		return domain.TorrentStateRecord{}, false
	}
	mi := w.t.Metainfo()
	if len(mi.InfoBytes) == 0 {
		return domain.TorrentStateRecord{}, false
	}

	announce := [][]string(mi.AnnounceList)
	if len(announce) == 0 && mi.Announce != "" {
		announce = [][]string{{mi.Announce}}
	}
	rec := domain.TorrentStateRecord{
		InfoHash:     w.hash,
		Info:         append([]byte(nil), mi.InfoBytes...),
		AnnounceList: announce,
		URLList:      append([]string(nil), mi.UrlList...),
		Bitfield:     pieceBitfield(w.t),
	}
	if info := w.t.Info(); info != nil && info.Private != nil {
		private := *info.Private
		rec.Private = &private
	}
	return rec, true
}

func (w *Torrent) Counters() domain.TorrentCounters {
	stats := w.t.Stats()
	down, up := w.engine.sampleSpeed(w.hash, stats, time.Now().UTC())
	c := domain.TorrentCounters{
		Name:         w.t.Name(),
		ActivePeers:  stats.ActivePeers,
		TotalPeers:   stats.TotalPeers,
		Seeders:      stats.ConnectedSeeders,
		DownloadRate: down,
		UploadRate:   up,
	}
	if torrentInfoReady(w.t) {
		c.InfoReady = true
		c.Length = w.t.Length()
		c.BytesCompleted = w.t.BytesCompleted()
		c.BytesMissing = w.t.BytesMissing()
	}
	return c
}
