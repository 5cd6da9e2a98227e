package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/storage/memory"
)

// probeMagnet is a well-seeded public torrent; peers holding it are the
// ones expected to dial in.
const probeMagnet = "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&dn=Big+Buck+Bunny" +
	"&tr=udp%3A%2F%2Fexplodie.org%3A6969" +
	"&tr=udp%3A%2F%2Ftracker.coppersurfer.tk%3A6969" +
	"&tr=udp%3A%2F%2Ftracker.empire-js.us%3A1337" +
	"&tr=udp%3A%2F%2Ftracker.leechers-paradise.org%3A6969" +
	"&tr=udp%3A%2F%2Ftracker.opentrackr.org%3A1337"

const probePollInterval = 250 * time.Millisecond

// Probe is a throwaway client that never dials out and keeps pieces in
// memory. Any active peer therefore proves an inbound connection.
type Probe struct {
	client *torrent.Client
	t      *torrent.Torrent
	store  *memory.Store
}

// NewProbe matches ports.ProbeFactory.
func NewProbe(ctx context.Context, port int) (ports.ProbeEngine, error) {
	store := memory.New()

	cfg := torrent.NewDefaultClientConfig()
	cfg.ListenPort = port
	cfg.PeerID = PeerID()
	cfg.DialForPeerConns = false
	cfg.Seed = false
	cfg.DefaultStorage = storage.NewResourcePieces(store)

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: start probe client on port %d: %v", domain.ErrEngine, port, err)
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(probeMagnet)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: probe magnet: %v", domain.ErrEngine, err)
	}
	p := &Probe{client: client, store: store}
	p.t, err = addWithTimeout(ctx, client, spec)
	if err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func (p *Probe) WaitInbound(ctx context.Context) error {
	ticker := time.NewTicker(probePollInterval)
	defer ticker.Stop()
	for {
		if p.t.Stats().ActivePeers > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Probe) Close() error {
	errs := p.client.Close()
	p.store.Reset()
	return errors.Join(errs...)
}
