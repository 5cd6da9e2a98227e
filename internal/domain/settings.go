package domain

import (
	"fmt"
	"math"
)

const megaBitsToBytes = 1024 * 1024 / 8

// TorrentSettings is the host-facing settings shape. TorrentDHT and
// TorrentPeX are disable switches.
type TorrentSettings struct {
	TorrentDHT              bool    `json:"torrentDHT"`
	TorrentPeX              bool    `json:"torrentPeX"`
	TorrentSpeed            float64 `json:"torrentSpeed"`
	TorrentPort             int     `json:"torrentPort"`
	DHTPort                 int     `json:"dhtPort"`
	MaxConns                int     `json:"maxConns"`
	TorrentStreamedDownload bool    `json:"torrentStreamedDownload"`
	TorrentPersist          bool    `json:"torrentPersist"`
	Path                    string  `json:"path,omitempty"`
}

// EngineSettings are TorrentSettings translated into engine terms.
// Zero rate limits mean unlimited.
type EngineSettings struct {
	DownloadLimit int64
	UploadLimit   int64
	DHT           bool
	PEX           bool
	ListenPort    int
	DHTPort       int
	MaxConns      int
	DataDir       string
}

func (s TorrentSettings) Validate() error {
	if math.IsNaN(s.TorrentSpeed) || math.IsInf(s.TorrentSpeed, 0) {
		return fmt.Errorf("%w: torrentSpeed must be a finite number", ErrInvalidInput)
	}
	if s.TorrentPort < 0 || s.TorrentPort > 65535 {
		return fmt.Errorf("%w: torrentPort out of range: %d", ErrInvalidInput, s.TorrentPort)
	}
	if s.DHTPort < 0 || s.DHTPort > 65535 {
		return fmt.Errorf("%w: dhtPort out of range: %d", ErrInvalidInput, s.DHTPort)
	}
	if s.MaxConns < 0 {
		return fmt.Errorf("%w: maxConns must not be negative", ErrInvalidInput)
	}
	return nil
}

// Engine derives engine settings. Speeds of zero or less disable throttling;
// upload gets 20% more headroom than download.
func (s TorrentSettings) Engine(dataDir string) EngineSettings {
	var down, up int64
	if s.TorrentSpeed > 0 {
		down = int64(math.Round(s.TorrentSpeed * megaBitsToBytes))
		up = int64(math.Round(s.TorrentSpeed * megaBitsToBytes * 1.2))
	}
	return EngineSettings{
		DownloadLimit: down,
		UploadLimit:   up,
		DHT:           !s.TorrentDHT,
		PEX:           !s.TorrentPeX,
		ListenPort:    s.TorrentPort,
		DHTPort:       s.DHTPort,
		MaxConns:      s.MaxConns,
		DataDir:       dataDir,
	}
}
