package domain

// TorrentCounters are the raw engine counters for one torrent.
type TorrentCounters struct {
	Name           string
	Length         int64
	BytesCompleted int64
	BytesMissing   int64
	ActivePeers    int
	TotalPeers     int
	Seeders        int
	DownloadRate   int64
	UploadRate     int64
	InfoReady      bool
}

// TorrentStats is the stable projection handed to the UI.
type TorrentStats struct {
	Hash       InfoHash `json:"hash"`
	Name       string   `json:"name"`
	Peers      int      `json:"peers"`
	Progress   float64  `json:"progress"`
	Down       int64    `json:"down"`
	Up         int64    `json:"up"`
	Seeders    int      `json:"seeders"`
	Leechers   int      `json:"leechers"`
	Size       int64    `json:"size"`
	Downloaded int64    `json:"downloaded"`
	ETA        int64    `json:"eta"`
}

// ScrapeResult carries the swarm counts a tracker reported for one hash.
type ScrapeResult struct {
	Hash       InfoHash `json:"hash"`
	Complete   int64    `json:"complete"`
	Downloaded int64    `json:"downloaded"`
	Incomplete int64    `json:"incomplete"`
}
