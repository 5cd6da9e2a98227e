package domain

// FileRef describes one file inside a torrent with metadata resolved.
type FileRef struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	Name           string `json:"name"`
	Length         int64  `json:"length"`
	BytesCompleted int64  `json:"bytesCompleted"`
}

// PlayableFile is the host-facing view of a file in the active torrent.
type PlayableFile struct {
	Hash InfoHash `json:"hash"`
	Name string   `json:"name"`
	Type string   `json:"type"`
	Size int64    `json:"size"`
	Path string   `json:"path"`
	ID   int      `json:"id"`
	URL  string   `json:"url"`
}
