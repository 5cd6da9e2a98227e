package domain

// MediaFile is what the attachment index needs to know about a torrent file.
type MediaFile struct {
	Index int
	Name  string
}

type Attachment struct {
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	ID       int    `json:"id"`
	URL      string `json:"url"`
}

// Chapter times are milliseconds from the start of the file.
type Chapter struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type SubtitleTrack struct {
	Number   uint64 `json:"number"`
	Language string `json:"language,omitempty"`
	Type     string `json:"type"`
	Header   string `json:"header"`
	Name     string `json:"name,omitempty"`
}

// SubtitleCue times are milliseconds.
type SubtitleCue struct {
	Text     string  `json:"text"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
}
