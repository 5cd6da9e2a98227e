package domain

// TorrentStateRecord is the resume state persisted per info-hash.
type TorrentStateRecord struct {
	InfoHash     InfoHash
	Info         []byte // bencoded info dictionary
	AnnounceList [][]string
	URLList      []string
	Private      *bool
	Bitfield     Bitfield
}

// Trackers flattens the announce tiers, dropping duplicates.
func (r TorrentStateRecord) Trackers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tier := range r.AnnounceList {
		for _, url := range tier {
			if url == "" {
				continue
			}
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			out = append(out, url)
		}
	}
	return out
}

// Announce returns the first tracker, kept for readers that predate
// announce-list.
func (r TorrentStateRecord) Announce() string {
	if trackers := r.Trackers(); len(trackers) > 0 {
		return trackers[0]
	}
	return ""
}
