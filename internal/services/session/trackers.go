package session

// DefaultAnnounce is added to every torrent the manager starts.
var DefaultAnnounce = []string{
	"wss://tracker.openwebtorrent.com",
	"wss://tracker.webtorrent.dev",
	"wss://tracker.files.fm:7073/announce",
	"wss://tracker.btorrent.xyz/",
	"udp://open.stealth.si:80/announce",
	"http://nyaa.tracker.wf:7777/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.coppersurfer.tk:6969/announce",
	"udp://9.rarbg.to:2710/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"http://open.acgnxtracker.com:80/announce",
	"http://anidex.moe:6969/announce",
	"http://tracker.anirena.com:80/announce",
}

// mergeTiers concatenates announce tiers, dropping URLs already seen in an
// earlier tier and tiers left empty.
func mergeTiers(groups ...[][]string) [][]string {
	seen := make(map[string]struct{})
	var out [][]string
	for _, group := range groups {
		for _, tier := range group {
			var kept []string
			for _, url := range tier {
				if url == "" {
					continue
				}
				if _, ok := seen[url]; ok {
					continue
				}
				seen[url] = struct{}{}
				kept = append(kept, url)
			}
			if len(kept) > 0 {
				out = append(out, kept)
			}
		}
	}
	return out
}

func mergeURLs(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, url := range list {
			if _, ok := seen[url]; ok || url == "" {
				continue
			}
			seen[url] = struct{}{}
			out = append(out, url)
		}
	}
	return out
}
