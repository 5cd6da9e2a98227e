package anacrolix

import (
	"crypto/rand"
	"sync"
)

const peerIDPrefix = "-qB5030-"

// PeerID returns the process-wide peer id: a qBittorrent client prefix
// followed by 12 random bytes.
var PeerID = sync.OnceValue(func() string {
	suffix := make([]byte, 20-len(peerIDPrefix))
	_, _ = rand.Read(suffix)
	return peerIDPrefix + string(suffix)
})
