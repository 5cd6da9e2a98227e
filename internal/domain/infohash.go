package domain

import (
	"encoding/hex"
	"strings"
)

// InfoHash is the lower-case hex form of a v1 torrent info-hash.
type InfoHash string

func (h InfoHash) String() string {
	return string(h)
}

// Valid reports whether h is exactly 40 hex characters.
func (h InfoHash) Valid() bool {
	if len(h) != 40 {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// NormalizeInfoHash lower-cases a hex info-hash and validates it.
func NormalizeInfoHash(raw string) (InfoHash, bool) {
	h := InfoHash(strings.ToLower(strings.TrimSpace(raw)))
	return h, h.Valid()
}
