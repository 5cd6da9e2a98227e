package ports

import (
	"torrentsession/internal/domain"
)

// StateCache persists resume records keyed by info-hash.
type StateCache interface {
	Get(hash domain.InfoHash) (domain.TorrentStateRecord, bool)
	Set(hash domain.InfoHash, record domain.TorrentStateRecord) error
	Delete(hash domain.InfoHash)
	List() []string
}
