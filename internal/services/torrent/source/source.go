// Package source turns the torrent identifiers a user can paste or drop
// (magnet URI, bare info-hash, .torrent path) into an add request.
package source

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"torrentsession/internal/domain"
)

type Source struct {
	InfoHash    domain.InfoHash
	DisplayName string
	Trackers    [][]string
	URLList     []string
	InfoBytes   []byte
}

// Resolve parses id. Anything unparseable is ErrInvalidInput.
func Resolve(id string) (Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Source{}, fmt.Errorf("%w: empty torrent id", domain.ErrInvalidInput)
	}

	switch {
	case strings.HasPrefix(strings.ToLower(id), "magnet:"):
		return fromMagnet(id)
	case len(id) == 40:
		if h, ok := domain.NormalizeInfoHash(id); ok {
			return Source{InfoHash: h}, nil
		}
	case len(id) == 32:
		if raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(id)); err == nil && len(raw) == 20 {
			return Source{InfoHash: domain.InfoHash(hex.EncodeToString(raw))}, nil
		}
	}
	return fromFile(id)
}

// InfoHash resolves id and returns only its hash.
func InfoHash(id string) (domain.InfoHash, error) {
	src, err := Resolve(id)
	if err != nil {
		return "", err
	}
	return src.InfoHash, nil
}

func fromMagnet(uri string) (Source, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return Source{}, fmt.Errorf("%w: magnet: %v", domain.ErrInvalidInput, err)
	}
	src := Source{
		InfoHash:    domain.InfoHash(m.InfoHash.HexString()),
		DisplayName: m.DisplayName,
		URLList:     m.Params["ws"],
	}
	for _, tr := range m.Trackers {
		src.Trackers = append(src.Trackers, []string{tr})
	}
	return src, nil
}

func fromFile(path string) (Source, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("%w: unrecognised torrent id", domain.ErrInvalidInput)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return Source{}, fmt.Errorf("%w: torrent file %s: %v", domain.ErrInvalidInput, path, err)
	}
	return Source{
		InfoHash:    domain.InfoHash(mi.HashInfoBytes().HexString()),
		DisplayName: info.BestName(),
		Trackers:    mi.UpvertedAnnounceList(),
		URLList:     append([]string(nil), mi.UrlList...),
		InfoBytes:   mi.InfoBytes,
	}, nil
}
