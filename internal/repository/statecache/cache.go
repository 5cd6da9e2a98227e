// Package statecache stores per-torrent resume records as bencoded files,
// one file per info-hash, under <path>/hayase-cache.
package statecache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"torrentsession/internal/domain"
)

const dirName = "hayase-cache"

// record is the on-disk shape. Field names follow the .torrent layout so the
// files stay readable by other bencode tooling.
type record struct {
	Info         bencode.Bytes         `bencode:"info,omitempty"`
	AnnounceList metainfo.AnnounceList `bencode:"announce-list,omitempty"`
	Announce     string                `bencode:"announce,omitempty"`
	URLList      metainfo.UrlList      `bencode:"url-list,omitempty"`
	Private      *bool                 `bencode:"private,omitempty"`
	Bitfield     []byte                `bencode:"_bitfield,omitempty"`
}

type Cache struct {
	dir    string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		dir:    filepath.Join(path, dirName),
		logger: logger,
	}
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) Get(hash domain.InfoHash) (domain.TorrentStateRecord, bool) {
	name, ok := c.file(string(hash))
	if !ok {
		return domain.TorrentStateRecord{}, false
	}
	data, err := os.ReadFile(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("state cache read failed",
				slog.String("hash", string(hash)),
				slog.String("error", err.Error()),
			)
		}
		return domain.TorrentStateRecord{}, false
	}
	var rec record
	if err := bencode.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("state cache decode failed",
			slog.String("hash", string(hash)),
			slog.String("error", err.Error()),
		)
		return domain.TorrentStateRecord{}, false
	}
	return fromRecord(hash, rec), true
}

// Set overwrites the record for hash. Writes are not atomic.
func (c *Cache) Set(hash domain.InfoHash, value domain.TorrentStateRecord) error {
	name, ok := c.file(string(hash))
	if !ok {
		return fmt.Errorf("%w: invalid cache key %q", domain.ErrInvalidInput, hash)
	}
	data, err := bencode.Marshal(toRecord(value))
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	return nil
}

// Delete removes the record. A missing record is not an error.
func (c *Cache) Delete(hash domain.InfoHash) {
	name, ok := c.file(string(hash))
	if !ok {
		return
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("state cache delete failed",
			slog.String("hash", string(hash)),
			slog.String("error", err.Error()),
		)
	}
}

// List returns the keys of all stored records. An unreadable directory
// yields an empty list.
func (c *Cache) List() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return []string{}
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keys = append(keys, entry.Name())
	}
	return keys
}

func (c *Cache) file(key string) (string, bool) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", false
	}
	return filepath.Join(c.dir, key), true
}

func toRecord(r domain.TorrentStateRecord) record {
	announce := make(metainfo.AnnounceList, 0, len(r.AnnounceList))
	for _, tier := range r.AnnounceList {
		if len(tier) == 0 {
			continue
		}
		announce = append(announce, append([]string(nil), tier...))
	}
	return record{
		Info:         bencode.Bytes(r.Info),
		AnnounceList: announce,
		Announce:     r.Announce(),
		URLList:      metainfo.UrlList(r.URLList),
		Private:      r.Private,
		Bitfield:     []byte(r.Bitfield),
	}
}

func fromRecord(hash domain.InfoHash, rec record) domain.TorrentStateRecord {
	out := domain.TorrentStateRecord{
		InfoHash: hash,
		Info:     []byte(rec.Info),
		URLList:  []string(rec.URLList),
		Private:  rec.Private,
		Bitfield: domain.Bitfield(rec.Bitfield),
	}
	for _, tier := range rec.AnnounceList {
		out.AnnounceList = append(out.AnnounceList, append([]string(nil), tier...))
	}
	if len(out.AnnounceList) == 0 && rec.Announce != "" {
		out.AnnounceList = [][]string{{rec.Announce}}
	}
	return out
}
