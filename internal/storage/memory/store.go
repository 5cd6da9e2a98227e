// Package memory holds torrent piece data in RAM for short-lived clients
// that must never touch the disk, such as the reachability probe.
package memory

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/resource"
)

// DefaultMaxBytes bounds a store created without WithMaxBytes.
const DefaultMaxBytes = 32 << 20

var errNotDir = errors.New("not a directory")

// Store is a resource.Provider keeping every instance in memory.
// Once the byte budget is exceeded the least recently used instances are
// discarded; the client sees them as missing and fetches them again.
type Store struct {
	mu       sync.Mutex
	blobs    map[string]*blob
	lru      *list.List
	maxBytes int64
	curBytes int64
}

type blob struct {
	data []byte
	mod  time.Time
	elem *list.Element
}

type Option func(*Store)

func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		blobs:    make(map[string]*blob),
		lru:      list.New(),
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len reports the bytes currently held.
func (s *Store) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curBytes
}

// Reset drops every instance.
func (s *Store) Reset() {
	s.mu.Lock()
	clear(s.blobs)
	s.lru.Init()
	s.curBytes = 0
	s.mu.Unlock()
}

func (s *Store) NewInstance(name string) (resource.Instance, error) {
	clean, err := cleanPath(name)
	if err != nil {
		return nil, err
	}
	return &instance{store: s, path: clean}, nil
}

type instance struct {
	store *Store
	path  string
}

func (i *instance) Get() (io.ReadCloser, error) {
	data, ok := i.store.get(i.path)
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (i *instance) Put(r io.Reader) error {
	if r == nil {
		return errors.New("nil reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	i.store.put(i.path, data)
	return nil
}

func (i *instance) PutSized(r io.Reader, size int64) error {
	if r == nil {
		return errors.New("nil reader")
	}
	if size < 0 {
		return errors.New("invalid size")
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	i.store.put(i.path, buf)
	return nil
}

func (i *instance) Stat() (os.FileInfo, error)                { return i.store.stat(i.path) }
func (i *instance) ReadAt(b []byte, off int64) (int, error)  { return i.store.readAt(i.path, b, off) }
func (i *instance) WriteAt(b []byte, off int64) (int, error) { return i.store.writeAt(i.path, b, off) }
func (i *instance) Readdirnames() ([]string, error)          { return i.store.readdir(i.path) }

func (i *instance) Delete() error {
	i.store.delete(i.path)
	return nil
}

// ---------------------------------------------------------------------------
// Store internals; callers of *Locked hold s.mu.
// ---------------------------------------------------------------------------

func (s *Store) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(b.elem)
	return slices.Clone(b.data), true
}

func (s *Store) put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.blobLocked(name)
	s.curBytes += int64(len(data)) - int64(len(b.data))
	b.data = slices.Clone(data)
	b.mod = time.Now().UTC()
	s.evictLocked(name)
}

func (s *Store) readAt(name string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok {
		return 0, os.ErrNotExist
	}
	s.lru.MoveToFront(b.elem)
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Store) writeAt(name string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	end := off + int64(len(p))
	if end > s.maxBytes {
		return 0, errors.New("write exceeds store capacity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.blobLocked(name)
	if end > int64(len(b.data)) {
		s.curBytes += end - int64(len(b.data))
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	copy(b.data[off:], p)
	b.mod = time.Now().UTC()
	s.evictLocked(name)
	return len(p), nil
}

func (s *Store) delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(name)
}

func (s *Store) stat(name string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blobs[name]; ok {
		return fileInfo{name: path.Base(name), size: int64(len(b.data)), mod: b.mod}, nil
	}
	if len(s.childrenLocked(name)) > 0 {
		return fileInfo{name: path.Base(name), dir: true, mod: time.Now().UTC()}, nil
	}
	return nil, os.ErrNotExist
}

func (s *Store) readdir(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[name]; ok {
		return nil, errNotDir
	}
	names := s.childrenLocked(name)
	if len(names) == 0 {
		return nil, os.ErrNotExist
	}
	return names, nil
}

func (s *Store) childrenLocked(name string) []string {
	prefix := name + "/"
	var names []string
	for key := range s.blobs {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		part, _, _ := strings.Cut(rest, "/")
		names = append(names, part)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func (s *Store) blobLocked(name string) *blob {
	if b, ok := s.blobs[name]; ok {
		s.lru.MoveToFront(b.elem)
		return b
	}
	b := &blob{mod: time.Now().UTC()}
	b.elem = s.lru.PushFront(name)
	s.blobs[name] = b
	return b
}

func (s *Store) dropLocked(name string) {
	b, ok := s.blobs[name]
	if !ok {
		return
	}
	s.curBytes -= int64(len(b.data))
	s.lru.Remove(b.elem)
	delete(s.blobs, name)
}

// evictLocked discards least recently used blobs other than keep until the
// store fits its budget.
func (s *Store) evictLocked(keep string) {
	for s.curBytes > s.maxBytes {
		back := s.lru.Back()
		if back == nil {
			return
		}
		key, _ := back.Value.(string)
		if key == keep {
			if back.Prev() == nil {
				return
			}
			key, _ = back.Prev().Value.(string)
		}
		s.dropLocked(key)
	}
}

type fileInfo struct {
	name string
	size int64
	mod  time.Time
	dir  bool
}

func (m fileInfo) Name() string { return m.name }
func (m fileInfo) Size() int64  { return m.size }
func (m fileInfo) Mode() os.FileMode {
	if m.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (m fileInfo) ModTime() time.Time { return m.mod }
func (m fileInfo) IsDir() bool        { return m.dir }
func (m fileInfo) Sys() any           { return nil }

func cleanPath(name string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if trimmed == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", errors.New("absolute path not allowed")
	}
	if strings.Contains(trimmed, "\x00") {
		return "", errors.New("invalid path")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid path")
	}
	return cleaned, nil
}
