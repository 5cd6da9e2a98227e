// Package attachments indexes Matroska files of the active torrent and serves
// their embedded attachments over a local HTTP server.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/services/media/matroska"
)

type SubtitleFunc func(cue domain.SubtitleCue, track uint64)

type Index struct {
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	destroyed bool
	baseURL   string
	server    *http.Server
}

type Option func(*Index)

func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithBaseURL overrides the URL prefix used for attachment links. Listen sets
// it automatically.
func WithBaseURL(base string) Option {
	return func(x *Index) {
		x.baseURL = strings.TrimRight(base, "/")
	}
}

func New(opts ...Option) *Index {
	x := &Index{
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Listen starts the attachment server. An empty addr binds an ephemeral
// loopback port.
func (x *Index) Listen(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("attachment server listen: %w", err)
	}
	srv := &http.Server{
		Handler:           x.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	x.mu.Lock()
	x.server = srv
	x.baseURL = "http://" + ln.Addr().String()
	x.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			x.logger.Error("attachment server stopped", slog.String("error", err.Error()))
		}
	}()
	x.logger.Info("attachment server started", slog.String("addr", ln.Addr().String()))
	return nil
}

func (x *Index) BaseURL() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.baseURL
}

func entryKey(hash domain.InfoHash, index int) string {
	return string(hash) + strconv.Itoa(index)
}

func isContainer(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".mkv", ".webm":
		return true
	}
	return false
}

// Register replaces every entry with the Matroska files of one torrent.
// Waiters on replaced entries fail with domain.ErrNotFound.
func (x *Index) Register(hash domain.InfoHash, files []domain.MediaFile) {
	x.mu.Lock()
	old := x.entries
	x.entries = make(map[string]*entry)
	for _, f := range files {
		if !isContainer(f.Name) {
			continue
		}
		key := entryKey(hash, f.Index)
		x.entries[key] = newEntry(key, x.logger)
	}
	count := len(x.entries)
	x.mu.Unlock()

	for _, e := range old {
		e.close(domain.ErrNotFound)
	}
	x.logger.Debug("attachment index registered",
		slog.String("hash", string(hash)),
		slog.Int("containers", count),
	)
}

func (x *Index) lookup(key string) *entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.entries[key]
}

// Wrap interposes on a consumer stream of a registered file. Reads at the
// entry's parse cursor are copied into the parser; a stream that seeks ahead
// of it delivers cues again from the next Cluster. Unregistered files and
// streams opened after Destroy pass through untouched.
func (x *Index) Wrap(hash domain.InfoHash, index int, r io.ReadSeekCloser) io.ReadSeekCloser {
	x.mu.Lock()
	destroyed := x.destroyed
	e := x.entries[entryKey(hash, index)]
	x.mu.Unlock()
	if destroyed || e == nil {
		return r
	}
	e.start()
	var pos int64
	if cur, err := r.Seek(0, io.SeekCurrent); err == nil {
		pos = cur
	}
	return &teeReader{src: r, entry: e, pos: pos}
}

func (x *Index) header(ctx context.Context, hash domain.InfoHash, index int) (*matroska.Header, error) {
	e := x.lookup(entryKey(hash, index))
	if e == nil {
		return nil, fmt.Errorf("%w: file %s/%d is not indexed", domain.ErrNotFound, hash, index)
	}
	return e.wait(ctx)
}

// Attachments waits for the container header and lists its attachments.
func (x *Index) Attachments(ctx context.Context, hash domain.InfoHash, index int) ([]domain.Attachment, error) {
	hdr, err := x.header(ctx, hash, index)
	if err != nil {
		return nil, err
	}
	base := x.BaseURL()
	key := entryKey(hash, index)
	out := make([]domain.Attachment, 0, len(hdr.Attachments))
	for n, a := range hdr.Attachments {
		out = append(out, domain.Attachment{
			Filename: a.FileName,
			Mimetype: a.MimeType,
			ID:       index,
			URL:      base + "/" + key + "/" + strconv.Itoa(n),
		})
	}
	return out, nil
}

func (x *Index) Chapters(ctx context.Context, hash domain.InfoHash, index int) ([]domain.Chapter, error) {
	hdr, err := x.header(ctx, hash, index)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chapter, 0, len(hdr.Chapters))
	for _, c := range hdr.Chapters {
		out = append(out, domain.Chapter{
			Start: millis(c.Start),
			End:   millis(c.End),
			Text:  c.Title,
		})
	}
	return out, nil
}

// Tracks lists the text subtitle tracks of the container.
func (x *Index) Tracks(ctx context.Context, hash domain.InfoHash, index int) ([]domain.SubtitleTrack, error) {
	hdr, err := x.header(ctx, hash, index)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SubtitleTrack, 0, len(hdr.Tracks))
	for _, t := range hdr.Tracks {
		if !t.IsTextSubtitle() {
			continue
		}
		out = append(out, domain.SubtitleTrack{
			Number:   t.Number,
			Language: t.Language,
			Type:     t.SubtitleFormat(),
			Header:   string(t.CodecPrivate),
			Name:     t.Name,
		})
	}
	return out, nil
}

// Subtitle installs fn as the only cue listener of a file, replacing any
// previous one.
func (x *Index) Subtitle(hash domain.InfoHash, index int, fn func(cue domain.SubtitleCue, track uint64)) error {
	e := x.lookup(entryKey(hash, index))
	if e == nil {
		return fmt.Errorf("%w: file %s/%d is not indexed", domain.ErrNotFound, hash, index)
	}
	e.setListener(fn)
	return nil
}

// Destroy stops interposing on new streams and shuts the server down.
func (x *Index) Destroy(ctx context.Context) error {
	x.mu.Lock()
	x.destroyed = true
	old := x.entries
	x.entries = make(map[string]*entry)
	srv := x.server
	x.mu.Unlock()

	for _, e := range old {
		e.close(domain.ErrNotFound)
	}
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("attachment server shutdown: %w", err)
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
