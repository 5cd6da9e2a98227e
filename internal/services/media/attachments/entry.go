package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"torrentsession/internal/domain"
	"torrentsession/internal/services/media/matroska"
)

// entry is the lazy metadata handle of one container file.
type entry struct {
	key    string
	logger *slog.Logger

	// feedMu serializes writers into the parser pipe.
	feedMu sync.Mutex

	mu        sync.Mutex
	started   bool
	cursor    int64
	pr        *io.PipeReader
	pw        *io.PipeWriter
	header    *matroska.Header
	listener  SubtitleFunc
	ready     chan struct{}
	readyOnce sync.Once
	gone      chan struct{}
	goneOnce  sync.Once
}

func newEntry(key string, logger *slog.Logger) *entry {
	return &entry{
		key:    key,
		logger: logger,
		ready:  make(chan struct{}),
		gone:   make(chan struct{}),
	}
}

// start launches the parser on the first wrapped stream.
func (e *entry) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	select {
	case <-e.gone:
		return
	default:
	}
	e.started = true
	e.pr, e.pw = io.Pipe()
	go e.parse(e.pr)
}

func (e *entry) parse(pr *io.PipeReader) {
	err := matroska.Decode(pr, matroska.Handler{
		Header: e.setHeader,
		Block:  e.emit,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, io.ErrClosedPipe) {
		e.logger.Warn("matroska parse stopped",
			slog.String("key", e.key),
			slog.String("error", err.Error()),
		)
	}
	pr.CloseWithError(io.ErrClosedPipe)

	e.mu.Lock()
	e.pw = nil
	e.mu.Unlock()
	e.setHeader(&matroska.Header{})
}

func (e *entry) setHeader(h *matroska.Header) {
	e.readyOnce.Do(func() {
		e.mu.Lock()
		e.header = h
		e.mu.Unlock()
		close(e.ready)
	})
}

func (e *entry) emit(b matroska.Block) {
	e.mu.Lock()
	fn := e.listener
	e.mu.Unlock()
	if fn == nil {
		return
	}
	fn(domain.SubtitleCue{
		Text:     string(b.Data),
		Time:     millis(b.Time),
		Duration: millis(b.Duration),
	}, b.Track)
}

func (e *entry) setListener(fn SubtitleFunc) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

func (e *entry) wait(ctx context.Context) (*matroska.Header, error) {
	select {
	case <-e.gone:
		return nil, domain.ErrNotFound
	default:
	}
	select {
	case <-e.ready:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.header, nil
	case <-e.gone:
		return nil, domain.ErrNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// feed hands the parser the part of p that starts at the parse cursor.
// Bytes before the cursor were already parsed. It reports whether p lies
// wholly past the cursor, which happens once a reader seeks ahead.
func (e *entry) feed(pos int64, p []byte) (ahead bool) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	e.mu.Lock()
	pw, cursor := e.pw, e.cursor
	e.mu.Unlock()
	if pos > cursor {
		return true
	}
	end := pos + int64(len(p))
	if pw == nil || end <= cursor {
		return false
	}
	n, err := pw.Write(p[cursor-pos:])

	e.mu.Lock()
	e.cursor += int64(n)
	if err != nil {
		e.pw = nil
	}
	e.mu.Unlock()
	return false
}

// current returns the header once the parser has reported it.
func (e *entry) current() *matroska.Header {
	select {
	case <-e.ready:
	default:
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.header
}

// follow decodes the clusters a seeked reader pipes in, handing their cues
// to the same listener as the main parser.
func (e *entry) follow(pr *io.PipeReader, hdr *matroska.Header) {
	err := matroska.DecodeClusters(pr, hdr, matroska.Handler{Block: e.emit})
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		e.logger.Debug("cluster resync stopped",
			slog.String("key", e.key),
			slog.String("error", err.Error()),
		)
	}
	pr.CloseWithError(io.ErrClosedPipe)
}

// finish signals end of file to the parser when a reader hit EOF exactly at
// the parse cursor.
func (e *entry) finish(pos int64) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pw == nil || e.cursor != pos {
		return
	}
	e.pw.Close()
	e.pw = nil
}

func (e *entry) close(reason error) {
	e.goneOnce.Do(func() {
		close(e.gone)
		e.mu.Lock()
		pr, pw := e.pr, e.pw
		e.pw = nil
		e.listener = nil
		e.mu.Unlock()
		if pr != nil {
			pr.CloseWithError(reason)
		}
		if pw != nil {
			pw.CloseWithError(reason)
		}
	})
}

// follower carries one reader's cues while it is ahead of the parse cursor.
// It waits for a Cluster ID in the bytes read and decodes from there.
type follower struct {
	pw   *io.PipeWriter
	tail []byte
}

func (f *follower) feed(e *entry, p []byte) {
	if f.pw != nil {
		if _, err := f.pw.Write(p); err != nil {
			f.pw = nil
		}
		return
	}
	hdr := e.current()
	if hdr == nil {
		return
	}
	rest, ok := f.scan(p)
	if !ok {
		return
	}
	pr, pw := io.Pipe()
	f.pw = pw
	go e.follow(pr, hdr)
	if _, err := pw.Write(rest); err != nil {
		f.pw = nil
	}
}

// scan returns p from the first Cluster ID on. The last bytes of p are kept
// so an ID split across two reads is still found.
func (f *follower) scan(p []byte) ([]byte, bool) {
	magic := matroska.ClusterMagic
	keep := len(magic) - 1
	if len(f.tail) > 0 {
		edge := append(f.tail[:len(f.tail):len(f.tail)], p[:min(len(p), keep)]...)
		if i := bytes.Index(edge, magic); i >= 0 {
			rest := append(f.tail[i:len(f.tail):len(f.tail)], p...)
			f.tail = nil
			return rest, true
		}
	}
	if i := bytes.Index(p, magic); i >= 0 {
		f.tail = nil
		return p[i:], true
	}
	f.tail = append(f.tail, p[max(0, len(p)-keep):]...)
	if len(f.tail) > keep {
		f.tail = f.tail[len(f.tail)-keep:]
	}
	return nil, false
}

func (f *follower) stop() {
	if f.pw != nil {
		f.pw.Close()
		f.pw = nil
	}
	f.tail = nil
}

type teeReader struct {
	src    io.ReadSeekCloser
	entry  *entry
	pos    int64
	follow follower
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		if t.entry.feed(t.pos, p[:n]) {
			t.follow.feed(t.entry, p[:n])
		} else {
			t.follow.stop()
		}
		t.pos += int64(n)
	}
	if errors.Is(err, io.EOF) {
		t.entry.finish(t.pos)
		t.follow.stop()
	}
	return n, err
}

func (t *teeReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := t.src.Seek(offset, whence)
	if err == nil {
		if pos != t.pos {
			t.follow.stop()
		}
		t.pos = pos
	}
	return pos, err
}

func (t *teeReader) Close() error {
	t.follow.stop()
	return t.src.Close()
}
