// Package matroska extracts container metadata and text subtitle blocks from
// a Matroska or WebM byte stream. The stream is read strictly forward, so it
// can be fed from a pipe while the file is being downloaded.
package matroska

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/remko/go-mkvparse"
)

const (
	maxAttachmentSize    = 64 << 20
	maxBlockSize         = 4 << 20
	defaultTimecodeScale = 1000000

	TrackTypeSubtitle = 0x11
)

type Track struct {
	Number       uint64
	Type         uint64
	CodecID      string
	CodecPrivate []byte
	Language     string
	Name         string
}

// IsTextSubtitle reports whether the track carries text subtitles that can be
// handed to a renderer as-is.
func (t Track) IsTextSubtitle() bool {
	return t.Type == TrackTypeSubtitle && strings.HasPrefix(t.CodecID, "S_TEXT/")
}

// SubtitleFormat is the lower-cased codec suffix, e.g. "ass" or "utf8".
func (t Track) SubtitleFormat() string {
	return strings.ToLower(strings.TrimPrefix(t.CodecID, "S_TEXT/"))
}

type Chapter struct {
	Start time.Duration
	End   time.Duration
	Title string
}

type Attachment struct {
	FileName    string
	MimeType    string
	Description string
	Data        []byte
}

// Header is everything that precedes the first Cluster.
type Header struct {
	TimecodeScale uint64
	Tracks        []Track
	Chapters      []Chapter
	Attachments   []Attachment
}

type Block struct {
	Track    uint64
	Time     time.Duration
	Duration time.Duration
	Data     []byte
}

type Handler struct {
	// Header is called once, at the first Cluster or at end of stream.
	Header func(*Header)
	// WantTrack selects the tracks delivered to Block. When nil, text
	// subtitle tracks are selected.
	WantTrack func(track uint64) bool
	Block     func(Block)
}

// decoder receives element events from mkvparse and assembles them into a
// Header followed by a stream of Blocks.
type decoder struct {
	h           Handler
	header      Header
	headerSent  bool
	want        func(uint64) bool
	clusterTime uint64

	// open maps the offset of each entered master to whether it has a
	// known size, so a stream cut inside one can be told apart from a
	// clean end.
	open map[int64]bool

	track      *Track
	attachment *Attachment
	atoms      []int

	inGroup  bool
	pending  *Block
	duration uint64
}

// Decode reads src until EOF or error, invoking h as metadata and blocks are
// found. A stream that ends on an element boundary is not an error.
func Decode(src io.Reader, h Handler) error {
	br := bufio.NewReader(src)
	magic, err := br.Peek(len(ebmlMagic))
	if err != nil || !bytes.Equal(magic, ebmlMagic) {
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return ErrNotMatroska
	}
	d := newDecoder(h)
	d.header = Header{TimecodeScale: defaultTimecodeScale}
	return d.run(br)
}

// DecodeClusters reads a stream that starts at a Cluster element, such as
// the rest of a file after a seek. hdr supplies the timecode scale and the
// track selection; h.Header is not called.
func DecodeClusters(src io.Reader, hdr *Header, h Handler) error {
	h.Header = nil
	d := newDecoder(h)
	d.header = *hdr
	if d.header.TimecodeScale == 0 {
		d.header.TimecodeScale = defaultTimecodeScale
	}
	d.finishHeader()
	return d.run(src)
}

func newDecoder(h Handler) *decoder {
	return &decoder{h: h, open: make(map[int64]bool)}
}

func (d *decoder) run(src io.Reader) error {
	err := mkvparse.Parse(src, d)
	d.finishHeader()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	for _, sized := range d.open {
		if sized {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func (d *decoder) finishHeader() {
	if d.headerSent {
		return
	}
	d.headerSent = true
	if d.h.WantTrack != nil {
		d.want = d.h.WantTrack
	} else {
		subs := make(map[uint64]bool)
		for _, t := range d.header.Tracks {
			if t.IsTextSubtitle() {
				subs[t.Number] = true
			}
		}
		d.want = func(track uint64) bool { return subs[track] }
	}
	if d.h.Header != nil {
		hdr := d.header
		d.h.Header(&hdr)
	}
}

func (d *decoder) HandleMasterBegin(id mkvparse.ElementID, info mkvparse.ElementInfo) (bool, error) {
	switch id {
	case idSeekHead, idCues, idTags:
		return false, nil
	case idInfo, idTracks, idChapters, idAttachments:
		if d.headerSent {
			return false, nil
		}
	case idTrackEntry:
		d.track = &Track{}
	case idAttached:
		if info.Size > maxAttachmentSize {
			return false, nil
		}
		d.attachment = &Attachment{}
	case idChapterAtom:
		d.atoms = append(d.atoms, len(d.header.Chapters))
		d.header.Chapters = append(d.header.Chapters, Chapter{})
	case idCluster:
		d.finishHeader()
		d.clusterTime = 0
	case idBlockGroup:
		d.inGroup, d.pending, d.duration = true, nil, 0
	}
	d.open[info.Offset] = info.Size >= 0
	return true, nil
}

func (d *decoder) HandleMasterEnd(id mkvparse.ElementID, info mkvparse.ElementInfo) error {
	delete(d.open, info.Offset)
	switch id {
	case idTrackEntry:
		if d.track != nil {
			d.header.Tracks = append(d.header.Tracks, *d.track)
			d.track = nil
		}
	case idAttached:
		if d.attachment != nil {
			d.header.Attachments = append(d.header.Attachments, *d.attachment)
			d.attachment = nil
		}
	case idChapterAtom:
		if n := len(d.atoms); n > 0 {
			d.atoms = d.atoms[:n-1]
		}
	case idBlockGroup:
		if d.pending != nil {
			d.pending.Duration = time.Duration(d.duration) * time.Duration(d.header.TimecodeScale)
			d.deliver(*d.pending)
		}
		d.inGroup, d.pending = false, nil
	}
	return nil
}

func (d *decoder) HandleString(id mkvparse.ElementID, value string, _ mkvparse.ElementInfo) error {
	switch id {
	case idCodecID, idLanguage, idName:
		if d.track == nil {
			return nil
		}
		switch id {
		case idCodecID:
			d.track.CodecID = value
		case idLanguage:
			d.track.Language = value
		default:
			d.track.Name = value
		}
	case idFileName, idFileMime, idFileDesc:
		if d.attachment == nil {
			return nil
		}
		switch id {
		case idFileName:
			d.attachment.FileName = value
		case idFileMime:
			d.attachment.MimeType = value
		default:
			d.attachment.Description = value
		}
	case idChapString:
		if ch := d.chapter(); ch != nil && ch.Title == "" {
			ch.Title = value
		}
	}
	return nil
}

func (d *decoder) HandleInteger(id mkvparse.ElementID, value int64, _ mkvparse.ElementInfo) error {
	if value < 0 {
		value = 0
	}
	v := uint64(value)
	switch id {
	case idTimecodeScl:
		if v > 0 {
			d.header.TimecodeScale = v
		}
	case idTrackNumber:
		if d.track != nil {
			d.track.Number = v
		}
	case idTrackType:
		if d.track != nil {
			d.track.Type = v
		}
	case idChapStart:
		if ch := d.chapter(); ch != nil {
			ch.Start = time.Duration(v)
		}
	case idChapEnd:
		if ch := d.chapter(); ch != nil {
			ch.End = time.Duration(v)
		}
	case idTimecode:
		d.clusterTime = v
	case idBlockDur:
		d.duration = v
	}
	return nil
}

func (d *decoder) HandleFloat(mkvparse.ElementID, float64, mkvparse.ElementInfo) error {
	return nil
}

func (d *decoder) HandleDate(mkvparse.ElementID, time.Time, mkvparse.ElementInfo) error {
	return nil
}

func (d *decoder) HandleBinary(id mkvparse.ElementID, value []byte, _ mkvparse.ElementInfo) error {
	switch id {
	case idCodecPriv:
		if d.track != nil {
			d.track.CodecPrivate = bytes.Clone(value)
		}
	case idFileData:
		if d.attachment != nil {
			d.attachment.Data = bytes.Clone(value)
		}
	case idSimpleBlock:
		if b, ok := d.block(value); ok {
			d.deliver(b)
		}
	case idBlock:
		if !d.inGroup {
			return nil
		}
		if b, ok := d.block(value); ok {
			d.pending = &b
		}
	}
	return nil
}

// chapter is the innermost chapter atom being read.
func (d *decoder) chapter() *Chapter {
	if len(d.atoms) == 0 {
		return nil
	}
	return &d.header.Chapters[d.atoms[len(d.atoms)-1]]
}

// block splits a (Simple)Block body. Laced, oversized and unwanted blocks are
// dropped.
func (d *decoder) block(body []byte) (Block, bool) {
	if d.h.Block == nil || d.want == nil {
		return Block{}, false
	}
	track, rel, flags, payload, err := blockHeader(body)
	if err != nil || flags&0x06 != 0 || len(payload) > maxBlockSize || !d.want(track) {
		return Block{}, false
	}
	ticks := int64(d.clusterTime) + int64(rel)
	if ticks < 0 {
		ticks = 0
	}
	return Block{
		Track: track,
		Time:  time.Duration(ticks) * time.Duration(d.header.TimecodeScale),
		Data:  bytes.Clone(payload),
	}, true
}

func (d *decoder) deliver(b Block) {
	if d.h.Block != nil {
		d.h.Block(b)
	}
}
