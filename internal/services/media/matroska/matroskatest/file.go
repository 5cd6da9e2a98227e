// Package matroskatest builds small Matroska files for tests.
package matroskatest

import (
	"bytes"
	"encoding/binary"
	"time"
)

type Track struct {
	Number   uint64
	CodecID  string
	Language string
	Name     string
	Header   string
}

type Chapter struct {
	Start time.Duration
	End   time.Duration
	Title string
}

type Attachment struct {
	Name string
	Mime string
	Data []byte
}

// Cue is a subtitle block. Times have millisecond resolution, are relative
// to the cluster holding the cue and must stay under 32.7s.
type Cue struct {
	Track    uint64
	Time     time.Duration
	Duration time.Duration
	Text     string
}

type File struct {
	Tracks      []Track
	Chapters    []Chapter
	Attachments []Attachment
	Cues        []Cue

	// Filler pads the first cluster with a zeroed video block of this size.
	Filler int
	// Later cues go into a second cluster that starts at LaterAt.
	LaterAt time.Duration
	Later   []Cue
}

// Header returns the bytes up to and including the first cluster's element
// header, which is enough for a parser to report the container header.
func (f File) Header() []byte {
	data := f.Bytes()
	idx := bytes.Index(data, []byte{0x1F, 0x43, 0xB6, 0x75})
	if idx < 0 {
		return data
	}
	return data[:idx+12]
}

// Bytes encodes the file with a 1ms timecode scale, one video track and a
// cluster at time zero, plus a second cluster when Later is set.
func (f File) Bytes() []byte {
	tracks := [][]byte{el(0xAE, uintEl(0xD7, 1), uintEl(0x83, 1), strEl(0x86, "V_MPEG4/ISO/AVC"))}
	for _, t := range f.Tracks {
		entry := [][]byte{uintEl(0xD7, t.Number), uintEl(0x83, 0x11), strEl(0x86, t.CodecID)}
		if t.Language != "" {
			entry = append(entry, strEl(0x22B59C, t.Language))
		}
		if t.Name != "" {
			entry = append(entry, strEl(0x536E, t.Name))
		}
		if t.Header != "" {
			entry = append(entry, el(0x63A2, []byte(t.Header)))
		}
		tracks = append(tracks, el(0xAE, entry...))
	}

	segment := [][]byte{
		el(0x1549A966, uintEl(0x2AD7B1, 1000000)),
		el(0x1654AE6B, tracks...),
	}

	if len(f.Chapters) > 0 {
		var atoms [][]byte
		for _, c := range f.Chapters {
			atoms = append(atoms, el(0xB6,
				uintEl(0x91, uint64(c.Start)),
				uintEl(0x92, uint64(c.End)),
				el(0x80, strEl(0x85, c.Title)),
			))
		}
		segment = append(segment, el(0x1043A770, el(0x45B9, atoms...)))
	}

	if len(f.Attachments) > 0 {
		var files [][]byte
		for _, a := range f.Attachments {
			files = append(files, el(0x61A7,
				strEl(0x466E, a.Name),
				strEl(0x4660, a.Mime),
				el(0x465C, a.Data),
			))
		}
		segment = append(segment, el(0x1941A469, files...))
	}

	first := [][]byte{uintEl(0xE7, 0), el(0xA3, block(1, 0, "frame"))}
	if f.Filler > 0 {
		first = append(first, el(0xA3, block(1, 0, string(make([]byte, f.Filler)))))
	}
	segment = append(segment, cluster(0, first, f.Cues))
	if len(f.Later) > 0 {
		segment = append(segment, cluster(f.LaterAt, nil, f.Later))
	}

	out := el(0x1A45DFA3, strEl(0x4282, "matroska"))
	return append(out, el(0x18538067, segment...)...)
}

func cluster(at time.Duration, body [][]byte, cues []Cue) []byte {
	if body == nil {
		body = [][]byte{uintEl(0xE7, uint64(at/time.Millisecond))}
	}
	for _, c := range cues {
		body = append(body, el(0xA0,
			el(0xA1, block(c.Track, int16(c.Time/time.Millisecond), c.Text)),
			uintEl(0x9B, uint64(c.Duration/time.Millisecond)),
		))
	}
	return el(0x1F43B675, body...)
}

func idBytes(id uint32) []byte {
	switch {
	case id > 0xFFFFFF:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFF:
		return []byte{byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id)}
	}
}

func el(id uint32, body ...[]byte) []byte {
	payload := bytes.Join(body, nil)
	size := make([]byte, 8)
	binary.BigEndian.PutUint64(size, uint64(len(payload)))
	size[0] = 0x01
	out := append(idBytes(id), size...)
	return append(out, payload...)
}

func uintEl(id uint32, v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return el(id, buf)
}

func strEl(id uint32, s string) []byte {
	return el(id, []byte(s))
}

func block(track uint64, rel int16, payload string) []byte {
	out := []byte{0x80 | byte(track), 0, 0, 0}
	binary.BigEndian.PutUint16(out[1:3], uint16(rel))
	return append(out, payload...)
}
