package matroska

import (
	"encoding/binary"
	"errors"
)

// Element IDs, kept with their length marker bits as they appear on disk.
const (
	idEBML        = 0x1A45DFA3
	idDocType     = 0x4282
	idSegment     = 0x18538067
	idSeekHead    = 0x114D9B74
	idInfo        = 0x1549A966
	idTimecodeScl = 0x2AD7B1
	idTracks      = 0x1654AE6B
	idTrackEntry  = 0xAE
	idTrackNumber = 0xD7
	idTrackType   = 0x83
	idCodecID     = 0x86
	idCodecPriv   = 0x63A2
	idLanguage    = 0x22B59C
	idName        = 0x536E
	idChapters    = 0x1043A770
	idEdition     = 0x45B9
	idChapterAtom = 0xB6
	idChapStart   = 0x91
	idChapEnd     = 0x92
	idChapDisplay = 0x80
	idChapString  = 0x85
	idAttachments = 0x1941A469
	idAttached    = 0x61A7
	idFileName    = 0x466E
	idFileMime    = 0x4660
	idFileData    = 0x465C
	idFileDesc    = 0x467E
	idCluster     = 0x1F43B675
	idTimecode    = 0xE7
	idSimpleBlock = 0xA3
	idBlockGroup  = 0xA0
	idBlock       = 0xA1
	idBlockDur    = 0x9B
	idCues        = 0x1C53BB6B
	idTags        = 0x1254C367
	idVoid        = 0xEC
)

// ebmlMagic is idEBML as it appears at offset zero of every Matroska file.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// ClusterMagic is the on-disk Cluster ID, the point a reader that lands in
// the middle of a file can resume decoding from.
var ClusterMagic = []byte{0x1F, 0x43, 0xB6, 0x75}

var (
	ErrInvalidVint = errors.New("matroska: invalid variable-length integer")
	ErrNotMatroska = errors.New("matroska: missing EBML header")
)

// vintLength counts leading zero bits of the first byte plus one. Zero means
// the byte is not a valid lead byte.
func vintLength(first byte) int {
	for i := 0; i < 8; i++ {
		if first&(0x80>>uint(i)) != 0 {
			return i + 1
		}
	}
	return 0
}

// blockHeader parses the track number and relative timecode at the start of
// a (Simple)Block body.
func blockHeader(body []byte) (track uint64, rel int16, flags byte, payload []byte, err error) {
	if len(body) == 0 {
		return 0, 0, 0, nil, ErrInvalidVint
	}
	length := vintLength(body[0])
	if length == 0 || len(body) < length+3 {
		return 0, 0, 0, nil, ErrInvalidVint
	}
	track = uint64(body[0] & (0xFF >> uint(length)))
	for i := 1; i < length; i++ {
		track = track<<8 | uint64(body[i])
	}
	rel = int16(binary.BigEndian.Uint16(body[length : length+2]))
	flags = body[length+2]
	return track, rel, flags, body[length+3:], nil
}
