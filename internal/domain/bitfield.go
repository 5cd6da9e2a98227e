package domain

// Bitfield is a piece completion map, one bit per piece, most significant
// bit first.
type Bitfield []byte

func NewBitfield(numPieces int) Bitfield {
	if numPieces <= 0 {
		return nil
	}
	return make(Bitfield, (numPieces+7)/8)
}

func (b Bitfield) Has(piece int) bool {
	if piece < 0 || piece/8 >= len(b) {
		return false
	}
	return b[piece/8]&(1<<(7-uint(piece%8))) != 0
}

func (b Bitfield) Set(piece int) {
	if piece < 0 || piece/8 >= len(b) {
		return
	}
	b[piece/8] |= 1 << (7 - uint(piece%8))
}

func (b Bitfield) Clear(piece int) {
	if piece < 0 || piece/8 >= len(b) {
		return
	}
	b[piece/8] &^= 1 << (7 - uint(piece%8))
}

// Count returns the number of set bits among the first numPieces.
func (b Bitfield) Count(numPieces int) int {
	n := 0
	for i := 0; i < numPieces; i++ {
		if b.Has(i) {
			n++
		}
	}
	return n
}
