package cbgen

import (
	"encoding/binary"
	"fmt"
	"io"
)

// bitReader reads unsigned integers packed least-significant-bit first, which
// is how BGEN layout 2 stores probabilities.
type bitReader struct {
	data []byte
	pos  uint64 // in bits
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

// Remaining reports how many unread bits are left.
func (r *bitReader) Remaining() uint64 {
	return uint64(len(r.data))*8 - r.pos
}

func (r *bitReader) ReadBit() (bool, error) {
	v, err := r.ReadUint(1)
	return v == 1, err
}

// ReadUint reads the next nbits (1-32) bits as an unsigned integer.
func (r *bitReader) ReadUint(nbits int) (uint64, error) {
	if nbits < 1 || nbits > 32 {
		return 0, fmt.Errorf("cannot read %d bits at once", nbits)
	}
	if uint64(nbits) > r.Remaining() {
		return 0, io.ErrUnexpectedEOF
	}

	byteIdx := r.pos / 8
	shift := r.pos % 8

	// Up to 32 bits plus a 7 bit shift always fit in 8 bytes.
	var word uint64
	if byteIdx+8 <= uint64(len(r.data)) {
		word = binary.LittleEndian.Uint64(r.data[byteIdx:])
	} else {
		var tail [8]byte
		copy(tail[:], r.data[byteIdx:])
		word = binary.LittleEndian.Uint64(tail[:])
	}

	r.pos += uint64(nbits)

	return (word >> shift) & (1<<uint(nbits) - 1), nil
}

// Skip advances past nbits bits.
func (r *bitReader) Skip(nbits uint64) error {
	if nbits > r.Remaining() {
		return io.ErrUnexpectedEOF
	}
	r.pos += nbits
	return nil
}
