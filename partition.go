package cbgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Variants holds variant metadata as parallel columns. Every slice has Len()
// elements.
type Variants struct {
	ID         [][]byte
	RSID       [][]byte
	Chromosome [][]byte
	Position   []uint32
	NAlleles   []uint16
	AlleleIDs  [][]byte
	Offset     []uint64
}

func newVariants(capacity int) *Variants {
	return &Variants{
		ID:         make([][]byte, 0, capacity),
		RSID:       make([][]byte, 0, capacity),
		Chromosome: make([][]byte, 0, capacity),
		Position:   make([]uint32, 0, capacity),
		NAlleles:   make([]uint16, 0, capacity),
		AlleleIDs:  make([][]byte, 0, capacity),
		Offset:     make([]uint64, 0, capacity),
	}
}

// Len is the number of variants.
func (vs *Variants) Len() int {
	return len(vs.ID)
}

func (vs *Variants) add(v *Variant) {
	vs.ID = append(vs.ID, []byte(v.ID))
	vs.RSID = append(vs.RSID, []byte(v.RSID))
	vs.Chromosome = append(vs.Chromosome, []byte(v.Chromosome))
	vs.Position = append(vs.Position, v.Position)
	vs.NAlleles = append(vs.NAlleles, v.NAlleles)
	vs.AlleleIDs = append(vs.AlleleIDs, []byte(v.AlleleIDs()))
	vs.Offset = append(vs.Offset, v.Offset)
}

// Partition is a contiguous run of variants read from a metafile. Offset is
// the global index of its first variant, computed as PartitionSize() * Index.
type Partition struct {
	Index    int
	Offset   uint64
	Variants *Variants
}

// encodeVariants lays the columns out one after another.
func encodeVariants(vs *Variants) ([]byte, error) {
	var buf bytes.Buffer
	n := vs.Len()
	putUint32(&buf, uint32(n))

	for _, col := range [][][]byte{vs.ID, vs.RSID, vs.Chromosome} {
		for _, s := range col {
			if len(s) > math.MaxUint16 {
				return nil, fmt.Errorf("identifier of %d bytes is too long", len(s))
			}
			putUint16(&buf, uint16(len(s)))
			buf.Write(s)
		}
	}
	for _, p := range vs.Position {
		putUint32(&buf, p)
	}
	for _, k := range vs.NAlleles {
		putUint16(&buf, k)
	}
	for _, s := range vs.AlleleIDs {
		putUint32(&buf, uint32(len(s)))
		buf.Write(s)
	}
	for _, o := range vs.Offset {
		putUint64(&buf, o)
	}

	return buf.Bytes(), nil
}

func decodeVariants(data []byte) (*Variants, error) {
	r := &columnReader{data: data}
	n := int(r.uint32())
	if r.err != nil {
		return nil, r.err
	}
	// Every variant needs at least 2+2+2+4+2+4+8 bytes.
	if n > len(data)/24 {
		return nil, fmt.Errorf("block claims %d variants but holds only %d bytes", n, len(data))
	}

	vs := &Variants{
		Position:  make([]uint32, n),
		NAlleles:  make([]uint16, n),
		AlleleIDs: make([][]byte, n),
		Offset:    make([]uint64, n),
	}
	for _, col := range []*[][]byte{&vs.ID, &vs.RSID, &vs.Chromosome} {
		*col = make([][]byte, n)
		for i := range *col {
			(*col)[i] = r.bytes(int(r.uint16()))
		}
	}
	for i := range vs.Position {
		vs.Position[i] = r.uint32()
	}
	for i := range vs.NAlleles {
		vs.NAlleles[i] = r.uint16()
	}
	for i := range vs.AlleleIDs {
		vs.AlleleIDs[i] = r.bytes(int(r.uint32()))
	}
	for i := range vs.Offset {
		vs.Offset[i] = r.uint64()
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after %d variants", len(data)-r.pos, n)
	}

	return vs, nil
}

// columnReader is a bounds-checked cursor. After the first fault every read
// returns a zero value and err stays set.
type columnReader struct {
	data []byte
	pos  int
	err  error
}

func (r *columnReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("need %d bytes at %d but the block holds %d", n, r.pos, len(r.data))
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *columnReader) uint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *columnReader) uint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *columnReader) uint64() uint64 {
	if b := r.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *columnReader) bytes(n int) []byte {
	b := r.next(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
