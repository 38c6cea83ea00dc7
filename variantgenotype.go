package cbgen

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/carbocation/pfx"
)

const (
	layout1BytesPerSample = 6
	layout1Scale          = 32768

	// Layout2 header: N (4), K (2), Pmin (1), Pmax (1), then N ploidy bytes,
	// then phased (1) and bits (1).
	layout2FixedHeader = 10

	ploidyMask  = 0x3f
	missingMask = 0x80
	maxPloidy   = 63

	maxCombinations = 1 << 20
)

// Genotype is an open genotype block. The header region (ploidy,
// missingness, phasedness) is decoded on open; probabilities are decoded on
// Read. A Genotype must not be used after its BGEN is closed.
type Genotype struct {
	Offset    uint64
	NSamples  uint32
	NAlleles  uint16
	MinPloidy uint8
	MaxPloidy uint8
	Phased    bool
	NBits     uint8

	b       *BGEN
	layout  Layout
	ploidy  []uint8
	missing []bool
	ncombs  int

	// Decompressed block and where its probability payload begins
	data      []byte
	probStart int
	closed    bool
}

// OpenGenotype opens the genotype block that starts at offset, which must be
// a genotype offset recorded by a VariantReader or a metafile. Any other
// offset fails with an ErrInvalidOffset error. A block at a real offset that
// cannot be decompressed or whose header disagrees with its payload fails
// with ErrDecode.
//
// The first call scans every variant record once to learn where genotype
// blocks start. The scan reads record lengths only.
func (b *BGEN) OpenGenotype(offset uint64) (*Genotype, error) {
	const op = "open genotype"
	if err := b.checkOpen(op); err != nil {
		return nil, err
	}
	if !b.isGenotypeOffset(offset) {
		if b.offsetsErr != nil {
			return nil, errorf(KindInvalidOffset, op, b.FilePath, "offset %d is not the start of a genotype block seen before the scan stopped: %v", offset, b.offsetsErr)
		}
		return nil, errorf(KindInvalidOffset, op, b.FilePath, "offset %d is not the start of a genotype block", offset)
	}

	g := &Genotype{
		Offset:   offset,
		NSamples: b.NSamples,
		b:        b,
		layout:   b.FlagLayout,
	}

	var err error
	if b.FlagLayout == Layout1 {
		err = g.openLayout1()
	} else {
		err = g.openLayout2()
	}
	if err != nil {
		return nil, newError(KindDecode, op, b.FilePath, fmt.Errorf("offset %d: %w", offset, err))
	}

	return g, nil
}

func (b *BGEN) isGenotypeOffset(offset uint64) bool {
	if !b.offsetsIndexed {
		b.indexGenotypeOffsets()
	}
	_, found := slices.BinarySearch(b.genotypeOffsets, offset)
	return found
}

// indexGenotypeOffsets records the genotype offset of every variant record.
// A scan that stops early keeps the offsets it reached; they are still real
// block starts.
func (b *BGEN) indexGenotypeOffsets() {
	// Every record takes well over 16 bytes, so the file size bounds the
	// count better than the header can.
	offsets := make([]uint64, 0, min(int64(b.NVariants), b.Size/16))

	vr := b.NewVariantReader()
	for v := vr.Read(); v != nil; v = vr.Read() {
		offsets = append(offsets, v.Offset)
	}

	b.genotypeOffsets = offsets
	b.offsetsErr = vr.Error()
	b.offsetsIndexed = true
}

// readBlock returns the decompressed genotype block at g.Offset.
func (g *Genotype) readBlock() ([]byte, error) {
	b := g.b
	offset := int64(g.Offset)
	if g.Offset >= uint64(b.Size) || offset < int64(b.VariantsStart) {
		return nil, pfx.Err(fmt.Errorf("offset lies outside the variant data of the %d byte file", b.Size))
	}

	if b.FlagLayout == Layout1 && b.FlagCompression == CompressionDisabled {
		raw := make([]byte, layout1BytesPerSample*int(b.NSamples))
		if err := b.parseAtOffsetWithBuffer(offset, raw); err != nil {
			return nil, pfx.Err(err)
		}
		return raw, nil
	}

	lengthBuffer := make([]byte, 4)
	if err := b.parseAtOffsetWithBuffer(offset, lengthBuffer); err != nil {
		return nil, pfx.Err(err)
	}
	offset += 4
	blockLength := int64(binary.LittleEndian.Uint32(lengthBuffer))
	if offset+blockLength > b.Size {
		return nil, pfx.Err(fmt.Errorf("block declares %d bytes but only %d remain", blockLength, b.Size-offset))
	}

	// Layout1 with zlib: the block is C compressed bytes inflating to 6N.
	if b.FlagLayout == Layout1 {
		compressed := make([]byte, blockLength)
		if err := b.parseAtOffsetWithBuffer(offset, compressed); err != nil {
			return nil, pfx.Err(err)
		}
		return decompress(CompressionZLIB, compressed, layout1BytesPerSample*int(b.NSamples))
	}

	if b.FlagCompression == CompressionDisabled {
		// If compression is disabled, it will not have the second 4 byte
		// chunk that indicates how large the data chunk is after
		// decompression.
		raw := make([]byte, blockLength)
		if err := b.parseAtOffsetWithBuffer(offset, raw); err != nil {
			return nil, pfx.Err(err)
		}
		return raw, nil
	}

	// The BGEN docs: "If CompressedSNPBlocks is nonzero, this is C-4 bytes
	// which can be uncompressed to form D bytes in the format described
	// below."
	if blockLength < 4 {
		return nil, pfx.Err(fmt.Errorf("compressed block length %d is too small to hold its decompressed size", blockLength))
	}
	if err := b.parseAtOffsetWithBuffer(offset, lengthBuffer); err != nil {
		return nil, pfx.Err(err)
	}
	offset += 4
	decompressedDataLength := int64(binary.LittleEndian.Uint32(lengthBuffer))

	if decompressedDataLength < layout2FixedHeader+int64(b.NSamples) {
		return nil, pfx.Err(fmt.Errorf("declared decompressed size %d cannot hold a header for %d samples", decompressedDataLength, b.NSamples))
	}

	compressed := make([]byte, blockLength-4)
	if err := b.parseAtOffsetWithBuffer(offset, compressed); err != nil {
		return nil, pfx.Err(err)
	}

	return decompress(b.FlagCompression, compressed, int(decompressedDataLength))
}

func (g *Genotype) openLayout1() error {
	data, err := g.readBlock()
	if err != nil {
		return err
	}

	g.NAlleles = 2
	g.MinPloidy, g.MaxPloidy = 2, 2
	g.NBits = 16
	g.ncombs = 3
	g.data = data
	g.ploidy = make([]uint8, g.NSamples)
	g.missing = make([]bool, g.NSamples)

	for i := 0; i < int(g.NSamples); i++ {
		g.ploidy[i] = 2
		sample := data[i*layout1BytesPerSample:]
		var sum uint32
		for j := 0; j < 3; j++ {
			sum += uint32(binary.LittleEndian.Uint16(sample[2*j:]))
		}

		// Each value is rounded separately, so allow a little slack above 1.
		if sum > layout1Scale+2 {
			return pfx.Err(fmt.Errorf("sample %d probabilities sum to %d/%d", i, sum, layout1Scale))
		}
		g.missing[i] = sum == 0
	}

	return nil
}

func (g *Genotype) openLayout2() error {
	data, err := g.readBlock()
	if err != nil {
		return err
	}
	if len(data) < layout2FixedHeader+int(g.NSamples) {
		return pfx.Err(fmt.Errorf("block of %d bytes cannot hold a header for %d samples", len(data), g.NSamples))
	}

	if n := binary.LittleEndian.Uint32(data[0:]); n != g.NSamples {
		return pfx.Err(fmt.Errorf("block declares %d samples but the header declares %d", n, g.NSamples))
	}
	g.NAlleles = binary.LittleEndian.Uint16(data[4:])
	g.MinPloidy = data[6]
	g.MaxPloidy = data[7]

	if g.NAlleles < 2 {
		return pfx.Err(fmt.Errorf("block declares %d alleles", g.NAlleles))
	}
	if g.MaxPloidy > maxPloidy || g.MinPloidy > g.MaxPloidy {
		return pfx.Err(fmt.Errorf("ploidy range [%d, %d] is invalid", g.MinPloidy, g.MaxPloidy))
	}

	pos := 8
	g.ploidy = make([]uint8, g.NSamples)
	g.missing = make([]bool, g.NSamples)
	for i := range g.ploidy {
		pm := data[pos+i]
		if pm&^(ploidyMask|missingMask) != 0 {
			return pfx.Err(fmt.Errorf("sample %d ploidy byte %#x uses reserved bits", i, pm))
		}
		g.ploidy[i] = pm & ploidyMask
		g.missing[i] = pm&missingMask != 0
		if g.ploidy[i] < g.MinPloidy || g.ploidy[i] > g.MaxPloidy {
			return pfx.Err(fmt.Errorf("sample %d ploidy %d lies outside [%d, %d]", i, g.ploidy[i], g.MinPloidy, g.MaxPloidy))
		}
	}
	pos += int(g.NSamples)

	switch data[pos] {
	case 0:
		g.Phased = false
	case 1:
		g.Phased = true
	default:
		return pfx.Err(fmt.Errorf("phased flag is %d", data[pos]))
	}
	g.NBits = data[pos+1]
	pos += 2
	if g.NBits < 1 || g.NBits > 32 {
		return pfx.Err(fmt.Errorf("probabilities use %d bits; must be 1-32", g.NBits))
	}

	ncombs, ok := chooseLimit(int(g.MaxPloidy)+int(g.NAlleles)-1, int(g.NAlleles)-1, maxCombinations)
	if g.Phased {
		ncombs = int(g.MaxPloidy) * int(g.NAlleles)
		ok = ncombs <= maxCombinations
	}
	if !ok {
		return pfx.Err(fmt.Errorf("%d alleles at ploidy %d exceed %d probability columns", g.NAlleles, g.MaxPloidy, maxCombinations))
	}

	// The payload must be exactly as large as the ploidies imply.
	var counts [maxPloidy + 1]int
	for z := int(g.MinPloidy); z <= int(g.MaxPloidy); z++ {
		counts[z] = storedValueCount(z, int(g.NAlleles), g.Phased)
	}
	var nvalues uint64
	for _, z := range g.ploidy {
		nvalues += uint64(counts[z])
	}
	payloadBits := nvalues * uint64(g.NBits)
	if want := (payloadBits + 7) / 8; want != uint64(len(data)-pos) {
		return pfx.Err(fmt.Errorf("probability payload is %d bytes; the header implies %d", len(data)-pos, want))
	}

	g.ncombs = ncombs
	g.data = data
	g.probStart = pos

	return nil
}

// storedValueCount is how many probabilities a sample with the given ploidy
// stores; the last of each set is implied.
func storedValueCount(ploidy, nalleles int, phased bool) int {
	if phased {
		return ploidy * (nalleles - 1)
	}
	return Choose(ploidy+nalleles-1, nalleles-1) - 1
}

// NCombs is the number of probability columns, sized for the maximum ploidy.
func (g *Genotype) NCombs() int {
	return g.ncombs
}

// Ploidy returns a copy of the per-sample ploidy.
func (g *Genotype) Ploidy() []uint8 {
	out := make([]uint8, len(g.ploidy))
	copy(out, g.ploidy)
	return out
}

// Missing returns a copy of the per-sample missingness.
func (g *Genotype) Missing() []bool {
	out := make([]bool, len(g.missing))
	copy(out, g.missing)
	return out
}

// Close releases the decoded block. It does not close the BGEN. Closing more
// than once is a no-op.
func (g *Genotype) Close() error {
	if g == nil {
		return nil
	}
	g.closed = true
	g.data = nil
	return nil
}

func (g *Genotype) checkReadable(op string) error {
	if g == nil || g.closed {
		return errorf(KindData, op, "", "genotype is closed")
	}
	if err := g.b.checkOpen(op); err != nil {
		return err
	}
	return nil
}
