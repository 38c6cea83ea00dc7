package cbgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/carbocation/pfx"
)

// WriterOptions describes the file a Writer produces.
type WriterOptions struct {
	Layout      Layout // Layout2 when zero
	Compression Compression
	NSamples    uint32

	// SampleIDs, when non-nil, must hold NSamples identifiers and is written
	// as the sample block.
	SampleIDs [][]byte
	FreeData  []byte
}

// VariantRecord is one variant to be written.
type VariantRecord struct {
	ID         string
	RSID       string
	Chromosome string
	Position   uint32
	Alleles    []string

	// Layout2 only. Bits defaults to 16; Ploidy defaults to 2 for every
	// sample.
	Phased bool
	Bits   uint8
	Ploidy []uint8

	// Missing samples are written with zeroed probabilities; their rows in
	// Probabilities are ignored.
	Missing []bool

	// Probabilities holds one row per sample. Unphased rows carry one value
	// per genotype combination of the sample's own ploidy; phased rows carry
	// nalleles values per haplotype.
	Probabilities [][]float64
}

// Writer writes a BGEN file. The variant count in the header is patched on
// Close, so the underlying writer must be seekable.
type Writer struct {
	w         io.WriteSeeker
	closer    io.Closer
	opts      WriterOptions
	nvariants uint32
	offset    int64
	closed    bool
}

// CreateFile creates path and returns a Writer that closes it on Close.
func CreateFile(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, pfx.Err(err)
	}

	w, err := NewWriter(f, opts)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	w.closer = f

	return w, nil
}

// NewWriter writes the header and optional sample block to w.
func NewWriter(w io.WriteSeeker, opts WriterOptions) (*Writer, error) {
	if opts.Layout == 0 {
		opts.Layout = Layout2
	}
	switch opts.Layout {
	case Layout1:
		if opts.Compression != CompressionDisabled && opts.Compression != CompressionZLIB {
			return nil, pfx.Err(fmt.Errorf("Compression choice %s is not compatible with Layout %s", opts.Compression, opts.Layout))
		}
	case Layout2:
		if opts.Compression > CompressionZStandard {
			return nil, pfx.Err(fmt.Errorf("Compression choice %s is not supported", opts.Compression))
		}
	default:
		return nil, pfx.Err(fmt.Errorf("Layout %d is not supported", uint32(opts.Layout)))
	}
	if opts.SampleIDs != nil && len(opts.SampleIDs) != int(opts.NSamples) {
		return nil, pfx.Err(fmt.Errorf("%d sample IDs given for %d samples", len(opts.SampleIDs), opts.NSamples))
	}

	headerLength := uint32(minHeaderLength + len(opts.FreeData))

	var samples bytes.Buffer
	if opts.SampleIDs != nil {
		var blockLength uint32 = 8
		for _, id := range opts.SampleIDs {
			if len(id) > math.MaxUint16 {
				return nil, pfx.Err(fmt.Errorf("sample ID of %d bytes is too long", len(id)))
			}
			blockLength += 2 + uint32(len(id))
		}
		putUint32(&samples, blockLength)
		putUint32(&samples, opts.NSamples)
		for _, id := range opts.SampleIDs {
			putUint16(&samples, uint16(len(id)))
			samples.Write(id)
		}
	}

	flags := uint32(opts.Compression) | uint32(opts.Layout)<<2
	if opts.SampleIDs != nil {
		flags |= 1 << flagSampleIDsBit
	}

	var header bytes.Buffer
	putUint32(&header, headerLength+uint32(samples.Len()))
	putUint32(&header, headerLength)
	putUint32(&header, 0) // variant count, patched on Close
	putUint32(&header, opts.NSamples)
	header.WriteString(MagicNumber)
	header.Write(opts.FreeData)
	putUint32(&header, flags)
	header.Write(samples.Bytes())

	bw := &Writer{w: w, opts: opts}
	if err := bw.write(header.Bytes()); err != nil {
		return nil, err
	}

	return bw, nil
}

// NVariants is the number of variants written so far.
func (w *Writer) NVariants() uint32 {
	return w.nvariants
}

// WriteVariant appends a variant and returns the offset of its genotype
// block.
func (w *Writer) WriteVariant(v VariantRecord) (uint64, error) {
	if w.closed {
		return 0, pfx.Err(fmt.Errorf("writer is closed"))
	}

	var rec bytes.Buffer
	if w.opts.Layout == Layout1 {
		if len(v.Alleles) != 2 {
			return 0, pfx.Err(fmt.Errorf("Layout1 requires exactly 2 alleles, got %d", len(v.Alleles)))
		}
		putUint32(&rec, w.opts.NSamples)
	} else if len(v.Alleles) < 2 || len(v.Alleles) > math.MaxUint16 {
		return 0, pfx.Err(fmt.Errorf("a variant needs between 2 and %d alleles, got %d", math.MaxUint16, len(v.Alleles)))
	}

	for _, s := range []string{v.ID, v.RSID, v.Chromosome} {
		if len(s) > math.MaxUint16 {
			return 0, pfx.Err(fmt.Errorf("identifier of %d bytes is too long", len(s)))
		}
		putUint16(&rec, uint16(len(s)))
		rec.WriteString(s)
	}
	putUint32(&rec, v.Position)
	if w.opts.Layout == Layout2 {
		putUint16(&rec, uint16(len(v.Alleles)))
	}
	for _, a := range v.Alleles {
		putUint32(&rec, uint32(len(a)))
		rec.WriteString(a)
	}

	if v.Missing != nil && len(v.Missing) != int(w.opts.NSamples) {
		return 0, pfx.Err(fmt.Errorf("%d missingness values given for %d samples", len(v.Missing), w.opts.NSamples))
	}

	var block []byte
	var err error
	if w.opts.Layout == Layout1 {
		block, err = w.layout1Block(v)
	} else {
		block, err = w.layout2Block(v)
	}
	if err != nil {
		return 0, err
	}

	genotypeOffset := uint64(w.offset) + uint64(rec.Len())
	rec.Write(block)
	if err := w.write(rec.Bytes()); err != nil {
		return 0, err
	}
	w.nvariants++

	return genotypeOffset, nil
}

func (w *Writer) layout1Block(v VariantRecord) ([]byte, error) {
	n := int(w.opts.NSamples)
	if len(v.Probabilities) != n {
		return nil, pfx.Err(fmt.Errorf("%d probability rows given for %d samples", len(v.Probabilities), n))
	}
	if v.Phased {
		return nil, pfx.Err(fmt.Errorf("Layout1 cannot store phased data"))
	}

	if v.Ploidy != nil && len(v.Ploidy) != n {
		return nil, pfx.Err(fmt.Errorf("%d ploidy values given for %d samples", len(v.Ploidy), n))
	}

	raw := make([]byte, 0, layout1BytesPerSample*n)
	for i, row := range v.Probabilities {
		if v.Ploidy != nil && v.Ploidy[i] != 2 {
			return nil, pfx.Err(fmt.Errorf("Layout1 is diploid only; sample %d has ploidy %d", i, v.Ploidy[i]))
		}
		if v.Missing != nil && v.Missing[i] {
			raw = append(raw, 0, 0, 0, 0, 0, 0)
			continue
		}
		if len(row) != 3 {
			return nil, pfx.Err(fmt.Errorf("sample %d: Layout1 rows hold 3 probabilities, got %d", i, len(row)))
		}
		for _, p := range row {
			if math.IsNaN(p) || p < 0 || p > 1+quantizeTolerance {
				return nil, pfx.Err(fmt.Errorf("sample %d: probability %v is out of range", i, p))
			}
			raw = binary.LittleEndian.AppendUint16(raw, uint16(math.Min(math.Round(p*layout1Scale), math.MaxUint16)))
		}
	}

	if w.opts.Compression == CompressionDisabled {
		return raw, nil
	}

	compressed, err := compress(CompressionZLIB, raw)
	if err != nil {
		return nil, err
	}
	var block bytes.Buffer
	putUint32(&block, uint32(len(compressed)))
	block.Write(compressed)
	return block.Bytes(), nil
}

func (w *Writer) layout2Block(v VariantRecord) ([]byte, error) {
	n := int(w.opts.NSamples)
	nalleles := len(v.Alleles)
	if len(v.Probabilities) != n {
		return nil, pfx.Err(fmt.Errorf("%d probability rows given for %d samples", len(v.Probabilities), n))
	}

	bits := int(v.Bits)
	if bits == 0 {
		bits = 16
	}
	if bits > 32 {
		return nil, pfx.Err(fmt.Errorf("probabilities use %d bits; must be 1-32", bits))
	}

	ploidy := v.Ploidy
	if ploidy == nil {
		ploidy = make([]uint8, n)
		for i := range ploidy {
			ploidy[i] = 2
		}
	}
	if len(ploidy) != n {
		return nil, pfx.Err(fmt.Errorf("%d ploidy values given for %d samples", len(ploidy), n))
	}

	var minP, maxP uint8 = maxPloidy, 0
	if n == 0 {
		minP = 0
	}
	for _, z := range ploidy {
		if z > maxPloidy {
			return nil, pfx.Err(fmt.Errorf("ploidy %d exceeds %d", z, maxPloidy))
		}
		if z < minP {
			minP = z
		}
		if z > maxP {
			maxP = z
		}
	}

	var data bytes.Buffer
	putUint32(&data, uint32(n))
	putUint16(&data, uint16(nalleles))
	data.WriteByte(minP)
	data.WriteByte(maxP)
	for i, z := range ploidy {
		if v.Missing != nil && v.Missing[i] {
			z |= missingMask
		}
		data.WriteByte(z)
	}
	if v.Phased {
		data.WriteByte(1)
	} else {
		data.WriteByte(0)
	}
	data.WriteByte(uint8(bits))

	bitw := &bitWriter{}
	for i, row := range v.Probabilities {
		z := int(ploidy[i])
		nstored := storedValueCount(z, nalleles, v.Phased)
		if v.Missing != nil && v.Missing[i] {
			for j := 0; j < nstored; j++ {
				bitw.WriteUint(0, bits)
			}
			continue
		}

		nsets, setSize := 1, nstored+1
		if v.Phased {
			nsets, setSize = z, nalleles
		}
		if len(row) != nsets*setSize {
			return nil, pfx.Err(fmt.Errorf("sample %d: expected %d probabilities, got %d", i, nsets*setSize, len(row)))
		}

		for s := 0; s < nsets; s++ {
			q, err := quantize(row[s*setSize:(s+1)*setSize], bits)
			if err != nil {
				return nil, pfx.Err(fmt.Errorf("sample %d: %w", i, err))
			}
			// The last value of each set is implied
			for _, val := range q[:setSize-1] {
				bitw.WriteUint(val, bits)
			}
		}
	}
	data.Write(bitw.Bytes())

	var block bytes.Buffer
	if w.opts.Compression == CompressionDisabled {
		putUint32(&block, uint32(data.Len()))
		block.Write(data.Bytes())
		return block.Bytes(), nil
	}

	compressed, err := compress(w.opts.Compression, data.Bytes())
	if err != nil {
		return nil, err
	}
	putUint32(&block, uint32(len(compressed)+4))
	putUint32(&block, uint32(data.Len()))
	block.Write(compressed)
	return block.Bytes(), nil
}

// Close patches the variant count into the header. If the Writer was made by
// CreateFile the file is closed too. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.patchVariantCount()
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = pfx.Err(cerr)
		}
	}

	return err
}

func (w *Writer) patchVariantCount() error {
	if _, err := w.w.Seek(offsetNumberVariants, io.SeekStart); err != nil {
		return pfx.Err(err)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w.nvariants)
	if _, err := w.w.Write(buf[:]); err != nil {
		return pfx.Err(err)
	}
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return pfx.Err(err)
	}
	return nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	if err != nil {
		return pfx.Err(err)
	}
	return nil
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
