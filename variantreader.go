package cbgen

import (
	"encoding/binary"
	"fmt"

	"github.com/carbocation/pfx"
)

// VariantReader walks the variant records of a BGEN file. It decodes variant
// metadata and skips over genotype blocks without decompressing them.
type VariantReader struct {
	VariantsSeen  uint32
	b             *BGEN
	currentOffset uint64
	err           error

	// Cached values
	buffer []byte
}

func (b *BGEN) NewVariantReader() *VariantReader {
	vr := &VariantReader{
		currentOffset: uint64(b.VariantsStart),
		b:             b,
	}

	return vr
}

// Error returns the first error met by Read or ReadAt, if any.
func (vr *VariantReader) Error() error {
	return vr.err
}

// Read returns the next variant, or nil once all NVariants records have been
// read or an error has occurred (check Error).
func (vr *VariantReader) Read() *Variant {
	if vr.err != nil || vr.VariantsSeen >= vr.b.NVariants {
		return nil
	}
	if err := vr.b.checkOpen("read variant"); err != nil {
		vr.err = err
		return nil
	}

	v, newOffset, err := vr.parseVariantAtOffset(int64(vr.currentOffset))
	if err != nil {
		vr.err = newError(KindData, "read variant", vr.b.FilePath, fmt.Errorf("variant %d at offset %d: %w", vr.VariantsSeen, vr.currentOffset, err))
		return nil
	}

	vr.VariantsSeen++
	vr.currentOffset = uint64(newOffset)

	return v
}

// ReadAt parses the variant record that starts at offset, such as a .bgi
// file_start_position. It does not move the sequential position of Read.
func (vr *VariantReader) ReadAt(offset int64) *Variant {
	if err := vr.b.checkOpen("read variant"); err != nil {
		vr.err = err
		return nil
	}

	v, _, err := vr.parseVariantAtOffset(offset)
	if err != nil {
		vr.err = newError(KindData, "read variant", vr.b.FilePath, fmt.Errorf("variant at offset %d: %w", offset, err))
		return nil
	}

	return v
}

// parseVariantAtOffset does not mutate the VariantReader beyond its scratch
// buffer.
func (vr *VariantReader) parseVariantAtOffset(offset int64) (*Variant, int64, error) {
	v := &Variant{RecordOffset: uint64(offset)}
	var err error

	if vr.b.FlagLayout == Layout1 {
		// Layout1 repeats the sample count at the start of every record
		if err = vr.readNBytesAtOffset(4, offset); err != nil {
			return nil, offset, pfx.Err(err)
		}
		offset += 4
		if n := binary.LittleEndian.Uint32(vr.buffer[:4]); n != vr.b.NSamples {
			return nil, offset, pfx.Err(fmt.Errorf("record declares %d samples but the header declares %d", n, vr.b.NSamples))
		}
	}

	// ID:
	if v.ID, offset, err = vr.readString16(offset); err != nil {
		return nil, offset, pfx.Err(err)
	}

	// RSID
	if v.RSID, offset, err = vr.readString16(offset); err != nil {
		return nil, offset, pfx.Err(err)
	}

	// Chrom
	if v.Chromosome, offset, err = vr.readString16(offset); err != nil {
		return nil, offset, pfx.Err(err)
	}

	// Position
	if err = vr.readNBytesAtOffset(4, offset); err != nil {
		return nil, offset, pfx.Err(err)
	}
	offset += 4
	v.Position = binary.LittleEndian.Uint32(vr.buffer[:4])

	// NAlleles
	if vr.b.FlagLayout == Layout1 {
		// Assumed to be 2 in Layout1
		v.NAlleles = 2
	} else {
		if err = vr.readNBytesAtOffset(2, offset); err != nil {
			return nil, offset, pfx.Err(err)
		}
		offset += 2
		v.NAlleles = binary.LittleEndian.Uint16(vr.buffer[:2])
	}

	// Allele slice
	v.Alleles = make([]Allele, 0, v.NAlleles)
	for i := uint16(0); i < v.NAlleles; i++ {
		if err = vr.readNBytesAtOffset(4, offset); err != nil {
			return nil, offset, pfx.Err(err)
		}
		offset += 4
		alleleLength := int64(binary.LittleEndian.Uint32(vr.buffer[:4]))
		if offset+alleleLength > vr.b.Size {
			return nil, offset, pfx.Err(fmt.Errorf("allele %d declares %d bytes, past the end of the file", i, alleleLength))
		}

		if err = vr.readNBytesAtOffset(int(alleleLength), offset); err != nil {
			return nil, offset, pfx.Err(err)
		}
		offset += alleleLength
		v.Alleles = append(v.Alleles, Allele(string(vr.buffer[:alleleLength])))
	}

	// Genotype data
	v.Offset = uint64(offset)
	blockLength, err := vr.genotypeBlockLength(offset)
	if err != nil {
		return nil, offset, pfx.Err(err)
	}
	offset += blockLength
	if offset > vr.b.Size {
		return nil, offset, pfx.Err(fmt.Errorf("genotype block at %d declares %d bytes, past the end of the file", v.Offset, blockLength))
	}
	v.RecordSize = uint64(offset) - v.RecordOffset

	return v, offset, nil
}

// genotypeBlockLength reports how many bytes the genotype block starting at
// offset occupies, length fields included.
func (vr *VariantReader) genotypeBlockLength(offset int64) (int64, error) {
	if vr.b.FlagLayout == Layout1 && vr.b.FlagCompression == CompressionDisabled {
		// The BGEN docs: "If CompressedSNPBlocks=0 this field is omitted
		// and the length of the uncompressed data is C=6N."
		return 6 * int64(vr.b.NSamples), nil
	}

	// Every other combination starts with a 4 byte chunk that indicates how
	// much data is left for this block (skipping ahead by this much will
	// bring you to the next variant).
	if err := vr.readNBytesAtOffset(4, offset); err != nil {
		return 0, err
	}
	return 4 + int64(binary.LittleEndian.Uint32(vr.buffer[:4])), nil
}

func (vr *VariantReader) readString16(offset int64) (string, int64, error) {
	if err := vr.readNBytesAtOffset(2, offset); err != nil {
		return "", offset, err
	}
	offset += 2
	stringSize := int(binary.LittleEndian.Uint16(vr.buffer[:2]))
	if err := vr.readNBytesAtOffset(stringSize, offset); err != nil {
		return "", offset, err
	}
	return string(vr.buffer[:stringSize]), offset + int64(stringSize), nil
}

func (vr *VariantReader) readNBytesAtOffset(N int, offset int64) error {
	if vr.buffer == nil || len(vr.buffer) < N {
		vr.buffer = make([]byte, N)
	}

	return vr.b.parseAtOffsetWithBuffer(offset, vr.buffer[:N])
}
