package cbgen

import (
	"encoding/binary"
	"fmt"

	"github.com/carbocation/pfx"
)

// Sample holds one identifier from the sample block. The bytes are kept as
// stored; identifiers are not guaranteed to be valid UTF-8.
type Sample struct {
	SampleID []byte
}

func (s Sample) String() string {
	return string(s.SampleID)
}

// ReadSamples decodes the sample identifier block.
func ReadSamples(b *BGEN) ([]Sample, error) {
	ids, err := b.ReadSampleIDs()
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, len(ids))
	for i, id := range ids {
		samples[i] = Sample{SampleID: id}
	}

	return samples, nil
}

// ReadSampleIDs decodes the sample identifier block into one byte string per
// sample, in file order.
func (b *BGEN) ReadSampleIDs() ([][]byte, error) {
	if err := b.checkOpen("read samples"); err != nil {
		return nil, err
	}

	if !b.FlagHasSampleIDs {
		return nil, errorf(KindData, "read samples", b.FilePath, "This file indicates that it does not have sample IDs")
	}

	ids, err := readSampleBlock(b)
	if err != nil {
		return nil, newError(KindData, "read samples", b.FilePath, err)
	}

	return ids, nil
}

func readSampleBlock(b *BGEN) ([][]byte, error) {
	// SamplesStart is at sample_block_length, and SamplesStart+4 is at number_samples
	header := make([]byte, 8)
	if err := b.parseAtOffsetWithBuffer(int64(b.SamplesStart), header); err != nil {
		return nil, pfx.Err(err)
	}
	blockLength := binary.LittleEndian.Uint32(header[:4])
	nSamples := binary.LittleEndian.Uint32(header[4:])

	if nSamples != b.NSamples {
		return nil, pfx.Err(fmt.Errorf("sample block declares %d samples but the header declares %d", nSamples, b.NSamples))
	}

	blockEnd := int64(b.SamplesStart) + int64(blockLength)
	if blockLength < 8 || blockEnd > int64(b.VariantsStart) {
		return nil, pfx.Err(fmt.Errorf("sample block length %d does not fit between offset %d and the variant data", blockLength, b.SamplesStart))
	}

	// One read for the whole block; identifiers are sliced out of it.
	block := make([]byte, blockLength-8)
	if err := b.parseAtOffsetWithBuffer(int64(b.SamplesStart)+8, block); err != nil {
		return nil, pfx.Err(err)
	}

	ids := make([][]byte, 0, nSamples)
	pos := 0
	for i := uint32(0); i < nSamples; i++ {
		if pos+2 > len(block) {
			return nil, pfx.Err(fmt.Errorf("sample %d: length prefix runs past the end of the sample block", i))
		}
		sampleTextSize := int(binary.LittleEndian.Uint16(block[pos:]))
		pos += 2

		if pos+sampleTextSize > len(block) {
			return nil, pfx.Err(fmt.Errorf("sample %d: declared length %d exceeds the %d bytes remaining in the sample block", i, sampleTextSize, len(block)-pos))
		}

		// Copy so that the block buffer is not retained by callers
		id := make([]byte, sampleTextSize)
		copy(id, block[pos:pos+sampleTextSize])
		ids = append(ids, id)
		pos += sampleTextSize
	}

	return ids, nil
}
