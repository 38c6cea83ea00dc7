package cbgen

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/carbocation/genomisc"
	"github.com/carbocation/pfx"
)

// MagicNumber contains the value required to confirm that a file is BGEN-conformant
const MagicNumber = "bgen"

const (
	offsetVariant        = 0
	offsetHeaderLength   = 4
	offsetNumberVariants = 8
	offsetNumberSamples  = 12
	offsetMagicNumber    = 16
	offsetFreeStorage    = 20

	// The header block must at least hold the fields above plus the flags.
	minHeaderLength = 20
)

const (
	flagCompressionMask = 3
	flagLayoutMask      = 15 << 2
	flagSampleIDsBit    = 31
)

// BGEN is the main object used for parsing BGEN files. A BGEN is not safe for
// concurrent use; open one handle per goroutine.
type BGEN struct {
	FilePath         string
	File             genomisc.ReaderAtCloser
	Size             int64
	NVariants        uint32
	NSamples         uint32
	FlagCompression  Compression
	FlagLayout       Layout
	FlagHasSampleIDs bool
	HeaderLength     uint32
	FreeData         []byte
	SamplesStart     uint32
	VariantsStart    uint32

	closed bool

	// Genotype block starts in file order, filled by the first OpenGenotype
	genotypeOffsets []uint64
	offsetsIndexed  bool
	offsetsErr      error
}

// Open attempts to read a bgen file located at path. If successful,
// this returns a new BGEN object. Otherwise, it returns an error.
func Open(path string) (*BGEN, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, newError(KindOpen, "open", path, err)
	}

	fstat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, newError(KindOpen, "open", path, pfx.Err(err))
	}

	return OpenReaderAt(path, file, fstat.Size())
}

// OpenReaderAt parses the BGEN header served by r, which holds size bytes. On
// success the returned BGEN owns r and closes it on Close. On failure r is
// closed before returning.
func OpenReaderAt(name string, r genomisc.ReaderAtCloser, size int64) (*BGEN, error) {
	b := &BGEN{
		FilePath: name,
		File:     r,
		Size:     size,
	}

	if err := populateBGENHeader(b); err != nil {
		r.Close()
		return nil, newError(KindOpen, "open", name, err)
	}

	return b, nil
}

func populateBGENHeader(b *BGEN) error {
	if b.Size < offsetFreeStorage+4 {
		return pfx.Err(fmt.Errorf("file holds %d bytes, too few for a BGEN header", b.Size))
	}

	buffer := make([]byte, offsetFreeStorage)
	if err := b.parseAtOffsetWithBuffer(0, buffer); err != nil {
		return pfx.Err(err)
	}

	variantOffset := binary.LittleEndian.Uint32(buffer[offsetVariant:])
	b.HeaderLength = binary.LittleEndian.Uint32(buffer[offsetHeaderLength:])
	b.NVariants = binary.LittleEndian.Uint32(buffer[offsetNumberVariants:])
	b.NSamples = binary.LittleEndian.Uint32(buffer[offsetNumberSamples:])

	// Older writers may leave the magic number zeroed; the format allows it.
	magic := buffer[offsetMagicNumber : offsetMagicNumber+4]
	if MagicNumber != string(magic) && string(magic) != "\x00\x00\x00\x00" {
		return pfx.Err(fmt.Errorf("The BGEN header value at offset %d is expected to resolve to the Magic Number %s (%v when printed as a byte slice), but instead resolved to byte slice %v", offsetMagicNumber, MagicNumber, []byte(MagicNumber), magic))
	}

	if b.HeaderLength < minHeaderLength {
		return pfx.Err(fmt.Errorf("header length %d is smaller than the minimum of %d", b.HeaderLength, minHeaderLength))
	}
	if b.HeaderLength > variantOffset {
		return pfx.Err(fmt.Errorf("header length %d exceeds the variant data offset %d", b.HeaderLength, variantOffset))
	}
	if int64(variantOffset)+4 > b.Size {
		return pfx.Err(fmt.Errorf("variant data offset %d lies beyond the end of the %d byte file", variantOffset, b.Size))
	}

	// The header block begins at byte 4, so the flags occupy its final four
	// bytes at absolute offset HeaderLength.
	if free := int(b.HeaderLength) - minHeaderLength; free > 0 {
		b.FreeData = make([]byte, free)
		if err := b.parseAtOffsetWithBuffer(offsetFreeStorage, b.FreeData); err != nil {
			return pfx.Err(err)
		}
	}

	flagBuffer := buffer[:4]
	if err := b.parseAtOffsetWithBuffer(int64(b.HeaderLength), flagBuffer); err != nil {
		return pfx.Err(err)
	}
	flags := binary.LittleEndian.Uint32(flagBuffer)
	b.FlagCompression = Compression(flags & flagCompressionMask)
	b.FlagLayout = Layout((flags & flagLayoutMask) >> 2)
	b.FlagHasSampleIDs = (flags>>flagSampleIDsBit)&1 == 1

	switch b.FlagLayout {
	case Layout1:
		if b.FlagCompression != CompressionDisabled && b.FlagCompression != CompressionZLIB {
			return pfx.Err(fmt.Errorf("Compression choice %s is not compatible with Layout %s", b.FlagCompression, b.FlagLayout))
		}
	case Layout2:
		if b.FlagCompression > CompressionZStandard {
			return pfx.Err(fmt.Errorf("Compression choice %s is not supported", b.FlagCompression))
		}
	default:
		return pfx.Err(fmt.Errorf("Layout %d is not supported", uint32(b.FlagLayout)))
	}

	b.SamplesStart = b.HeaderLength + 4
	b.VariantsStart = variantOffset + 4

	return nil
}

// NumVariants is the number of variants declared in the header.
func (b *BGEN) NumVariants() int { return int(b.NVariants) }

// NumSamples is the number of samples declared in the header.
func (b *BGEN) NumSamples() int { return int(b.NSamples) }

// ContainsSamples reports whether the file carries a sample identifier block.
func (b *BGEN) ContainsSamples() bool { return b.FlagHasSampleIDs }

// Version is the BGEN format version: "1.1", "1.2" or "1.3".
func (b *BGEN) Version() string { return Version(b.FlagLayout, b.FlagCompression) }

// Close releases the underlying file. Closing more than once is a no-op.
func (b *BGEN) Close() error {
	if b == nil || b.closed {
		return nil
	}
	b.closed = true
	if b.File == nil {
		return nil
	}
	if err := b.File.Close(); err != nil {
		return newError(KindData, "close", b.FilePath, pfx.Err(err))
	}
	return nil
}

func (b *BGEN) checkOpen(op string) error {
	if b == nil || b.closed || b.File == nil {
		path := ""
		if b != nil {
			path = b.FilePath
		}
		return errorf(KindData, op, path, "bgen file is closed")
	}
	return nil
}

func (b *BGEN) parseAtOffsetWithBuffer(offset int64, buffer []byte) error {
	if offset < 0 || offset+int64(len(buffer)) > b.Size {
		return pfx.Err(fmt.Errorf("reading %d bytes at offset %d runs past the end of the %d byte file: %w", len(buffer), offset, b.Size, io.ErrUnexpectedEOF))
	}

	_, err := b.File.ReadAt(buffer, offset)
	if err != nil && err != io.EOF {
		return pfx.Err(err)
	}

	return nil
}
