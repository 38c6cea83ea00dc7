package cbgen

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/carbocation/pfx"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression indicates how (and whether) the SNP block probability is compressed
type Compression uint32

const (
	CompressionDisabled Compression = iota
	CompressionZLIB
	CompressionZStandard
)

func (c Compression) String() string {
	switch c {
	case CompressionDisabled:
		return "none"
	case CompressionZLIB:
		return "zlib"
	case CompressionZStandard:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint32(c))
	}
}

// A single decoder serves every handle: DecodeAll is safe for concurrent use.
// It never writes past the capacity of the destination it is handed.
var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func sharedZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil,
			zstd.WithDecodeAllCapLimit(true),
			zstd.WithDecoderMaxMemory(math.MaxUint32),
		)
	})
	return zstdDecoder, zstdDecoderErr
}

// decompress inflates src, which must expand to exactly size bytes.
func decompress(c Compression, src []byte, size int) ([]byte, error) {
	switch c {
	case CompressionZLIB:
		return decompressZLIB(src, size)
	case CompressionZStandard:
		return decompressZStandard(src, size)
	default:
		return nil, pfx.Err(fmt.Errorf("compression %s cannot be decompressed", c))
	}
}

func decompressZLIB(src []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer zr.Close()

	// The declared size comes from the file, so grow the buffer as the stream
	// delivers rather than trusting it up front. Reading to EOF also verifies
	// the trailing checksum.
	dst, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("zlib stream did not terminate cleanly: %w", err))
	}
	if len(dst) != size {
		return nil, pfx.Err(fmt.Errorf("zlib stream decompressed to %d bytes, expected %d", len(dst), size))
	}

	return dst, nil
}

// decompressZStandard decompresses Zstd compressed data for bgen13.
func decompressZStandard(src []byte, size int) ([]byte, error) {
	dec, err := sharedZstdDecoder()
	if err != nil {
		return nil, pfx.Err(err)
	}

	// A frame that states its own size must agree with the caller before
	// anything is allocated.
	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return nil, pfx.Err(err)
	}
	if h.HasFCS && h.FrameContentSize != uint64(size) {
		return nil, pfx.Err(fmt.Errorf("zstd frame declares %d bytes, expected %d", h.FrameContentSize, size))
	}

	var dst []byte
	if h.HasFCS {
		dst, err = dec.DecodeAll(src, make([]byte, 0, size))
	} else {
		// Without a stated size, grow as the stream delivers, as for zlib.
		var zr *zstd.Decoder
		zr, err = zstd.NewReader(bytes.NewReader(src), zstd.WithDecoderConcurrency(1))
		if err == nil {
			dst, err = io.ReadAll(io.LimitReader(zr, int64(size)+1))
			zr.Close()
		}
	}
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(dst) != size {
		return nil, pfx.Err(fmt.Errorf("zstd stream decompressed to %d bytes, expected %d", len(dst), size))
	}

	return dst, nil
}

func compress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionZLIB:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(src); err != nil {
			return nil, pfx.Err(err)
		}
		if err := zw.Close(); err != nil {
			return nil, pfx.Err(err)
		}
		return buf.Bytes(), nil
	case CompressionZStandard:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, pfx.Err(err)
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil
	default:
		return nil, pfx.Err(fmt.Errorf("compression %s cannot be compressed", c))
	}
}
