package cbgen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/carbocation/pfx"
	"github.com/cespare/xxhash/v2"
)

// Metafile layout, all little-endian:
//
//	header     "CBGENMTF" | version u32 | nvariants u32 | npartitions u32
//	blocks     one zstd-compressed column block per partition
//	directory  per partition: offset u64 | length u64 | decoded length u64 |
//	           nvariants u32 | xxhash64 u64
//	footer     directory offset u64 | xxhash64 of directory u64 | "CBGENEND"
const (
	metafileMagic    = "CBGENMTF"
	metafileEndMagic = "CBGENEND"
	metafileVersion  = 1

	metafileHeaderSize = 8 + 4 + 4 + 4
	metafileEntrySize  = 8 + 8 + 8 + 4 + 8
	metafileFooterSize = 8 + 8 + 8
)

type partitionEntry struct {
	offset    uint64
	length    uint64
	decoded   uint64
	nvariants uint32
	checksum  uint64
}

// Metafile is an open metafile. It is independent of the BGEN it was built
// from. ReadPartition may be called from several goroutines at once; Close
// must not race with them.
type Metafile struct {
	FilePath string

	file          *os.File
	nvariants     int
	npartitions   int
	partitionSize int
	dir           []partitionEntry
	closed        bool
}

// OpenMetafile opens and fully validates the metafile at path. Anything
// short of a well-formed file written by CreateMetafile, including a
// checksum mismatch in any partition block, fails with ErrOpen.
func OpenMetafile(path string) (*Metafile, error) {
	const op = "open metafile"

	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindOpen, op, path, err)
	}

	m := &Metafile{FilePath: path, file: f}
	if err := m.load(); err != nil {
		f.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindOpen, op, path, err)
		}
		return nil, newError(KindOpen, op, path, pfx.Err(err))
	}

	return m, nil
}

func (m *Metafile) load() error {
	stat, err := m.file.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size < metafileHeaderSize+metafileFooterSize {
		return fmt.Errorf("%d bytes is too short to be a metafile", size)
	}

	header := make([]byte, metafileHeaderSize)
	if _, err := m.file.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[:8]) != metafileMagic {
		return fmt.Errorf("bad magic %q", header[:8])
	}
	if v := binary.LittleEndian.Uint32(header[8:]); v != metafileVersion {
		return fmt.Errorf("unsupported metafile version %d", v)
	}
	m.nvariants = int(binary.LittleEndian.Uint32(header[12:]))
	m.npartitions = int(binary.LittleEndian.Uint32(header[16:]))
	if m.npartitions < 1 {
		return fmt.Errorf("metafile declares %d partitions", m.npartitions)
	}
	m.partitionSize = ceilDiv(m.nvariants, m.npartitions)

	footer := make([]byte, metafileFooterSize)
	if _, err := m.file.ReadAt(footer, size-metafileFooterSize); err != nil {
		return err
	}
	if string(footer[16:]) != metafileEndMagic {
		return fmt.Errorf("bad trailing magic %q", footer[16:])
	}
	dirOffset := binary.LittleEndian.Uint64(footer[0:])
	dirChecksum := binary.LittleEndian.Uint64(footer[8:])

	dirLength := uint64(m.npartitions) * metafileEntrySize
	if dirOffset < metafileHeaderSize || dirOffset+dirLength != uint64(size-metafileFooterSize) {
		return fmt.Errorf("directory at %d does not hold %d partitions in a %d byte file", dirOffset, m.npartitions, size)
	}

	dir := make([]byte, dirLength)
	if _, err := m.file.ReadAt(dir, int64(dirOffset)); err != nil {
		return err
	}
	if xxhash.Sum64(dir) != dirChecksum {
		return fmt.Errorf("directory checksum mismatch")
	}

	m.dir = make([]partitionEntry, m.npartitions)
	next := uint64(metafileHeaderSize)
	total := 0
	for i := range m.dir {
		e := dir[i*metafileEntrySize:]
		m.dir[i] = partitionEntry{
			offset:    binary.LittleEndian.Uint64(e[0:]),
			length:    binary.LittleEndian.Uint64(e[8:]),
			decoded:   binary.LittleEndian.Uint64(e[16:]),
			nvariants: binary.LittleEndian.Uint32(e[24:]),
			checksum:  binary.LittleEndian.Uint64(e[28:]),
		}
		entry := m.dir[i]

		// Blocks are contiguous and fill the space between header and
		// directory.
		if entry.offset != next || entry.length > dirOffset-next {
			return fmt.Errorf("partition %d block [%d, +%d) is out of place", i, entry.offset, entry.length)
		}
		next += entry.length

		if entry.decoded < 4 || entry.decoded > math.MaxUint32 {
			return fmt.Errorf("partition %d claims %d decoded bytes", i, entry.decoded)
		}

		if want := min(m.partitionSize, m.nvariants-i*m.partitionSize); int(entry.nvariants) != want {
			return fmt.Errorf("partition %d holds %d variants, expected %d", i, entry.nvariants, want)
		}
		total += int(entry.nvariants)
	}
	if next != dirOffset {
		return fmt.Errorf("%d unaccounted bytes before the directory", dirOffset-next)
	}
	if total != m.nvariants {
		return fmt.Errorf("partitions hold %d variants, header declares %d", total, m.nvariants)
	}

	var block []byte
	for i, entry := range m.dir {
		block, err = m.readBlock(entry, block)
		if err != nil {
			return fmt.Errorf("partition %d: %w", i, err)
		}
	}

	return nil
}

// readBlock reads and checksums a compressed partition block, reusing buf
// when it is large enough.
func (m *Metafile) readBlock(entry partitionEntry, buf []byte) ([]byte, error) {
	if uint64(cap(buf)) < entry.length {
		buf = make([]byte, entry.length)
	}
	buf = buf[:entry.length]

	if _, err := m.file.ReadAt(buf, int64(entry.offset)); err != nil {
		return nil, err
	}
	if xxhash.Sum64(buf) != entry.checksum {
		return nil, fmt.Errorf("block checksum mismatch")
	}

	return buf, nil
}

// NPartitions is the number of partitions actually stored.
func (m *Metafile) NPartitions() int { return m.npartitions }

// NVariants is the number of variants across all partitions.
func (m *Metafile) NVariants() int { return m.nvariants }

// PartitionSize is ceil(NVariants / NPartitions). Every partition but the
// last holds exactly this many variants.
func (m *Metafile) PartitionSize() int { return m.partitionSize }

// ReadPartition decodes partition index. Indices outside [0, NPartitions())
// fail with ErrRange.
func (m *Metafile) ReadPartition(index int) (*Partition, error) {
	const op = "read partition"
	if m == nil || m.closed {
		return nil, errorf(KindData, op, "", "metafile is closed")
	}
	if index < 0 || index >= m.npartitions {
		return nil, errorf(KindRange, op, m.FilePath, "partition %d is outside [0, %d)", index, m.npartitions)
	}

	entry := m.dir[index]
	block, err := m.readBlock(entry, nil)
	if err != nil {
		return nil, newError(KindData, op, m.FilePath, fmt.Errorf("partition %d: %w", index, err))
	}

	raw, err := decompressZStandard(block, int(entry.decoded))
	if err != nil {
		return nil, newError(KindData, op, m.FilePath, fmt.Errorf("partition %d: %w", index, err))
	}

	vs, err := decodeVariants(raw)
	if err != nil {
		return nil, newError(KindData, op, m.FilePath, fmt.Errorf("partition %d: %w", index, err))
	}
	if vs.Len() != int(entry.nvariants) {
		return nil, errorf(KindData, op, m.FilePath, "partition %d decoded %d variants, directory records %d", index, vs.Len(), entry.nvariants)
	}

	return &Partition{
		Index:    index,
		Offset:   uint64(m.partitionSize) * uint64(index),
		Variants: vs,
	}, nil
}

// Close releases the file. Closing more than once is a no-op.
func (m *Metafile) Close() error {
	if m == nil || m.closed {
		return nil
	}
	m.closed = true
	return m.file.Close()
}
