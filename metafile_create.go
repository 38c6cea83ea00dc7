package cbgen

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/carbocation/pfx"
	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// EstimateBestPartitionCount suggests a partition count for a file with
// nvariants variants: enough partitions to keep each near sqrt(nvariants)
// variants, but none smaller than 128 variants unless the whole file is.
func EstimateBestPartitionCount(nvariants int) int {
	if nvariants <= 0 {
		return 1
	}

	target := int(math.Floor(math.Sqrt(float64(nvariants))))
	if small := min(128, nvariants); small > target {
		target = small
	}

	return max(1, nvariants/target)
}

// MetafileOptions controls CreateMetafileWithOptions.
type MetafileOptions struct {
	NPartitions int

	// Verbose draws a progress bar on Progress (default os.Stderr) and logs a
	// summary once the metafile is written.
	Verbose  bool
	Progress io.Writer
	Logger   logrus.FieldLogger
}

// CreateMetafile scans every variant record once and writes a metafile to
// path. The file appears atomically: on failure nothing is left at path.
func (b *BGEN) CreateMetafile(path string, npartitions int, verbose bool) error {
	return b.CreateMetafileWithOptions(path, MetafileOptions{
		NPartitions: npartitions,
		Verbose:     verbose,
	})
}

// CreateMetafileWithOptions is CreateMetafile with control over progress
// output and logging.
func (b *BGEN) CreateMetafileWithOptions(path string, opts MetafileOptions) (err error) {
	const op = "create metafile"
	if err := b.checkOpen(op); err != nil {
		return err
	}
	if opts.NPartitions < 1 {
		return errorf(KindUsage, op, path, "npartitions must be at least 1, got %d", opts.NPartitions)
	}
	if opts.Progress == nil {
		opts.Progress = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	started := time.Now()
	nvariants := b.NumVariants()
	size := ceilDiv(nvariants, opts.NPartitions)
	npartitions := 1
	if nvariants > 0 {
		// Asking for more partitions than variants would leave empty trailing
		// partitions; only as many as ceil(n/size) are ever written.
		npartitions = ceilDiv(nvariants, size)
	}

	pf, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return newError(KindIO, op, path, pfx.Err(err))
	}
	defer pf.Cleanup()

	mw, err := newMetafileWriter(pf, nvariants, npartitions)
	if err != nil {
		return newError(KindIO, op, path, err)
	}
	defer mw.enc.Close()

	var bar *progressbar.ProgressBar
	if opts.Verbose {
		bar = progressbar.NewOptions64(int64(nvariants),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("Writing metafile"),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(opts.Progress) }),
		)
	}

	vr := b.NewVariantReader()
	for part := 0; part < npartitions; part++ {
		vs := newVariants(size)
		for vs.Len() < size && vr.VariantsSeen < b.NVariants {
			v := vr.Read()
			if v == nil {
				break
			}
			vs.add(v)
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if err := vr.Error(); err != nil {
			return newError(KindData, op, b.FilePath, err)
		}
		if want := min(size, nvariants-part*size); vs.Len() != want {
			return errorf(KindData, op, b.FilePath, "partition %d: read %d variants, expected %d", part, vs.Len(), want)
		}

		if err := mw.writePartition(vs); err != nil {
			return newError(KindIO, op, path, err)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	nbytes, err := mw.finish()
	if err != nil {
		return newError(KindIO, op, path, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return newError(KindIO, op, path, pfx.Err(err))
	}

	if opts.Verbose {
		opts.Logger.WithFields(logrus.Fields{
			"path":       path,
			"variants":   humanize.Comma(int64(nvariants)),
			"partitions": npartitions,
			"size":       humanize.Bytes(nbytes),
			"elapsed":    time.Since(started).Round(time.Millisecond),
		}).Infoln("Wrote metafile")
	}

	return nil
}

type metafileWriter struct {
	w      *bufio.Writer
	enc    *zstd.Encoder
	offset uint64
	dir    []partitionEntry
}

func newMetafileWriter(w io.Writer, nvariants, npartitions int) (*metafileWriter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, pfx.Err(err)
	}

	mw := &metafileWriter{
		w:   bufio.NewWriter(w),
		enc: enc,
		dir: make([]partitionEntry, 0, npartitions),
	}

	var header bytes.Buffer
	header.WriteString(metafileMagic)
	putUint32(&header, metafileVersion)
	putUint32(&header, uint32(nvariants))
	putUint32(&header, uint32(npartitions))
	if err := mw.write(header.Bytes()); err != nil {
		enc.Close()
		return nil, err
	}

	return mw, nil
}

func (mw *metafileWriter) write(p []byte) error {
	if _, err := mw.w.Write(p); err != nil {
		return pfx.Err(err)
	}
	mw.offset += uint64(len(p))
	return nil
}

func (mw *metafileWriter) writePartition(vs *Variants) error {
	raw, err := encodeVariants(vs)
	if err != nil {
		return pfx.Err(err)
	}
	block := mw.enc.EncodeAll(raw, nil)

	mw.dir = append(mw.dir, partitionEntry{
		offset:    mw.offset,
		length:    uint64(len(block)),
		decoded:   uint64(len(raw)),
		nvariants: uint32(vs.Len()),
		checksum:  xxhash.Sum64(block),
	})

	return mw.write(block)
}

// finish writes the directory and footer, flushes, and returns the total
// size of the metafile.
func (mw *metafileWriter) finish() (uint64, error) {
	dirOffset := mw.offset
	var dir bytes.Buffer
	for _, e := range mw.dir {
		putUint64(&dir, e.offset)
		putUint64(&dir, e.length)
		putUint64(&dir, e.decoded)
		putUint32(&dir, e.nvariants)
		putUint64(&dir, e.checksum)
	}

	var footer bytes.Buffer
	putUint64(&footer, dirOffset)
	putUint64(&footer, xxhash.Sum64(dir.Bytes()))
	footer.WriteString(metafileEndMagic)

	if err := mw.write(dir.Bytes()); err != nil {
		return 0, err
	}
	if err := mw.write(footer.Bytes()); err != nil {
		return 0, err
	}
	if err := mw.w.Flush(); err != nil {
		return 0, pfx.Err(err)
	}

	return mw.offset, nil
}
