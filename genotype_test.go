package cbgen

import (
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadGenotypePhased(t *testing.T) {
	path, offsets := writeHaplotypes(t)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	for _, precision := range []Precision{Precision64, Precision32} {
		for i, offset := range offsets {
			gd, err := b.ReadGenotype(offset, precision)
			require.NoError(t, err)

			assert.True(t, gd.Phased)
			assert.Equal(t, []uint8{2, 2, 2, 2}, gd.Ploidy)
			assert.Equal(t, []bool{false, false, false, false}, gd.Missing)
			assert.Equal(t, precision, gd.Probabilities.Precision)
			requireRows(t, haplotypesRows[i], gd.Probabilities, 0)
		}
	}

	// Spot-check the first and last variants against literal values
	gd, err := b.ReadGenotype(offsets[0], Precision64)
	require.NoError(t, err)
	requireRows(t, [][]float64{
		{1, 0, 1, 0},
		{0, 1, 1, 0},
		{1, 0, 0, 1},
		{0, 1, 0, 1},
	}, gd.Probabilities, 0)

	probs, err := b.ReadProbability(offsets[3], Precision32)
	require.NoError(t, err)
	assert.Len(t, probs.Float32, 16)
	assert.Nil(t, probs.Float64)
	requireRows(t, [][]float64{
		{0, 1, 0, 1},
		{1, 0, 1, 0},
		{0, 1, 1, 0},
		{1, 0, 0, 1},
	}, probs, 0)
}

func TestReadGenotypeComplex(t *testing.T) {
	for _, c := range []Compression{CompressionZLIB, CompressionZStandard, CompressionDisabled} {
		t.Run(c.String(), func(t *testing.T) {
			path, offsets := writeComplex(t, c)

			b, err := Open(path)
			require.NoError(t, err)
			defer b.Close()

			const delta = 1e-6

			// Ploidy 1 leaves the third column unused
			gd, err := b.ReadGenotype(offsets[0], Precision64)
			require.NoError(t, err)
			assert.False(t, gd.Phased)
			assert.Equal(t, []uint8{1, 2, 2, 2}, gd.Ploidy)
			assert.Equal(t, []bool{false, false, false, false}, gd.Missing)
			requireRows(t, [][]float64{{1, 0, nan}, {1, 0, 0}, {1, 0, 0}, {0, 1, 0}}, gd.Probabilities, delta)

			probs, err := b.ReadProbability(offsets[0], Precision32)
			require.NoError(t, err)
			requireRows(t, [][]float64{{1, 0, nan}, {1, 0, 0}, {1, 0, 0}, {0, 1, 0}}, probs, delta)

			// A missing sample is a NaN row; the others still sum to one
			gd, err = b.ReadGenotype(offsets[1], Precision64)
			require.NoError(t, err)
			assert.Equal(t, []bool{false, true, false, false}, gd.Missing)
			requireRows(t, [][]float64{{0, 0, 1}, {nan, nan, nan}, {0.25, 0.5, 0.25}, {1, 0, 0}}, gd.Probabilities, delta)
			for _, i := range []int{0, 2, 3} {
				assert.InDelta(t, 1, floats(gd.Probabilities.Row64(i)).sum(), delta)
			}

			// Three alleles, diploid: six genotype combinations
			gd, err = b.ReadGenotype(offsets[2], Precision64)
			require.NoError(t, err)
			assert.Equal(t, 6, gd.Probabilities.NCombs)
			requireRows(t, complexVariants()[2].Probabilities, gd.Probabilities, delta)

			// Phased with a haploid sample: K * max ploidy columns
			gd, err = b.ReadGenotype(offsets[3], Precision64)
			require.NoError(t, err)
			assert.True(t, gd.Phased)
			requireRows(t, [][]float64{{1, 0, nan, nan}, {0, 1, 1, 0}, {1, 0, 1, 0}, {0, 1, 0, 1}}, gd.Probabilities, delta)

			gd, err = b.ReadGenotype(offsets[4], Precision64)
			require.NoError(t, err)
			assert.Equal(t, []uint8{3, 3, 3, 3}, gd.Ploidy)
			requireRows(t, complexVariants()[4].Probabilities, gd.Probabilities, delta)

			gd, err = b.ReadGenotype(offsets[5], Precision64)
			require.NoError(t, err)
			requireRows(t, complexVariants()[5].Probabilities, gd.Probabilities, delta)

			gd, err = b.ReadGenotype(offsets[8], Precision64)
			require.NoError(t, err)
			assert.Equal(t, []bool{true, true, true, true}, gd.Missing)
			for _, v := range gd.Probabilities.Float64 {
				assert.True(t, math.IsNaN(v))
			}

			for _, precision := range []Precision{Precision64, Precision32} {
				gd, err = b.ReadGenotype(offsets[9], precision)
				require.NoError(t, err)
				assert.False(t, gd.Phased)
				assert.Equal(t, []uint8{4, 4, 4, 4}, gd.Ploidy)
				requireRows(t, [][]float64{
					{1, 0, 0, 0, 0},
					{0, 1, 0, 0, 0},
					{0, 0, 1, 0, 0},
					{0, 0, 0, 1, 0},
				}, gd.Probabilities, delta)
			}
		})
	}
}

func TestReadGenotypeLayout1(t *testing.T) {
	for _, c := range []Compression{CompressionDisabled, CompressionZLIB} {
		t.Run(c.String(), func(t *testing.T) {
			path, offsets := writeLayout1(t, c)

			b, err := Open(path)
			require.NoError(t, err)
			defer b.Close()

			for i, offset := range offsets {
				gd, err := b.ReadGenotype(offset, Precision64)
				require.NoError(t, err)
				assert.False(t, gd.Phased)
				assert.Equal(t, []uint8{2, 2, 2}, gd.Ploidy)

				want := make([][]float64, len(layout1Rows[i]))
				for j, row := range layout1Rows[i] {
					assert.Equal(t, row == nil, gd.Missing[j])
					want[j] = row
					if row == nil {
						want[j] = []float64{nan, nan, nan}
					}
				}
				requireRows(t, want, gd.Probabilities, 0)
			}
		})
	}
}

func TestGenotypeHandle(t *testing.T) {
	path, offsets := writeComplex(t, CompressionZLIB)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	g, err := b.OpenGenotype(offsets[0])
	require.NoError(t, err)

	assert.Equal(t, uint32(4), g.NSamples)
	assert.Equal(t, uint16(2), g.NAlleles)
	assert.Equal(t, uint8(1), g.MinPloidy)
	assert.Equal(t, uint8(2), g.MaxPloidy)
	assert.Equal(t, uint8(23), g.NBits)
	assert.Equal(t, 3, g.NCombs())

	// Metadata can be asked for in any order, any number of times
	assert.Equal(t, []bool{false, false, false, false}, g.Missing())
	ploidy := g.Ploidy()
	ploidy[0] = 9
	assert.Equal(t, []uint8{1, 2, 2, 2}, g.Ploidy())

	p64, err := g.Read64()
	require.NoError(t, err)
	p32, err := g.Read32()
	require.NoError(t, err)
	for i := range p64 {
		if math.IsNaN(p64[i]) {
			assert.True(t, math.IsNaN(float64(p32[i])))
			continue
		}
		assert.InDelta(t, p64[i], float64(p32[i]), 1e-6)
	}

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	_, err = g.Read64()
	assert.ErrorIs(t, err, ErrData)
}

func TestReadGenotypeBadPrecision(t *testing.T) {
	path, offsets := writeComplex(t, CompressionZLIB)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ReadGenotype(offsets[9], 12)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = b.ReadProbability(offsets[9], 0)
	assert.ErrorIs(t, err, ErrUsage)

	g, err := b.OpenGenotype(offsets[9])
	require.NoError(t, err)
	defer g.Close()
	_, err = g.Read(16)
	assert.ErrorIs(t, err, ErrUsage)

	// Precision is checked before the offset
	_, err = b.ReadGenotype(1, 12)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestReadGenotypeInvalidOffsets(t *testing.T) {
	fixtures := []struct {
		name  string
		write func(t *testing.T) (string, []uint64)
	}{
		{"layout2 zlib", func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionZLIB) }},
		{"layout2 zstd", func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionZStandard) }},
		{"layout2 none", func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionDisabled) }},
		{"layout1 zlib", func(t *testing.T) (string, []uint64) { return writeLayout1(t, CompressionZLIB) }},
		{"layout1 none", func(t *testing.T) (string, []uint64) { return writeLayout1(t, CompressionDisabled) }},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			path, offsets := f.write(t)

			b, err := Open(path)
			require.NoError(t, err)
			defer b.Close()

			valid := make(map[uint64]bool)
			var highest uint64
			for _, o := range offsets {
				valid[o] = true
				if o > highest {
					highest = o
				}
			}

			for offset := uint64(0); offset <= highest; offset++ {
				_, err := b.ReadGenotype(offset, Precision64)
				if valid[offset] {
					assert.NoError(t, err, "offset %d", offset)
					continue
				}
				if !assert.ErrorIs(t, err, ErrInvalidOffset, "offset %d", offset) {
					return
				}
			}

			// Past the end of the file
			_, err = b.ReadGenotype(uint64(b.Size)+10, Precision64)
			assert.ErrorIs(t, err, ErrInvalidOffset)
		})
	}
}

// rewriteFile applies mutate to the bytes of the file at path.
func rewriteFile(t *testing.T, path string, mutate func([]byte) []byte) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, mutate(data), 0o644))
}

func TestReadGenotypeCorruptBlocks(t *testing.T) {
	// Layout 2 blocks open with C (u32). Compressed blocks follow it with D
	// (u32); uncompressed ones follow it with the 8 byte fixed header, one
	// ploidy byte per sample, then the phased and bits bytes.
	const payloadStart = 4 + 8 + 4 + 2

	cases := []struct {
		name   string
		write  func(t *testing.T) (string, []uint64)
		target int
		mutate func(data []byte, offset uint64) []byte
	}{
		{
			name:   "zlib declared size too large",
			write:  func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionZLIB) },
			target: 0,
			mutate: func(d []byte, o uint64) []byte {
				binary.LittleEndian.PutUint32(d[o+4:], binary.LittleEndian.Uint32(d[o+4:])+1)
				return d
			},
		},
		{
			name:   "zstd declared size too large",
			write:  func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionZStandard) },
			target: 0,
			mutate: func(d []byte, o uint64) []byte {
				binary.LittleEndian.PutUint32(d[o+4:], binary.LittleEndian.Uint32(d[o+4:])+1)
				return d
			},
		},
		{
			name:   "zlib stream cut short",
			write:  func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionZLIB) },
			target: 9,
			mutate: func(d []byte, o uint64) []byte {
				binary.LittleEndian.PutUint32(d[o:], binary.LittleEndian.Uint32(d[o:])-1)
				return d[:len(d)-1]
			},
		},
		{
			name:   "uncompressed payload cut short",
			write:  func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionDisabled) },
			target: 9,
			mutate: func(d []byte, o uint64) []byte {
				binary.LittleEndian.PutUint32(d[o:], binary.LittleEndian.Uint32(d[o:])-1)
				return d[:len(d)-1]
			},
		},
		{
			name:   "probabilities sum past one",
			write:  func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionDisabled) },
			target: 5,
			mutate: func(d []byte, o uint64) []byte {
				for i := uint64(0); i < 6; i++ {
					d[o+payloadStart+i] = 0xff
				}
				return d
			},
		},
		{
			name:   "layout1 probabilities sum past one",
			write:  func(t *testing.T) (string, []uint64) { return writeLayout1(t, CompressionDisabled) },
			target: 0,
			mutate: func(d []byte, o uint64) []byte {
				for i := uint64(0); i < 6; i++ {
					d[o+i] = 0xff
				}
				return d
			},
		},
		{
			name:   "phased columns past the limit",
			write:  func(t *testing.T) (string, []uint64) { return writeComplex(t, CompressionDisabled) },
			target: 9,
			mutate: func(d []byte, o uint64) []byte {
				// Four samples of ploidy 0, 65535 alleles, ploidy up to 63, phased
				var block []byte
				block = binary.LittleEndian.AppendUint32(block, 8+4+2)
				block = binary.LittleEndian.AppendUint32(block, 4)
				block = binary.LittleEndian.AppendUint16(block, 0xffff)
				block = append(block, 0, 63, 0, 0, 0, 0, 1, 8)
				return append(d[:o], block...)
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path, offsets := c.write(t)
			offset := offsets[c.target]
			rewriteFile(t, path, func(d []byte) []byte { return c.mutate(d, offset) })

			b, err := Open(path)
			require.NoError(t, err)
			defer b.Close()

			_, err = b.ReadGenotype(offset, Precision64)
			require.ErrorIs(t, err, ErrDecode)
			assert.NotErrorIs(t, err, ErrInvalidOffset)

			// A bad block fails the same way every time
			_, again := b.ReadGenotype(offset, Precision64)
			require.ErrorIs(t, again, ErrDecode)
			assert.Equal(t, err.Error(), again.Error())

			// Its neighbours are unaffected
			other := offsets[(c.target+1)%len(offsets)]
			_, err = b.ReadGenotype(other, Precision64)
			assert.NoError(t, err)
		})
	}
}

func TestProbabilitiesViews(t *testing.T) {
	path, offsets := writeComplex(t, CompressionZLIB)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	probs, err := b.ReadProbability(offsets[7], Precision32)
	require.NoError(t, err)

	m := probs.Dense()
	r, c := m.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)
	assert.InDelta(t, 1, m.At(2, 2), 1e-6)

	alt, err := probs.Dosage(1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 2, 2}, alt, 1e-6)

	_, err = probs.Dosage(2)
	assert.Error(t, err)
}

type floats []float64

func (f floats) sum() float64 {
	var s float64
	for _, v := range f {
		s += v
	}
	return s
}
