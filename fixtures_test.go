package cbgen

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

// writeTestBGEN writes variants to a new file under t.TempDir and returns its
// path with the genotype offset of every variant.
func writeTestBGEN(t *testing.T, name string, opts WriterOptions, variants []VariantRecord) (string, []uint64) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	w, err := CreateFile(path, opts)
	require.NoError(t, err)

	offsets := make([]uint64, 0, len(variants))
	for _, v := range variants {
		offset, err := w.WriteVariant(v)
		require.NoError(t, err)
		offsets = append(offsets, offset)
	}
	require.NoError(t, w.Close())

	return path, offsets
}

// haplotypes is four phased diploid samples over four biallelic SNPs, with
// sample IDs, zlib-compressed Layout2.
var haplotypesRows = [][][]float64{
	{{1, 0, 1, 0}, {0, 1, 1, 0}, {1, 0, 0, 1}, {0, 1, 0, 1}},
	{{0, 1, 1, 0}, {1, 0, 1, 0}, {0, 1, 0, 1}, {1, 0, 0, 1}},
	{{1, 0, 0, 1}, {0, 1, 0, 1}, {1, 0, 1, 0}, {0, 1, 1, 0}},
	{{0, 1, 0, 1}, {1, 0, 1, 0}, {0, 1, 1, 0}, {1, 0, 0, 1}},
}

func writeHaplotypes(t *testing.T) (string, []uint64) {
	t.Helper()

	variants := make([]VariantRecord, len(haplotypesRows))
	for i, rows := range haplotypesRows {
		variants[i] = VariantRecord{
			ID:            fmt.Sprintf("SNP%d", i+1),
			RSID:          fmt.Sprintf("RS%d", i+1),
			Chromosome:    "1",
			Position:      uint32(i + 1),
			Alleles:       []string{"A", "G"},
			Phased:        true,
			Bits:          16,
			Probabilities: rows,
		}
	}

	return writeTestBGEN(t, "haplotypes.bgen", WriterOptions{
		Layout:      Layout2,
		Compression: CompressionZLIB,
		NSamples:    4,
		SampleIDs:   [][]byte{[]byte("sample_0"), []byte("sample_1"), []byte("sample_2"), []byte("sample_3")},
	}, variants)
}

// complexVariants mixes ploidies, allele counts, phasing and missingness
// across four samples at 23 bits.
func complexVariants() []VariantRecord {
	diploid := func(pos uint32, rows [][]float64) VariantRecord {
		return VariantRecord{
			RSID:          fmt.Sprintf("V%d", pos),
			Chromosome:    "01",
			Position:      pos,
			Alleles:       []string{"A", "G"},
			Bits:          23,
			Probabilities: rows,
		}
	}

	v1 := diploid(1, [][]float64{{1, 0}, {1, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	v1.Ploidy = []uint8{1, 2, 2, 2}

	v2 := diploid(2, [][]float64{{0, 0, 1}, nil, {0.25, 0.5, 0.25}, {1, 0, 0}})
	v2.Missing = []bool{false, true, false, false}

	v3 := diploid(3, [][]float64{
		{1, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 1},
		{0, 1, 0, 0, 0, 0},
		{0, 0, 0, 1, 0, 0},
	})
	v3.Alleles = []string{"A", "G", "T"}

	v4 := diploid(4, [][]float64{{1, 0}, {0, 1, 1, 0}, {1, 0, 1, 0}, {0, 1, 0, 1}})
	v4.Phased = true
	v4.Ploidy = []uint8{1, 2, 2, 2}

	v5 := diploid(5, [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}})
	v5.Ploidy = []uint8{3, 3, 3, 3}

	v6 := diploid(6, [][]float64{{0.1, 0.2, 0.7}, {0.3, 0.3, 0.4}, {0, 0, 1}, {1, 0, 0}})
	v7 := diploid(7, [][]float64{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}})
	v8 := diploid(8, [][]float64{{1, 0, 0}, {1, 0, 0}, {0, 0, 1}, {0, 0, 1}})

	v9 := diploid(9, [][]float64{nil, nil, nil, nil})
	v9.Missing = []bool{true, true, true, true}

	v10 := diploid(10, [][]float64{
		{1, 0, 0, 0, 0},
		{0, 1, 0, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 1, 0},
	})
	v10.Ploidy = []uint8{4, 4, 4, 4}

	return []VariantRecord{v1, v2, v3, v4, v5, v6, v7, v8, v9, v10}
}

func writeComplex(t *testing.T, compression Compression) (string, []uint64) {
	t.Helper()

	return writeTestBGEN(t, "complex.23bits.no.samples.bgen", WriterOptions{
		Layout:      Layout2,
		Compression: compression,
		NSamples:    4,
	}, complexVariants())
}

// writeMany writes n unphased diploid biallelic variants over two samples.
func writeMany(t *testing.T, n int) string {
	t.Helper()

	variants := make([]VariantRecord, n)
	for i := range variants {
		variants[i] = VariantRecord{
			ID:            fmt.Sprintf("sid_%d", i),
			RSID:          fmt.Sprintf("rs%d", i),
			Chromosome:    "1",
			Position:      uint32(i + 1),
			Alleles:       []string{"A", "C"},
			Bits:          8,
			Probabilities: [][]float64{{1, 0, 0}, {0, 0, 1}},
		}
	}

	path, _ := writeTestBGEN(t, "many.bgen", WriterOptions{
		Compression: CompressionZStandard,
		NSamples:    2,
	}, variants)

	return path
}

// requireRows compares a probability matrix row by row, treating NaN as equal
// to NaN.
func requireRows(t *testing.T, want [][]float64, got *Probabilities, delta float64) {
	t.Helper()

	require.Equal(t, len(want), got.NSamples)
	for i, row := range want {
		require.Len(t, row, got.NCombs, "row %d", i)
		for j, w := range row {
			g := got.At(i, j)
			if math.IsNaN(w) {
				require.True(t, math.IsNaN(g), "row %d col %d: want NaN, got %v", i, j, g)
				continue
			}
			require.InDelta(t, w, g, delta, "row %d col %d", i, j)
		}
	}
}

var layout1Rows = [][][]float64{
	{{1, 0, 0}, {0.5, 0.25, 0.25}, nil},
	{{0, 1, 0}, {0, 0, 1}, {0.125, 0.375, 0.5}},
	{nil, {0.75, 0.25, 0}, {0, 0, 1}},
}

// writeLayout1 writes three BGEN 1.1 variants over three samples; the nil
// rows are missing.
func writeLayout1(t *testing.T, compression Compression) (string, []uint64) {
	t.Helper()

	variants := make([]VariantRecord, len(layout1Rows))
	for i, rows := range layout1Rows {
		missing := make([]bool, len(rows))
		for j, row := range rows {
			missing[j] = row == nil
		}
		variants[i] = VariantRecord{
			ID:            fmt.Sprintf("v%d", i),
			RSID:          fmt.Sprintf("rs%d", i),
			Chromosome:    "22",
			Position:      uint32(1000 * (i + 1)),
			Alleles:       []string{"A", "AT"},
			Missing:       missing,
			Probabilities: rows,
		}
	}

	return writeTestBGEN(t, "layout1.bgen", WriterOptions{
		Layout:      Layout1,
		Compression: compression,
		NSamples:    3,
		SampleIDs:   [][]byte{[]byte("a"), []byte("b"), []byte("c")},
	}, variants)
}
