package cbgen

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Precision selects the floating point width of decoded probabilities.
type Precision int

const (
	Precision32 Precision = 32
	Precision64 Precision = 64
)

func (p Precision) valid() bool {
	return p == Precision32 || p == Precision64
}

func checkPrecision(op string, p Precision) error {
	if !p.valid() {
		return errorf(KindUsage, op, "", "precision should be either 64 or 32, got %d", int(p))
	}
	return nil
}

// Probabilities is a dense NSamples x NCombs matrix stored row-major. Exactly
// one of Float64 or Float32 is populated, according to Precision. Cells that
// do not apply to a sample (missing data, or a ploidy below the variant's
// maximum) are NaN.
type Probabilities struct {
	NSamples  int
	NCombs    int
	Precision Precision
	Float64   []float64
	Float32   []float32
}

// At returns the probability in row i, column j.
func (p *Probabilities) At(i, j int) float64 {
	if p.Precision == Precision32 {
		return float64(p.Float32[i*p.NCombs+j])
	}
	return p.Float64[i*p.NCombs+j]
}

// Row64 copies row i out as float64 values.
func (p *Probabilities) Row64(i int) []float64 {
	row := make([]float64, p.NCombs)
	for j := range row {
		row[j] = p.At(i, j)
	}
	return row
}

// Dense returns a gonum view of the matrix. For 64-bit probabilities the
// backing slice is shared; 32-bit probabilities are widened into a copy.
func (p *Probabilities) Dense() *mat.Dense {
	if p.NSamples == 0 || p.NCombs == 0 {
		return &mat.Dense{}
	}
	if p.Precision == Precision64 {
		return mat.NewDense(p.NSamples, p.NCombs, p.Float64)
	}
	wide := make([]float64, len(p.Float32))
	for i, v := range p.Float32 {
		wide[i] = float64(v)
	}
	return mat.NewDense(p.NSamples, p.NCombs, wide)
}

// Dosage returns, per sample, the expected count of the allele at index
// allele. Only meaningful for unphased diploid biallelic rows; other rows
// yield NaN.
func (p *Probabilities) Dosage(allele int) ([]float64, error) {
	if allele < 0 || allele > 1 {
		return nil, fmt.Errorf("allele index %d is out of range for a biallelic variant", allele)
	}
	out := make([]float64, p.NSamples)
	for i := range out {
		if p.NCombs != 3 {
			out[i] = math.NaN()
			continue
		}
		// Columns are AA, AB, BB for alleles A (0) and B (1)
		aa, ab, bb := p.At(i, 0), p.At(i, 1), p.At(i, 2)
		if allele == 0 {
			out[i] = 2*aa + ab
		} else {
			out[i] = ab + 2*bb
		}
	}
	return out, nil
}

// GenotypeData bundles everything ReadGenotype decodes for one variant.
type GenotypeData struct {
	Probabilities *Probabilities
	Phased        bool
	Ploidy        []uint8
	Missing       []bool
}
