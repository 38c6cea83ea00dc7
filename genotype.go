package cbgen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/carbocation/pfx"
)

type float interface {
	float32 | float64
}

// Read decodes the probability matrix at the requested precision. Any
// precision other than Precision32 or Precision64 fails with ErrUsage before
// the block is touched.
func (g *Genotype) Read(precision Precision) (*Probabilities, error) {
	const op = "read genotype"
	if err := checkPrecision(op, precision); err != nil {
		return nil, err
	}

	p := &Probabilities{
		NSamples:  int(g.NSamples),
		NCombs:    g.ncombs,
		Precision: precision,
	}

	var err error
	if precision == Precision64 {
		p.Float64, err = g.Read64()
	} else {
		p.Float32, err = g.Read32()
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Read64 decodes the probabilities as a row-major NSamples x NCombs slice.
func (g *Genotype) Read64() ([]float64, error) {
	return readProbabilities[float64](g)
}

// Read32 is Read64 at single precision.
func (g *Genotype) Read32() ([]float32, error) {
	return readProbabilities[float32](g)
}

func readProbabilities[T float](g *Genotype) ([]T, error) {
	const op = "read genotype"
	if err := g.checkReadable(op); err != nil {
		return nil, err
	}

	out := make([]T, int(g.NSamples)*g.ncombs)

	var err error
	if g.layout == Layout1 {
		decodeLayout1(g, out)
	} else {
		err = decodeLayout2(g, out)
	}
	if err != nil {
		return nil, newError(KindDecode, op, g.b.FilePath, fmt.Errorf("offset %d: %w", g.Offset, err))
	}

	return out, nil
}

func decodeLayout1[T float](g *Genotype, out []T) {
	nan := T(math.NaN())
	for i := 0; i < int(g.NSamples); i++ {
		row := out[i*3 : i*3+3]
		if g.missing[i] {
			row[0], row[1], row[2] = nan, nan, nan
			continue
		}
		sample := g.data[i*layout1BytesPerSample:]
		for j := range row {
			row[j] = T(float64(binary.LittleEndian.Uint16(sample[2*j:])) / layout1Scale)
		}
	}
}

func decodeLayout2[T float](g *Genotype, out []T) error {
	nan := T(math.NaN())
	nbits := int(g.NBits)
	denom := uint64(1)<<uint(nbits) - 1
	fdenom := float64(denom)
	nalleles := int(g.NAlleles)

	br := newBitReader(g.data[g.probStart:])

	for i := 0; i < int(g.NSamples); i++ {
		row := out[i*g.ncombs : (i+1)*g.ncombs]
		ploidy := int(g.ploidy[i])
		nstored := storedValueCount(ploidy, nalleles, g.Phased)

		// Missing samples still occupy their bits in the payload.
		if g.missing[i] {
			if err := br.Skip(uint64(nstored) * uint64(nbits)); err != nil {
				return pfx.Err(fmt.Errorf("sample %d: %w", i, err))
			}
			for j := range row {
				row[j] = nan
			}
			continue
		}

		// Phased rows hold one set of nalleles values per haplotype; unphased
		// rows hold a single set over every genotype combination.
		nsets, setSize := 1, nstored+1
		if g.Phased {
			nsets, setSize = ploidy, nalleles
		}

		col := 0
		for s := 0; s < nsets; s++ {
			var sum uint64
			for j := 0; j < setSize-1; j++ {
				v, err := br.ReadUint(nbits)
				if err != nil {
					return pfx.Err(fmt.Errorf("sample %d: %w", i, err))
				}
				sum += v
				row[col] = T(float64(v) / fdenom)
				col++
			}
			if sum > denom {
				return pfx.Err(fmt.Errorf("sample %d: stored probabilities sum to %d/%d", i, sum, denom))
			}
			row[col] = T(float64(denom-sum) / fdenom)
			col++
		}

		// Columns beyond this sample's ploidy do not apply
		for ; col < len(row); col++ {
			row[col] = nan
		}
	}

	return nil
}

// ReadGenotype opens, decodes and closes the genotype at offset.
func (b *BGEN) ReadGenotype(offset uint64, precision Precision) (*GenotypeData, error) {
	if err := checkPrecision("read genotype", precision); err != nil {
		return nil, err
	}

	g, err := b.OpenGenotype(offset)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	probs, err := g.Read(precision)
	if err != nil {
		return nil, err
	}

	return &GenotypeData{
		Probabilities: probs,
		Phased:        g.Phased,
		Ploidy:        g.Ploidy(),
		Missing:       g.Missing(),
	}, nil
}

// ReadProbability is ReadGenotype without the per-sample metadata.
func (b *BGEN) ReadProbability(offset uint64, precision Precision) (*Probabilities, error) {
	if err := checkPrecision("read probability", precision); err != nil {
		return nil, err
	}

	g, err := b.OpenGenotype(offset)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	return g.Read(precision)
}
