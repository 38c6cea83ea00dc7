package cbgen

import (
	"fmt"
	"math"
	"sort"
)

// quantizeTolerance bounds how far a probability set may stray from summing
// to one before it is rejected.
const quantizeTolerance = 1e-5

// quantize maps a probability set onto integers in [0, 2^bits-1] that sum to
// exactly 2^bits-1: scale, floor, then hand the shortfall to the entries with
// the largest fractional parts.
func quantize(probs []float64, bits int) ([]uint64, error) {
	if bits < 1 || bits > 32 {
		return nil, fmt.Errorf("cannot quantize to %d bits", bits)
	}

	var total float64
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1+quantizeTolerance {
			return nil, fmt.Errorf("probability %d is %v", i, p)
		}
		total += p
	}
	if math.Abs(total-1) > quantizeTolerance {
		return nil, fmt.Errorf("probabilities sum to %v, not 1", total)
	}

	scale := float64(uint64(1)<<uint(bits) - 1)
	out := make([]uint64, len(probs))
	fractions := make([]int, len(probs))
	var sum uint64
	for i, p := range probs {
		v := math.Min(p/total, 1) * scale
		out[i] = uint64(math.Floor(v))
		sum += out[i]
		fractions[i] = i
	}

	sort.SliceStable(fractions, func(a, b int) bool {
		fa := math.Min(probs[fractions[a]]/total, 1)*scale - float64(out[fractions[a]])
		fb := math.Min(probs[fractions[b]]/total, 1)*scale - float64(out[fractions[b]])
		return fa > fb
	})

	for k := 0; sum < uint64(scale); k = (k + 1) % len(fractions) {
		out[fractions[k]]++
		sum++
	}

	return out, nil
}

// bitWriter packs unsigned integers least-significant-bit first.
type bitWriter struct {
	data []byte
	pos  uint64 // in bits
}

func (w *bitWriter) WriteUint(v uint64, nbits int) {
	for i := 0; i < nbits; i++ {
		byteIdx := w.pos / 8
		if byteIdx >= uint64(len(w.data)) {
			w.data = append(w.data, 0)
		}
		if v&(1<<uint(i)) != 0 {
			w.data[byteIdx] |= 1 << (w.pos % 8)
		}
		w.pos++
	}
}

func (w *bitWriter) Bytes() []byte {
	return w.data
}
