package cbgen

import "strings"

// Allele is one allele string of a variant.
type Allele string

func (a Allele) String() string {
	return string(a)
}

// Variant is one variant record's metadata together with the location of its
// genotype block. String fields hold the raw bytes from the file.
type Variant struct {
	ID         string
	RSID       string
	Chromosome string
	Position   uint32
	NAlleles   uint16
	Alleles    []Allele

	// RecordOffset is where the variant record starts (what a .bgi calls
	// file_start_position). Offset is where its genotype block starts and is
	// what OpenGenotype expects.
	RecordOffset uint64
	Offset       uint64

	// RecordSize spans the whole record, genotype block included.
	RecordSize uint64
}

// AlleleIDs joins the alleles with commas.
func (v *Variant) AlleleIDs() string {
	parts := make([]string, len(v.Alleles))
	for i, a := range v.Alleles {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}
