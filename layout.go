package cbgen

// Layout is a versioned variant structure described by the BGEN format. The
// numeric values match the layout bits (2-5) of the header flags.
type Layout uint32

const (
	Layout1 Layout = iota + 1
	Layout2
)

func (l Layout) String() string {
	switch l {
	case Layout1:
		return "Layout1"
	case Layout2:
		return "Layout2"

	default:
		return "Illegal selection"
	}
}

// Version reports the BGEN format version implied by a layout and
// compression pair.
func Version(l Layout, c Compression) string {
	switch {
	case l == Layout1:
		return "1.1"
	case l == Layout2 && c == CompressionZStandard:
		return "1.3"
	case l == Layout2:
		return "1.2"
	default:
		return "unknown"
	}
}
