package cbgen

import (
	"fmt"
	"strings"
)

// Kind classifies the failures reported by this package.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindOpen: bad path, bad magic or version, structurally invalid metafile.
	KindOpen

	// KindData: malformed sample or variant record, truncated stream, or a
	// handle that has already been closed.
	KindData

	// KindRange: out-of-bounds partition index.
	KindRange

	// KindInvalidOffset: a genotype offset that does not address the start of
	// a genotype block.
	KindInvalidOffset

	// KindDecode: corrupt or undersized probability payload.
	KindDecode

	// KindUsage: caller passed an illegal argument, such as an unsupported
	// precision.
	KindUsage

	// KindIO: writing a derived file (metafile, .bgi) failed.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open error"
	case KindData:
		return "data error"
	case KindRange:
		return "range error"
	case KindInvalidOffset:
		return "invalid offset"
	case KindDecode:
		return "decode error"
	case KindUsage:
		return "usage error"
	case KindIO:
		return "io error"
	default:
		return "unknown error"
	}
}

// Error is returned by every exported operation in this package. Use
// errors.Is against the Err* sentinels to classify it.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Sentinels for errors.Is. Each matches any *Error of the same Kind.
var (
	ErrOpen          = &Error{Kind: KindOpen}
	ErrData          = &Error{Kind: KindData}
	ErrRange         = &Error{Kind: KindRange}
	ErrInvalidOffset = &Error{Kind: KindInvalidOffset}
	ErrDecode        = &Error{Kind: KindDecode}
	ErrUsage         = &Error{Kind: KindUsage}
	ErrIO            = &Error{Kind: KindIO}
)

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func errorf(kind Kind, op, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}
