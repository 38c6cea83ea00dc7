// Package example downloads, verifies and caches the public example BGEN
// files used by the tests and tools.
package example

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/carbocation/pfx"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrUnknownFile = errors.New("not a registered example file")
	ErrChecksum    = errors.New("checksum mismatch")
)

// Registry maps a file name to its expected checksum: a bare hex digest is
// SHA-256, "blake2b:<hex>" is BLAKE2b-512.
type Registry map[string]string

// DefaultRegistry lists the files published at DefaultBaseURL.
var DefaultRegistry = Registry{
	"complex.23bits.no.samples.bgen":     "25d30a4e489da1aeb05f9893af98e8bf3b09d74db2982bf1828f8c8565886fc6",
	"haplotypes.bgen":                    "84e0b59efcc83c7c305cf5446e5dc26b49b15aeb4157a9eb36451376ce3efe4c",
	"haplotypes.bgen.metadata.corrupted": "8f55628770c1ae8155c1ced2463f15df80d32bc272a470bb1d6b68225e1604b1",
	"haplotypes.bgen.metafile":           "7e8b13aed04e2166649dde2c1c44aa4239f158aef7cf06d69c51113b9a2ae175",
	"wrong.metadata":                     "f746345605150076f3234fbeea7c52e86bf95c9329b2f08e1e3e92a7918b98fb",
	"merged_487400x220000.bgen":          "blake2b:2bf8043907eff9c00021dd044d80d63873f465898b8732c8bcbb533ca5fcd63875aa54e8103768631610f76c4c82577bc7c15f7bea90bb1ab1906b12ceddf56e",
	"merged_487400x2420000.bgen":         "81aecfab787bee1cb7f1d0d21f2465c581a4db78011d8b0f0f73c868e17ec888",
	"merged_487400x4840000.bgen":         "5ef82f92a001615c93bbb317a9fd2329272370c6d481405d4f8f0a2b7fddf68b",
}

// checksum is a parsed registry entry.
type checksum struct {
	algorithm string
	digest    string
}

func parseChecksum(s string) (checksum, error) {
	algorithm, digest := "sha256", s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		algorithm, digest = s[:i], s[i+1:]
	}
	digest = strings.ToLower(digest)

	c := checksum{algorithm: algorithm, digest: digest}
	h, err := c.newHash()
	if err != nil {
		return checksum{}, err
	}
	if len(digest) != 2*h.Size() {
		return checksum{}, pfx.Err(fmt.Errorf("%s digest %q has %d hex digits, want %d", algorithm, digest, len(digest), 2*h.Size()))
	}

	return c, nil
}

func (c checksum) newHash() (hash.Hash, error) {
	switch c.algorithm {
	case "sha256":
		return sha256.New(), nil
	case "blake2b":
		return blake2b.New512(nil)
	default:
		return nil, pfx.Err(fmt.Errorf("unsupported checksum algorithm %q", c.algorithm))
	}
}

func (c checksum) matches(h hash.Hash) bool {
	return hex.EncodeToString(h.Sum(nil)) == c.digest
}

// verifyFile reports whether the file at path exists and carries the
// expected checksum.
func verifyFile(path string, c checksum) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, pfx.Err(err)
	}
	defer f.Close()

	h, err := c.newHash()
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return false, pfx.Err(err)
	}

	return c.matches(h), nil
}
