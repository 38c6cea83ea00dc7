package example

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"
)

// CacheHomeEnv overrides the cache root returned by DefaultCacheRoot.
const CacheHomeEnv = "CBGEN_CACHE_HOME"

// DefaultCacheRoot is $CBGEN_CACHE_HOME/test_data when set, and
// <user cache dir>/cbgen/test_data otherwise.
func DefaultCacheRoot() (string, error) {
	if home := os.Getenv(CacheHomeEnv); home != "" {
		return filepath.Join(home, "test_data"), nil
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		return "", pfx.Err(err)
	}

	return filepath.Join(dir, "cbgen", "test_data"), nil
}

// Cache keeps verified copies of registered files under Root.
type Cache struct {
	Root     string
	Registry Registry
	Fetcher  Fetcher
	Logger   logrus.FieldLogger
}

// Get returns the local path of name, downloading it first if no verified
// copy is cached. A download whose checksum does not match is discarded and
// leaves nothing under Root.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	registry := c.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	want, ok := registry[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownFile)
	}
	sum, err := parseChecksum(want)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(c.Root, name)
	if ok, err := verifyFile(dest, sum); err != nil {
		return "", err
	} else if ok {
		return dest, nil
	}

	if c.Fetcher == nil {
		return "", pfx.Err(fmt.Errorf("%s is not cached and there is no fetcher", name))
	}
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return "", pfx.Err(err)
	}

	pf, err := renameio.TempFile(c.Root, dest)
	if err != nil {
		return "", pfx.Err(err)
	}
	defer pf.Cleanup()

	h, err := sum.newHash()
	if err != nil {
		return "", err
	}
	counter := &byteCounter{}

	c.logger().WithField("file", name).Infoln("Fetching example file")
	if err := c.Fetcher.Fetch(ctx, name, io.MultiWriter(pf, h, counter)); err != nil {
		return "", pfx.Err(fmt.Errorf("fetch %s: %w", name, err))
	}
	if !sum.matches(h) {
		return "", fmt.Errorf("%s: %w", name, ErrChecksum)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", pfx.Err(err)
	}

	c.logger().WithFields(logrus.Fields{
		"file": name,
		"size": humanize.Bytes(counter.n),
		"path": dest,
	}).Infoln("Cached example file")

	return dest, nil
}

func (c *Cache) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

type byteCounter struct {
	n uint64
}

func (b *byteCounter) Write(p []byte) (int, error) {
	b.n += uint64(len(p))
	return len(p), nil
}
