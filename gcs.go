package cbgen

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// gsReaderAtCloser decorates a Google Storage object handle with ReadAt. Each
// ReadAt issues one ranged request, so a BGEN opened this way works but every
// record read is a network round trip.
type gsReaderAtCloser struct {
	handle *storage.ObjectHandle
	ctx    context.Context
	size   int64
	pos    int64
}

func (o *gsReaderAtCloser) ReadAt(p []byte, offset int64) (int, error) {
	if offset >= o.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if offset+length > o.size {
		length = o.size - offset
	}

	rdr, err := o.handle.NewRangeReader(o.ctx, offset, length)
	if err != nil {
		return 0, err
	}
	defer rdr.Close()

	// A single Read on the range reader may return short.
	n, err := io.ReadFull(rdr, p[:length])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *gsReaderAtCloser) Read(p []byte) (int, error) {
	n, err := o.ReadAt(p, o.pos)
	o.pos += int64(n)
	return n, err
}

// Close is a nop: every ReadAt closes its own range reader.
func (o *gsReaderAtCloser) Close() error {
	return nil
}

// splitGSPath splits gs://bucket/object into its bucket and object names.
func splitGSPath(path string) (string, string, error) {
	if !strings.HasPrefix(path, "gs://") {
		return "", "", fmt.Errorf("%s is not a gs:// path", path)
	}
	pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] == "" {
		return "", "", fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
	}
	return pathParts[0], pathParts[1], nil
}

// OpenFromGoogleStorage opens a BGEN stored at gs://bucket/object. The
// context governs every subsequent read made through the returned handle.
func OpenFromGoogleStorage(ctx context.Context, path string, client *storage.Client) (*BGEN, error) {
	if client == nil {
		return nil, errorf(KindOpen, "open", path, "a storage client is required")
	}

	bucketName, pathName, err := splitGSPath(path)
	if err != nil {
		return nil, newError(KindOpen, "open", path, pfx.Err(err))
	}

	handle := client.Bucket(bucketName).Object(pathName)

	// Make a hard call to get the filesize
	attrs, err := handle.Attrs(ctx)
	if err != nil {
		return nil, newError(KindOpen, "open", path, pfx.Err(err))
	}

	return OpenReaderAt(path, &gsReaderAtCloser{handle: handle, ctx: ctx, size: attrs.Size}, attrs.Size)
}
