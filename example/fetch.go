package example

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// DefaultBaseURL hosts every file in DefaultRegistry.
const DefaultBaseURL = "https://bgen-examples.s3.amazonaws.com/"

// Fetcher copies the named remote file into w.
type Fetcher interface {
	Fetch(ctx context.Context, name string, w io.Writer) error
}

// HTTPFetcher downloads name from BaseURL + name.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, name string, w io.Writer) error {
	base := f.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+name, nil)
	if err != nil {
		return pfx.Err(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return pfx.Err(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pfx.Err(fmt.Errorf("GET %s: %s", req.URL, resp.Status))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return pfx.Err(err)
	}

	return nil
}

// GCSFetcher reads name from gs://Bucket/Prefix+name, for mirrors of the
// example files kept in Google Cloud Storage.
type GCSFetcher struct {
	Bucket string
	Prefix string
	Client *storage.Client
}

func (f GCSFetcher) Fetch(ctx context.Context, name string, w io.Writer) error {
	if f.Client == nil {
		return pfx.Err(fmt.Errorf("no storage client"))
	}

	rdr, err := f.Client.Bucket(f.Bucket).Object(f.Prefix + name).NewReader(ctx)
	if err != nil {
		return pfx.Err(err)
	}
	defer rdr.Close()

	if _, err := io.Copy(w, rdr); err != nil {
		return pfx.Err(err)
	}

	return nil
}
