// bgenexample downloads the example BGEN files into the local cache and
// prints where they are.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/cbgen/example"
)

func main() {
	names := flag.String("files", "haplotypes.bgen,complex.23bits.no.samples.bgen", "Comma-separated example files to fetch, or 'all'")
	root := flag.String("cache", "", "Cache directory. Defaults to $"+example.CacheHomeEnv+"/test_data or the user cache directory")
	baseURL := flag.String("url", example.DefaultBaseURL, "Base URL to download from")
	bucket := flag.String("gcs-bucket", "", "Fetch from this Google Storage bucket instead of -url")
	prefix := flag.String("gcs-prefix", "", "Object prefix within -gcs-bucket")
	list := flag.Bool("list", false, "List the registered files and exit")
	flag.Parse()

	if *list {
		for _, name := range registered() {
			fmt.Println(name)
		}
		return
	}

	ctx := context.Background()

	if *root == "" {
		var err error
		if *root, err = example.DefaultCacheRoot(); err != nil {
			log.Fatalln(err)
		}
	}

	cache := &example.Cache{
		Root:     *root,
		Registry: example.DefaultRegistry,
		Fetcher:  example.HTTPFetcher{BaseURL: *baseURL},
	}
	if *bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			log.Fatalln(err)
		}
		defer client.Close()
		cache.Fetcher = example.GCSFetcher{Bucket: *bucket, Prefix: *prefix, Client: client}
	}

	wanted := strings.Split(*names, ",")
	if *names == "all" {
		wanted = registered()
	}

	for _, name := range wanted {
		path, err := cache.Get(ctx, strings.TrimSpace(name))
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Println(path)
	}
}

func registered() []string {
	out := make([]string, 0, len(example.DefaultRegistry))
	for name := range example.DefaultRegistry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
