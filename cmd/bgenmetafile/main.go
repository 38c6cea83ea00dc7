// bgenmetafile writes the metafile that partitions a BGEN file's variants
// for parallel access.
package main

import (
	"context"
	"flag"
	"log"
	"os/user"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/cbgen"
	"github.com/carbocation/pfx"
)

func main() {
	path := flag.String("bgen", "", "Filename of the bgen file to process. gs:// paths are read from Google Storage")
	out := flag.String("out", "", "Where to write the metafile. Defaults to the bgen filename plus .metafile")
	npartitions := flag.Int("partitions", 0, "Number of partitions. 0 picks a count based on the number of variants")
	verbose := flag.Bool("verbose", true, "Show progress while scanning")
	flag.Parse()

	if *path == "" {
		flag.PrintDefaults()
		log.Fatalln("No bgen file found")
	}

	*path = expandHome(*path)
	if *out == "" {
		if strings.HasPrefix(*path, "gs://") {
			*out = filepath.Base(*path) + ".metafile"
		} else {
			*out = *path + ".metafile"
		}
	}
	*out = expandHome(*out)

	ctx := context.Background()
	bg, err := openBGEN(ctx, *path)
	if err != nil {
		log.Fatalln(err)
	}
	defer bg.Close()

	if *npartitions < 1 {
		*npartitions = cbgen.EstimateBestPartitionCount(bg.NumVariants())
	}

	log.Printf("Partitioning %d variants of %s (BGEN %s) into %d partitions\n", bg.NumVariants(), *path, bg.Version(), *npartitions)
	if err := bg.CreateMetafile(*out, *npartitions, *verbose); err != nil {
		log.Fatalln(err)
	}

	mf, err := cbgen.OpenMetafile(*out)
	if err != nil {
		log.Fatalln(err)
	}
	defer mf.Close()

	log.Printf("Wrote %s: %d partitions of up to %d variants\n", *out, mf.NPartitions(), mf.PartitionSize())
}

func openBGEN(ctx context.Context, path string) (*cbgen.BGEN, error) {
	if !strings.HasPrefix(path, "gs://") {
		return cbgen.Open(path)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return cbgen.OpenFromGoogleStorage(ctx, path, client)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	usr, err := user.Current()
	if err != nil {
		log.Fatalln(pfx.Err(err))
	}

	return filepath.Join(usr.HomeDir, path[2:])
}
