package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/carbocation/cbgen"
	"github.com/carbocation/pfx"
	"golang.org/x/sync/errgroup"
)

func main() {
	path := flag.String("bgen", "", "Filename of the bgen file to process")
	metafilePath := flag.String("metafile", "", "Filename of the metafile. Created if it does not exist. Defaults to the bgen filename plus .metafile")
	workers := flag.Int("workers", runtime.NumCPU(), "Number of workers, each with its own bgen handle")
	flag.Parse()

	if *path == "" {
		flag.PrintDefaults()
		log.Fatalln("No bgen file found")
	}

	*path = expandHome(*path)
	if *metafilePath == "" {
		*metafilePath = *path + ".metafile"
	}
	*metafilePath = expandHome(*metafilePath)

	if _, err := os.Stat(*metafilePath); errors.Is(err, fs.ErrNotExist) {
		if err := createMetafile(*path, *metafilePath); err != nil {
			log.Fatalln(err)
		}
	}

	mf, err := cbgen.OpenMetafile(*metafilePath)
	if err != nil {
		log.Fatalln(err)
	}
	defer mf.Close()

	log.Println("Launching", *workers, "workers over", mf.NPartitions(), "partitions")

	partitions := make(chan int)
	counters := make([]AlleleCounter, *workers)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(partitions)
		for i := 0; i < mf.NPartitions(); i++ {
			select {
			case partitions <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < *workers; w++ {
		w := w
		g.Go(func() error {
			return Worker(ctx, *path, mf, partitions, &counters[w])
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalln(err)
	}

	accumulator := AlleleCounter{}
	for _, c := range counters {
		accumulator.Merge(c)
	}
	log.Println("Final accumulated stats")
	log.Printf("%+v\n", accumulator)
}

func createMetafile(path, metafilePath string) error {
	bg, err := cbgen.Open(path)
	if err != nil {
		return err
	}
	defer bg.Close()

	return bg.CreateMetafile(metafilePath, cbgen.EstimateBestPartitionCount(bg.NumVariants()), true)
}

type AlleleCounter struct {
	A, C, T, G float64
	Skipped    int
}

func (a *AlleleCounter) Add(which string, val float64) error {
	switch which {
	case "A":
		a.A += val
	case "C":
		a.C += val
	case "T":
		a.T += val
	case "G":
		a.G += val
	default:
		return pfx.Err(fmt.Errorf("%s is not recognized", which))
	}

	return nil
}

func (a *AlleleCounter) Merge(o AlleleCounter) {
	a.A += o.A
	a.C += o.C
	a.T += o.T
	a.G += o.G
	a.Skipped += o.Skipped
}

// Each worker has to maintain its own BGEN since it is not safe for concurrent
// reads. The metafile is shared.
func Worker(ctx context.Context, path string, mf *cbgen.Metafile, partitions <-chan int, ac *AlleleCounter) error {
	b, err := cbgen.Open(path)
	if err != nil {
		return err
	}
	defer b.Close()

	for index := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}

		part, err := mf.ReadPartition(index)
		if err != nil {
			return err
		}

		vs := part.Variants
		for i := 0; i < vs.Len(); i++ {
			// Only biallelic variants for now
			if vs.NAlleles[i] != 2 {
				ac.Skipped++
				continue
			}

			gd, err := b.ReadGenotype(vs.Offset[i], cbgen.Precision64)
			if err != nil {
				return err
			}

			// Only unphased diploid for now
			if gd.Phased || gd.Probabilities.NCombs != 3 {
				ac.Skipped++
				continue
			}

			alleles := strings.Split(string(vs.AlleleIDs[i]), ",")
			for allele, name := range alleles {
				dosage, err := gd.Probabilities.Dosage(allele)
				if err != nil {
					return err
				}
				var total float64
				for _, d := range dosage {
					if !math.IsNaN(d) {
						total += d
					}
				}
				if err := ac.Add(name, total); err != nil {
					// Indels and other non-SNV alleles are not counted
					ac.Skipped++
					break
				}
			}
		}
	}

	return nil
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
