package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/carbocation/cbgen"
	"github.com/carbocation/pfx"
)

func main() {
	path := flag.String("bgen", "", "Filename of the bgen file to process")
	idxPath := flag.String("bgi", "", "Filename of the bgi (index) file to process. Created if it does not exist")
	flag.Parse()

	if *path == "" {
		flag.PrintDefaults()
		log.Fatalln("No bgen file found")
	}

	*path = expandHome(*path)
	if *idxPath == "" {
		*idxPath = *path + ".bgi"
	}
	*idxPath = expandHome(*idxPath)

	log.Println("Opening bgen:", *path)
	bg, err := cbgen.Open(*path)
	if err != nil {
		log.Fatalln(err)
	}
	defer bg.Close()

	if _, err := os.Stat(*idxPath); errors.Is(err, fs.ErrNotExist) {
		log.Println("Creating bgi:", *idxPath)
		if err := cbgen.CreateBGI(bg, *idxPath); err != nil {
			log.Fatalln(err)
		}
	}

	bgi, err := cbgen.OpenBGI(*idxPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer bgi.Close()
	if bgi.Metadata != nil {
		bgi.Metadata.FirstThousandBytes = nil
		log.Printf("BGI Metadata: %+v\n", bgi.Metadata)
	}

	log.Printf("BGEN data: %s, version %s, %d variants, %d samples\n", bg.FilePath, bg.Version(), bg.NumVariants(), bg.NumSamples())

	rows, err := bgi.Variants(context.Background())
	if err != nil {
		log.Fatalln(err)
	}

	// The .bgi gives record offsets; ReadAt turns each into a variant that
	// knows where its genotype block lives.
	vr := bg.NewVariantReader()
	for i, row := range rows {
		v := vr.ReadAt(int64(row.FileStartPosition))
		if v == nil {
			log.Fatalln(vr.Error())
		}

		if i%30 == 0 {
			fmt.Printf("%d) %+v\n", i, row)
		}
		if i >= 10 {
			continue
		}

		gd, err := bg.ReadGenotype(v.Offset, cbgen.Precision64)
		if err != nil {
			log.Fatalln(err)
		}
		for j := 0; j < gd.Probabilities.NSamples && j <= 10; j++ {
			if gd.Missing[j] {
				log.Printf("\tProb %d) %s\n", j, "is missing")
			} else {
				log.Printf("\tProb %d) %+v\n", j, gd.Probabilities.Row64(j))
			}
		}
	}

	log.Println("Saw indexes for", len(rows), "variants")
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
