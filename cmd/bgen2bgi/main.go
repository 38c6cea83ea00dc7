// bgen2bgi indexes a BGEN file into a bgenix-compatible .bgi file.
package main

import (
	"context"
	"flag"
	"log"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/carbocation/cbgen"
	"github.com/carbocation/pfx"
)

func main() {
	path := flag.String("bgen", "", "Filename of the bgen file to process")
	idxPath := flag.String("bgi", "", "Filename of the bgi (index) file to write. Defaults to the bgen filename plus .bgi")
	rsid := flag.String("rsid", "", "Optional rsid to look up in the finished index")
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

	bg, err := cbgen.Open(*path)
	if err != nil {
		log.Fatalln(err)
	}
	defer bg.Close()

	log.Printf("Indexing %d variants of %s with the %s driver\n", bg.NumVariants(), *path, cbgen.WhichSQLiteDriver())
	if err := cbgen.CreateBGI(bg, *idxPath); err != nil {
		log.Fatalln(err)
	}

	bgi, err := cbgen.OpenBGI(*idxPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer bgi.Close()

	if bgi.Metadata != nil {
		log.Printf("Wrote %s for %s (%d bytes, indexed %s)\n", *idxPath, bgi.Metadata.Filename, bgi.Metadata.FileSize, bgi.Metadata.IndexCreationTime)
	}

	if *rsid == "" {
		return
	}

	ctx := context.Background()
	rows, err := bgi.FindRSID(ctx, *rsid)
	if err != nil {
		log.Fatalln(err)
	}
	if len(rows) == 0 {
		log.Println("No variant with rsid", *rsid)
		return
	}

	vr := bg.NewVariantReader()
	for _, row := range rows {
		v := vr.ReadAt(int64(row.FileStartPosition))
		if v == nil {
			log.Fatalln(vr.Error())
		}
		log.Printf("%s: %s:%d %s, genotype block at %d\n", row.RSID, v.Chromosome, v.Position, v.AlleleIDs(), v.Offset)
	}
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
