package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/carbocation/cbgen"
	"github.com/carbocation/cbgen/example"
	"github.com/carbocation/pfx"
)

func main() {
	path := flag.String("filename", "", "Filename of the bgen file to process. Defaults to the cached haplotypes.bgen example, downloading it if needed")
	flag.Parse()

	if *path == "" {
		root, err := example.DefaultCacheRoot()
		if err != nil {
			log.Fatalln(err)
		}
		cache := &example.Cache{Root: root, Fetcher: example.HTTPFetcher{}}
		if *path, err = cache.Get(context.Background(), "haplotypes.bgen"); err != nil {
			log.Fatalln(err)
		}
	}

	if strings.HasPrefix(*path, "~/") {
		usr, err := user.Current()
		if err != nil {
			log.Fatalln(pfx.Err(err))
		}
		*path = filepath.Join(usr.HomeDir, (*path)[2:])
	}

	bg, err := cbgen.Open(*path)
	if err != nil {
		log.Fatalln(err)
	}
	defer bg.Close()

	log.Printf("%s: BGEN %s, %d variants, %d samples\n", bg.FilePath, bg.Version(), bg.NumVariants(), bg.NumSamples())

	samples, err := cbgen.ReadSamples(bg)
	if err != nil {
		log.Println(err)
	} else {

		i := 0
		for _, sample := range samples {
			fmt.Println(i, sample)
			i++

			if i > 10 {
				break
			}
		}
		if i > 0 {
			log.Println("Saw up to", samples[i-1])
		}

		log.Println("Iterated over", i, "samples")
	}

	vr := bg.NewVariantReader()
	for i := 1; ; i++ {
		v := vr.Read()
		if v == nil {
			break
		}

		if i > 10 {
			break
		}

		log.Printf("%d) %s %s %s:%d %s\n", i, v.ID, v.RSID, v.Chromosome, v.Position, v.AlleleIDs())

		g, err := bg.OpenGenotype(v.Offset)
		if err != nil {
			log.Fatalln(err)
		}
		probs, err := g.Read(cbgen.Precision64)
		g.Close()
		if err != nil {
			log.Fatalln(err)
		}

		log.Printf("\tphased %t, ploidy %d-%d, %d bits\n", g.Phased, g.MinPloidy, g.MaxPloidy, g.NBits)
		fmt.Printf("%v\n", formatDense(probs))
	}

	if vr.Error() != nil {
		log.Println("VR error:", vr.Error())
	}
}

func formatDense(p *cbgen.Probabilities) string {
	var sb strings.Builder
	for i := 0; i < p.NSamples; i++ {
		fmt.Fprintf(&sb, "\t%v\n", p.Row64(i))
	}
	return sb.String()
}
