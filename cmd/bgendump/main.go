// bgendump prints the header, samples, variants and (optionally) genotype
// probabilities of a BGEN file. With -metafile it walks the variants
// partition by partition instead of scanning the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/storage"
	"github.com/carbocation/cbgen"
	"github.com/carbocation/pfx"
)

func main() {
	path := flag.String("bgen", "", "Filename of the bgen file to process. gs:// paths are read from Google Storage")
	metafilePath := flag.String("metafile", "", "Optional metafile for the bgen file")
	partition := flag.Int("partition", -1, "With -metafile, only print this partition")
	nsamples := flag.Int("samples", 10, "How many sample IDs to print")
	nvariants := flag.Int("variants", 30, "How many variants to print. -1 prints all of them")
	ngenotypes := flag.Int("genotypes", 3, "How many of the printed variants to decode genotypes for")
	precision := flag.Int("precision", 64, "Probability precision: 32 or 64")
	flag.Parse()

	if *path == "" {
		flag.PrintDefaults()
		log.Fatalln("No bgen file found")
	}
	*path = expandHome(*path)

	ctx := context.Background()
	bg, err := openBGEN(ctx, *path)
	if err != nil {
		log.Fatalln(err)
	}
	defer bg.Close()

	fmt.Printf("File:       %s\n", bg.FilePath)
	fmt.Printf("Version:    %s (layout %s, compression %s)\n", bg.Version(), bg.FlagLayout, bg.FlagCompression)
	fmt.Printf("Variants:   %d\n", bg.NumVariants())
	fmt.Printf("Samples:    %d\n", bg.NumSamples())

	if bg.ContainsSamples() {
		samples, err := cbgen.ReadSamples(bg)
		if err != nil {
			log.Fatalln(err)
		}
		for i, sample := range samples {
			if i >= *nsamples {
				fmt.Printf("... and %d more samples\n", len(samples)-i)
				break
			}
			fmt.Printf("Sample %d) %s\n", i, sample)
		}
	}

	d := &dumper{
		bg:        bg,
		w:         tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0),
		limit:     *nvariants,
		genotypes: *ngenotypes,
		precision: cbgen.Precision(*precision),
	}
	fmt.Fprintln(d.w, "#\tid\trsid\tchrom\tpos\talleles\toffset")

	if *metafilePath == "" {
		vr := bg.NewVariantReader()
		for v := vr.Read(); v != nil && !d.done(); v = vr.Read() {
			d.variant(v.ID, v.RSID, v.Chromosome, v.Position, v.AlleleIDs(), v.Offset)
		}
		if err := vr.Error(); err != nil {
			log.Fatalln(err)
		}
	} else {
		mf, err := cbgen.OpenMetafile(expandHome(*metafilePath))
		if err != nil {
			log.Fatalln(err)
		}
		defer mf.Close()

		first, last := 0, mf.NPartitions()-1
		if *partition >= 0 {
			first, last = *partition, *partition
		}
		for i := first; i <= last && !d.done(); i++ {
			part, err := mf.ReadPartition(i)
			if err != nil {
				log.Fatalln(err)
			}
			vs := part.Variants
			d.seen = int(part.Offset)
			for j := 0; j < vs.Len() && !d.done(); j++ {
				d.variant(string(vs.ID[j]), string(vs.RSID[j]), string(vs.Chromosome[j]), vs.Position[j], string(vs.AlleleIDs[j]), vs.Offset[j])
			}
		}
	}

	if err := d.w.Flush(); err != nil {
		log.Fatalln(err)
	}
	if d.err != nil {
		log.Fatalln(d.err)
	}
}

type dumper struct {
	bg        *cbgen.BGEN
	w         *tabwriter.Writer
	limit     int
	genotypes int
	precision cbgen.Precision

	seen    int
	printed int
	err     error
}

func (d *dumper) done() bool {
	return d.err != nil || (d.limit >= 0 && d.printed >= d.limit)
}

func (d *dumper) variant(id, rsid, chrom string, pos uint32, alleles string, offset uint64) {
	fmt.Fprintf(d.w, "%d\t%s\t%s\t%s\t%d\t%s\t%d\n", d.seen, id, rsid, chrom, pos, alleles, offset)
	d.seen++
	d.printed++

	if d.printed > d.genotypes {
		return
	}

	gd, err := d.bg.ReadGenotype(offset, d.precision)
	if err != nil {
		d.err = err
		return
	}

	probs := gd.Probabilities
	for i := 0; i < probs.NSamples && i < 5; i++ {
		if gd.Missing[i] {
			fmt.Fprintf(d.w, "\tsample %d\tmissing\n", i)
			continue
		}
		fmt.Fprintf(d.w, "\tsample %d\tploidy %d\tphased %t\t%v\n", i, gd.Ploidy[i], gd.Phased, probs.Row64(i))
	}
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
