// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
bgt-query is a minimal driver over bgt.MergedReader: it opens one or more
bgt datasets, merges them, and streams the result as VCF text to stdout. It
exists to give the bgt library a runnable entry point; the real CLI front
end (BED loading, multi-command dispatch, richer region syntax) is out of
scope.
*/

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/druvus/bgt/bgt"
	"github.com/druvus/bgt/encoding/bcf"
	"github.com/druvus/bgt/encoding/gtmatrix"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
)

type groupFlags []string

func (g *groupFlags) String() string { return strings.Join(*g, ",") }
func (g *groupFlags) Set(v string) error {
	*g = append(*g, v)
	return nil
}

var (
	region  = flag.String("region", "", "Restrict output to <contig>, <contig>:<pos>, or <contig>:<start>-<end>")
	noGT    = flag.Bool("no-gt", false, "Omit the merged FORMAT/GT column (allele counts only)")
	summary = flag.Bool("summary", false, "Print a whole-cohort ALT/missing allele count per site instead of merging (single prefix only, ignores -group)")
	groups  groupFlags
)

func init() {
	flag.Var(&groups, "group", "Sample group selector (?, :name,..., a sample-list path, or a sample-table expression); may be repeated, up to 8 times")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] prefix [prefix ...]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	prefixes := flag.Args()
	if len(prefixes) == 0 {
		log.Fatalf("missing positional argument (at least one dataset prefix required)")
	}

	ctx := context.Background()
	w := bufio.NewWriter(os.Stdout)
	runFn := run
	if *summary {
		runFn = runSummary
	}
	if err := runFn(ctx, w, prefixes); err != nil {
		log.Fatalf("%v", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("%v", err)
	}
}

// runSummary streams a whole-cohort allele-count-only scan of a single
// dataset, bypassing the merge path entirely via SingleFileReader.NextSummary.
func runSummary(ctx context.Context, w *bufio.Writer, prefixes []string) error {
	if len(prefixes) != 1 {
		return fmt.Errorf("bgt-query: -summary takes exactly one dataset prefix, got %d", len(prefixes))
	}
	f, err := bgt.Open(ctx, prefixes[0])
	if err != nil {
		return err
	}
	r, err := f.NewReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close() // nolint: errcheck

	if *region != "" {
		if err := r.SetRegion(*region); err != nil {
			return err
		}
	}

	w.WriteString("#CHROM\tPOS\tREF\tALT\tAN_ALT\tAN_MISSING\n")
	for {
		rec, altCount, missingCount, err := r.NextSummary()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		chrom, _ := f.Header.ContigName(int(rec.RID))
		alt := "."
		if len(rec.Alleles) > 1 {
			alt = strings.Join(rec.Alleles[1:], ",")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\n", chrom, rec.Pos+1, rec.Alleles[0], alt, altCount, missingCount)
	}
}

func run(ctx context.Context, w *bufio.Writer, prefixes []string) error {
	readers := make([]*bgt.SingleFileReader, 0, len(prefixes))
	closeReaders := func() {
		for _, r := range readers {
			r.Close() // nolint: errcheck
		}
	}

	for _, prefix := range prefixes {
		f, err := bgt.Open(ctx, prefix)
		if err != nil {
			closeReaders()
			return err
		}
		r, err := f.NewReader(ctx)
		if err != nil {
			closeReaders()
			return err
		}
		readers = append(readers, r)
	}

	m, err := bgt.NewMergedReader(readers...)
	if err != nil {
		closeReaders()
		return err
	}
	// m.Close closes every child reader, so readers are not closed again here.
	defer m.Close() // nolint: errcheck

	for _, g := range groups {
		if err := m.AddGroup(g); err != nil {
			return err
		}
	}
	m.SetNoGT(*noGT)

	if err := m.Prepare(); err != nil {
		return err
	}

	if *region != "" {
		for _, r := range readers {
			if err := r.SetRegion(*region); err != nil {
				return err
			}
		}
	}

	header := m.Header()
	if _, err := w.WriteString(header.Text); err != nil {
		return err
	}

	for {
		rec, gen, err := m.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := writeVCFLine(w, header, rec, gen, *noGT); err != nil {
			return err
		}
	}
	return nil
}

// writeVCFLine renders one merged record and its genotypes as a tab-
// separated VCF data line. This is the only place in the repository that
// turns a decoded Record back into VCF text.
func writeVCFLine(w *bufio.Writer, h *bcf.Header, rec *bcf.Record, gen []gtmatrix.Genotype, noGT bool) error {
	chrom, _ := h.ContigName(int(rec.RID))
	ref := rec.Alleles[0]
	alt := "."
	if len(rec.Alleles) > 1 {
		alt = strings.Join(rec.Alleles[1:], ",")
	}

	fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t.\t%s\t%s",
		chrom, rec.Pos+1, dotIfEmpty(rec.ID), ref, alt, filterString(rec), infoString(rec))

	if noGT {
		w.WriteByte('\n')
		return nil
	}

	w.WriteString("\tGT")
	for i := 0; i+1 < len(gen); i += 2 {
		w.WriteByte('\t')
		w.WriteString(genotypeString(gen[i], gen[i+1]))
	}
	w.WriteByte('\n')
	return nil
}

func dotIfEmpty(s string) string {
	if s == "" {
		return "."
	}
	return s
}

func filterString(rec *bcf.Record) string {
	if len(rec.Filters) == 0 {
		return "."
	}
	parts := make([]string, len(rec.Filters))
	for i, f := range rec.Filters {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ";")
}

func infoString(rec *bcf.Record) string {
	if len(rec.Info) == 0 {
		return "."
	}
	parts := make([]string, 0, len(rec.Info))
	for _, v := range rec.Info {
		switch {
		case v.Flag:
			parts = append(parts, v.Key)
		case v.Ints != nil:
			parts = append(parts, v.Key+"="+joinInts(v.Ints))
		case v.Floats != nil:
			parts = append(parts, v.Key+"="+joinFloats(v.Floats))
		default:
			parts = append(parts, v.Key+"="+v.Str)
		}
	}
	return strings.Join(parts, ";")
}

func joinInts(vals []int32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(int64(v), 10)
	}
	return strings.Join(parts, ",")
}

func joinFloats(vals []float32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}

// genotypeString renders one sample's diploid genotype as an allele-index
// pair, "." standing in for gtmatrix.GTMissing.
func genotypeString(a, b gtmatrix.Genotype) string {
	return genotypeAllele(a) + "/" + genotypeAllele(b)
}

func genotypeAllele(g gtmatrix.Genotype) string {
	switch g {
	case gtmatrix.GTRef:
		return "0"
	case gtmatrix.GTAlt1:
		return "1"
	case gtmatrix.GTAlt2:
		return "2"
	default:
		return "."
	}
}
