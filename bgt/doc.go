// Package bgt implements the dataset-level reader and k-way merger over the
// binary record stream (encoding/bcf), the bit-packed genotype matrix
// (encoding/gtmatrix) and the sample-metadata table (sampletable): per-file
// region/sample-subset streaming (SingleFileReader), synchronized multi-file
// merging with allele-count aggregation (MergedReader), and the
// chr:pos:ref:alt allele-spec shorthand (AlleleSpec), directly ported from
// original_source/bgt.c's bgt_t/bgtm_t reader pair.
package bgt
