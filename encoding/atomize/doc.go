// Package atomize decomposes a multi-allelic SiteRecord into canonical
// single-difference atoms and rewrites per-sample genotypes against them,
// directly ported from the CIGAR-walk in the original bcf_atomize.
package atomize
