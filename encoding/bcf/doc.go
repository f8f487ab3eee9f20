// Package bcf implements the tagged variable-size integer codec and the
// lazily-decoded site-record model used by the bgt dataset format: a
// BCF-like binary record stream with a FILTER/INFO/FORMAT dictionary, a
// contig dictionary, and a sample dictionary.
package bcf
