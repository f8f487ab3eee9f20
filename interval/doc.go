// Package interval implements interval-union membership queries over sets of
// genomic coordinates, for use as a region filter ahead of variant record
// iteration. Overlapping intervals are merged on load; callers that need
// per-interval identity should track it separately.
package interval
