// Package federation implements spec.md §4.7: composing N single-index
// queries, possibly across indexes, into one ranked result list with a
// consistent merge order, cross-index facet aggregation, and optional
// dynamic pin/boost/bury/hide rules.
package federation
