// Package search implements the single-query search runtime (spec.md
// §4.6): filter resolution over facet trees, query tokenization with typo
// tolerance, the declared-order ranking-rule pipeline, distinct/pagination/
// cutoff handling, and result rendering (highlighting, cropping, facet
// distribution).
package search
