// Package snapshot implements spec.md §4.8: binary snapshots (a tar/gzip
// archive of every environment's raw data file, restoring to an identical
// engine) and logical dumps (a version-agnostic tar/gzip of NDJSON
// documents, settings, and the task log, replayed as tasks on import).
package snapshot
