// Package api gives the scheduler and search runtime an HTTP caller. It is
// a thin seam, not a routing layer: a handful of handlers enough to drive
// document ingestion, search, federated search, and task inspection over
// HTTP. Authentication, full REST semantics, and error-response shape
// parity with any particular wire format are out of scope.
package api
