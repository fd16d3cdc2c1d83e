package indexer

import "sync/atomic"

// StopSignal is the cooperative cancellation token the scheduler signals
// to abort an in-flight batch at its next safe checkpoint, per spec.md
// §4.5/§9. Pipeline polls it once per document inside its write loops and
// once per document while re-embedding during a settings reindex; the
// embedding pass AddDocuments runs before its write transaction, and
// facet-tree updates, are not interrupted.
// A nil *StopSignal never reports stopped, so callers that don't care
// about cancellation (tests, one-off tooling) can leave Pipeline's signal
// unset.
type StopSignal struct {
	stop atomic.Bool
}

// Signal marks s stopped. Safe to call concurrently with Stopped.
func (s *StopSignal) Signal() {
	s.stop.Store(true)
}

// Reset clears s for reuse at the next batch boundary.
func (s *StopSignal) Reset() {
	s.stop.Store(false)
}

// Stopped reports whether Signal has been called since the last Reset.
func (s *StopSignal) Stopped() bool {
	if s == nil {
		return false
	}
	return s.stop.Load()
}
