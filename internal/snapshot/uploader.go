package snapshot

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// partSize is the chunk size the snapshot pipe is split into for
// multipart upload. Object-storage multipart APIs generally require every
// part but the last to meet a minimum size, so this is deliberately large
// rather than tuned for low memory use.
const partSize = 8 << 20 // 8 MiB

// Uploader is the pluggable object-storage sink a snapshot's compressed
// byte stream is split across. Implementations wrap whatever SDK a
// deployment's object store needs (S3, GCS, Azure Blob); sift ships none
// of them directly, only the interface and the bounded, retrying driver
// below.
type Uploader interface {
	// UploadPart sends one part's bytes, numbered from 1.
	UploadPart(ctx context.Context, partNumber int, data []byte) error
	// Complete finalizes the multipart upload after every part succeeded.
	Complete(ctx context.Context) error
	// Abort releases any server-side state for a multipart upload that
	// will not be completed.
	Abort(ctx context.Context) error
}

// UploadConfig bounds a multipart upload's concurrency and retry budget.
type UploadConfig struct {
	MaxInFlightParts int64
	MaxElapsedTime   backoff.BackOff // nil uses a default exponential backoff per part
}

// DefaultUploadConfig matches spec.md §4.8's "bound the number of
// in-flight parts (configurable), retry transient errors with exponential
// backoff" requirement with conservative defaults.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{MaxInFlightParts: 4}
}

// Upload reads r in partSize chunks and sends each to u, retrying
// transient per-part failures with exponential backoff and bounding how
// many parts are in flight at once via a weighted semaphore — the same
// errgroup+semaphore bounded-fan-out idiom the scheduler uses for
// update-file cleanup. On the first permanently-failing part, every
// in-flight part is allowed to drain, Abort is called, and the error is
// returned.
func Upload(ctx context.Context, r io.Reader, u Uploader, cfg UploadConfig) error {
	if cfg.MaxInFlightParts <= 0 {
		cfg.MaxInFlightParts = 1
	}
	sem := semaphore.NewWeighted(cfg.MaxInFlightParts)
	g, gctx := errgroup.WithContext(ctx)

	partNumber := 0
	var uploadErr error
	for {
		buf := make([]byte, partSize)
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			partNumber++
			part := buf[:n]
			num := partNumber
			if err := sem.Acquire(gctx, 1); err != nil {
				uploadErr = err
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				return uploadPartWithRetry(gctx, u, num, part, cfg)
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			uploadErr = readErr
			break
		}
	}

	waitErr := g.Wait()
	if uploadErr == nil {
		uploadErr = waitErr
	}
	if uploadErr != nil {
		_ = u.Abort(ctx)
		return uploadErr
	}
	return u.Complete(ctx)
}

func uploadPartWithRetry(ctx context.Context, u Uploader, num int, part []byte, cfg UploadConfig) error {
	bo := cfg.MaxElapsedTime
	if bo == nil {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = 0 // bounded by ctx, not wall clock
		bo = eb
	}
	return backoff.Retry(func() error {
		if err := u.UploadPart(ctx, num, part); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// bufferUploader is an in-memory Uploader used by tests and by small
// deployments that keep snapshots on local disk rather than object
// storage: every part is appended to buf in part-number order once
// Complete runs, since UploadPart calls may interleave across goroutines.
type bufferUploader struct {
	mu    sync.Mutex
	parts map[int][]byte
	buf   *bytes.Buffer
}

// NewBufferUploader returns an Uploader that reassembles every part into
// buf on Complete, for deployments without an object-storage backend.
func NewBufferUploader(buf *bytes.Buffer) Uploader {
	return &bufferUploader{parts: make(map[int][]byte), buf: buf}
}

func (b *bufferUploader) UploadPart(_ context.Context, partNumber int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.parts[partNumber] = cp
	return nil
}

func (b *bufferUploader) Complete(_ context.Context) error {
	for i := 1; i <= len(b.parts); i++ {
		b.buf.Write(b.parts[i])
	}
	return nil
}

func (b *bufferUploader) Abort(_ context.Context) error {
	b.parts = nil
	return nil
}
