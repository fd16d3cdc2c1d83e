package api

import (
	"io"
	"net/http"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// indexInternalID resolves externalID against idx's external-id bucket,
// the same kv.Tx-scoped lookup internal/federation's fakeProvider and
// internal/network's rebalance walk both use.
func indexInternalID(idx *index.Index, externalID string) (uint32, bool) {
	var id uint32
	var ok bool
	_ = idx.Env().View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(index.BucketExternalIDs)
		if err != nil {
			return err
		}
		id, ok = index.InternalID(b, externalID)
		return nil
	})
	return id, ok
}
