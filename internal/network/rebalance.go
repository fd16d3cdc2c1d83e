package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
)

// IndexSource is the subset of scheduler access a rebalance needs:
// enumerate index names and acquire/release them for the duration of the
// walk, the same pattern internal/snapshot's Registry interface uses to
// avoid an import cycle back into internal/scheduler.
type IndexSource interface {
	List() (map[string]string, error)
	Acquire(name string) (*index.Index, error)
	Release(name string)
}

// RemoteCounts reports, per remote name, how many documents this rebalance
// exported to it.
type RemoteCounts map[string]int64

// Rebalance runs the network-topology-change task described in spec.md
// §4.9: for every index, walk its external ids, decide each document's
// target shard under the new topology, export documents destined for a
// remote peer, and delete them locally once exported. Export failures are
// reported through onExportError and are not fatal to the whole task; the
// document is retained so no data is lost, and Rebalance keeps going and
// reports partial progress through the returned RemoteCounts.
func Rebalance(ctx context.Context, origin Origin, topology Topology, shard ShardFunc, src IndexSource, client *ExportClient, onExportError func(indexUID, remote string, err error)) (RemoteCounts, error) {
	indexNames, err := src.List()
	if err != nil {
		return nil, err
	}

	counts := make(RemoteCounts)
	taskKey := fmt.Sprintf("%s-%d", origin.Remote, origin.TaskUID)

	for name := range indexNames {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		idx, err := src.Acquire(name)
		if err != nil {
			return counts, err
		}
		exportFailed := false
		moved, indexErr := rebalanceOne(ctx, origin, topology, shard, idx, client, taskKey, counts, func(remote string, err error) {
			exportFailed = true
			if onExportError != nil {
				onExportError(name, remote, err)
			}
		})
		src.Release(name)
		if indexErr != nil {
			return counts, indexErr
		}
		if moved == 0 && !exportFailed {
			if err := sendEmptySignal(ctx, origin, topology, client, name, taskKey); err != nil && onExportError != nil {
				onExportError(name, "", err)
			}
		}
	}
	return counts, nil
}

// rebalanceOne handles one index: it buckets every external id's document
// by target remote, exports each remote's batch as one NDJSON payload, and
// deletes the exported documents locally on success. Returns the number of
// documents moved out of this index (across all remotes).
func rebalanceOne(ctx context.Context, origin Origin, topology Topology, shard ShardFunc, idx *index.Index, client *ExportClient, taskKey string, counts RemoteCounts, onExportError func(remote string, err error)) (int64, error) {
	fields, err := idx.FieldsIDsMap()
	if err != nil {
		return 0, err
	}

	type pending struct {
		externalIDs []string
		ndjson      bytes.Buffer
	}
	batches := make(map[string]*pending)

	err = idx.Env().View(func(tx *kv.Tx) error {
		docsB, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		extB, err := tx.Bucket(index.BucketExternalIDs)
		if err != nil {
			return err
		}

		extB.Cursor().ForEach(func(k, v []byte) bool {
			externalID := string(k)
			remote := shard(topology, externalID)
			if remote == "" {
				return true
			}
			internalID := codec.DecodeUint32(v)
			raw := index.GetDocument(docsB, internalID)
			if raw == nil {
				return true
			}
			doc, decodeErr := index.DecodeDocument(fields, raw)
			if decodeErr != nil {
				return true
			}
			line, marshalErr := json.Marshal(doc)
			if marshalErr != nil {
				return true
			}
			b, ok := batches[remote]
			if !ok {
				b = &pending{}
				batches[remote] = b
			}
			b.externalIDs = append(b.externalIDs, externalID)
			b.ndjson.Write(line)
			b.ndjson.WriteByte('\n')
			return true
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	var totalMoved int64
	for remoteName, batch := range batches {
		remote, ok := topology.Remotes[remoteName]
		if !ok {
			continue
		}
		req := ExportRequest{
			Remote: remote,
			Index:  idx.UID,
			NDJSON: batch.ndjson.Bytes(),
			Origin: origin,
			Import: ImportMetadata{
				Remote:     origin.Remote,
				Index:      idx.UID,
				Docs:       int64(len(batch.externalIDs)),
				IndexCount: len(batches),
				TaskKey:    taskKey,
			},
		}
		if err := client.Do(ctx, req); err != nil {
			onExportError(remoteName, err)
			continue
		}
		counts[remoteName] += int64(len(batch.externalIDs))
		totalMoved += int64(len(batch.externalIDs))

		if err := deleteExportedDocuments(idx, batch.externalIDs); err != nil {
			return totalMoved, err
		}
	}
	return totalMoved, nil
}

// deleteExportedDocuments removes the given external ids from idx now that
// they've been durably exported, via the same indexer pipeline a
// documentDeletion task uses.
func deleteExportedDocuments(idx *index.Index, externalIDs []string) error {
	pipeline := indexer.New(idx)
	_, err := pipeline.DeleteDocuments(context.Background(), externalIDs)
	return err
}

// sendEmptySignal sends the "no documents" signal spec.md §4.9 requires
// for indexes with nothing to move, so waiting remotes don't block forever
// on an index that has no relocations this round.
func sendEmptySignal(ctx context.Context, origin Origin, topology Topology, client *ExportClient, indexUID, taskKey string) error {
	for remoteName, remote := range topology.Remotes {
		req := ExportRequest{
			Remote: remote,
			Index:  indexUID,
			NDJSON: nil,
			Origin: origin,
			Import: ImportMetadata{
				Remote:     origin.Remote,
				Index:      indexUID,
				Docs:       0,
				IndexCount: 0,
				TaskKey:    taskKey,
			},
		}
		if err := client.Do(ctx, req); err != nil {
			return fmt.Errorf("network: empty signal to %q: %w", remoteName, err)
		}
	}
	return nil
}
