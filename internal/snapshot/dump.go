package snapshot

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"time"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
	"github.com/siftengine/sift/internal/tasks"
)

// DumpMetadata is the top-level manifest, written as metadata.json at the
// root of the dump archive.
type DumpMetadata struct {
	DumpVersion string   `json:"dumpVersion"`
	DumpDate    string   `json:"dumpDate"`
	IndexUIDs   []string `json:"indexUids"`
}

// DumpVersion marks the logical dump format's own schema, independent of
// EngineVersion: dumps are meant to outlive any one binary snapshot's
// on-disk layout, per spec.md §4.8's "version-agnostic" requirement.
const DumpVersion = "1"

// DumpSources bundles what BuildDump needs to enumerate: every open index
// (name -> handle) and the task queue whose log is replayed into the
// dump's tasks file.
type DumpSources struct {
	Indexes map[string]*index.Index
	Queue   *tasks.Queue
}

// BuildDump writes src as a gzip-compressed tar of NDJSON: one
// indexes/<name>/documents.ndjson file per index (documents in internal-id
// order), one indexes/<name>/settings.json, one tasks.ndjson, and
// metadata.json, per spec.md §4.8's dump layout.
func BuildDump(ctx context.Context, w io.Writer, src DumpSources) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	var names []string
	for name, idx := range src.Indexes {
		names = append(names, name)
		if err := checkCtx(ctx); err != nil {
			return err
		}
		if err := writeIndexDocuments(tw, name, idx); err != nil {
			return err
		}
		if err := writeIndexSettings(tw, name, idx); err != nil {
			return err
		}
	}

	if err := writeTasksLog(tw, src.Queue); err != nil {
		return err
	}

	meta := DumpMetadata{DumpVersion: DumpVersion, DumpDate: time.Now().UTC().Format(time.RFC3339), IndexUIDs: names}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := writeBytesEntry(tw, "metadata.json", metaData); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func writeIndexDocuments(tw *tar.Writer, name string, idx *index.Index) error {
	fields, err := idx.FieldsIDsMap()
	if err != nil {
		return err
	}
	docIDs, err := idx.DocumentIDs()
	if err != nil {
		return err
	}

	var buf []byte
	err = idx.Env().View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		it := docIDs.Iterator()
		first := true
		for it.HasNext() {
			docID := it.Next()
			raw := index.GetDocument(b, docID)
			if raw == nil {
				continue
			}
			doc, err := index.DecodeDocument(fields, raw)
			if err != nil {
				return err
			}
			line, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if !first {
				buf = append(buf, '\n')
			}
			first = false
			buf = append(buf, line...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return writeBytesEntry(tw, filepath.Join("indexes", name, "documents.ndjson"), buf)
}

func writeIndexSettings(tw *tar.Writer, name string, idx *index.Index) error {
	settings, err := idx.Settings()
	if err != nil {
		return err
	}
	data, err := settings.Marshal()
	if err != nil {
		return err
	}
	return writeBytesEntry(tw, filepath.Join("indexes", name, "settings.json"), data)
}

func writeTasksLog(tw *tar.Writer, q *tasks.Queue) error {
	all, err := q.List(tasks.Filter{})
	if err != nil {
		return err
	}
	var buf []byte
	for i, t := range all {
		line, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, line...)
	}
	return writeBytesEntry(tw, "tasks.ndjson", buf)
}

// ImportDump replays a dump built by BuildDump: every index's settings and
// documents are applied to the index newIndex returns through an
// indexer.Pipeline, so the imported data goes through the same validation
// and postings the live write path does. Each task-log entry is passed to
// queue.Register, which gives it a fresh uid, enqueued status and new
// timestamps; its kind, index uid and details carry over.
func ImportDump(
	r io.Reader,
	queue *tasks.Queue,
	newIndex func(name string) (*index.Index, error),
) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	type pending struct {
		settingsData []byte
		documents    []index.Document
	}
	byIndex := make(map[string]*pending)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch {
		case hdr.Name == "tasks.ndjson":
			if err := importTasksLog(tr, queue); err != nil {
				return err
			}
		case filepath.Base(hdr.Name) == "settings.json":
			name := filepath.Base(filepath.Dir(hdr.Name))
			data, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			p := byIndex[name]
			if p == nil {
				p = &pending{}
				byIndex[name] = p
			}
			p.settingsData = data
		case filepath.Base(hdr.Name) == "documents.ndjson":
			name := filepath.Base(filepath.Dir(hdr.Name))
			docs, err := decodeNDJSONDocuments(tr)
			if err != nil {
				return err
			}
			p := byIndex[name]
			if p == nil {
				p = &pending{}
				byIndex[name] = p
			}
			p.documents = docs
		}
	}

	for name, p := range byIndex {
		idx, err := newIndex(name)
		if err != nil {
			return err
		}
		if len(p.settingsData) > 0 {
			settings, err := index.UnmarshalSettings(p.settingsData)
			if err != nil {
				return err
			}
			if err := idx.PutSettings(settings); err != nil {
				return err
			}
		}
		if len(p.documents) > 0 {
			pipeline := indexer.New(idx)
			if _, err := pipeline.AddDocuments(context.Background(), p.documents); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeNDJSONDocuments(r io.Reader) ([]index.Document, error) {
	var docs []index.Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc index.Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, scanner.Err()
}

func importTasksLog(r io.Reader, queue *tasks.Queue) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t tasks.Task
		if err := json.Unmarshal(line, &t); err != nil {
			return err
		}
		if _, err := queue.Register(t); err != nil {
			return err
		}
	}
	return scanner.Err()
}
