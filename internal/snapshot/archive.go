package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
	"github.com/siftengine/sift/internal/tasks"
)

// EngineVersion is written as the archive's version marker, matching the
// persisted data directory's own top-level VERSION file.
const EngineVersion = "1"

// Sources bundles every environment and file store a binary snapshot
// archives, per spec.md §4.8's persisted-layout list: the task queue, the
// auth store (optional — nil when auth is disabled), every index's data
// file, and the update-file payloads belonging to still-enqueued tasks.
type Sources struct {
	Queue        *tasks.Queue
	Auth         *kv.Environment   // nil when no auth store is configured
	Indexes      map[string]string // index name -> data file path
	OpenIndexEnv func(path string) (*kv.Environment, error)

	UpdateFilesDir  string
	EnqueuedFileIDs []string
}

// Build streams a gzip-compressed tar archive of src to w. It holds only
// read transactions against each environment for the duration of its own
// copy, so concurrent writers are never blocked; stop, if non-nil, is
// polled between entries so a canceled snapshot task aborts promptly
// instead of running to completion.
func Build(ctx context.Context, w io.Writer, src Sources, stop *indexer.StopSignal) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := writeEnvEntry(tw, "tasks/data.mdb", src.Queue.Env()); err != nil {
		return err
	}
	if err := checkStop(ctx, stop); err != nil {
		return err
	}

	if src.Auth != nil {
		if err := writeEnvEntry(tw, "auth/data.mdb", src.Auth); err != nil {
			return err
		}
	}

	for name, path := range src.Indexes {
		if err := checkStop(ctx, stop); err != nil {
			return err
		}
		env, err := src.OpenIndexEnv(path)
		if err != nil {
			return err
		}
		err = writeEnvEntry(tw, filepath.Join("indexes", name, "data.mdb"), env)
		closeErr := env.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}

	for _, id := range src.EnqueuedFileIDs {
		if err := checkStop(ctx, stop); err != nil {
			return err
		}
		if err := writeFileEntry(tw, filepath.Join("update_files", id), filepath.Join(src.UpdateFilesDir, id)); err != nil {
			return err
		}
	}

	if err := writeBytesEntry(tw, "VERSION", []byte(EngineVersion)); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func checkStop(ctx context.Context, stop *indexer.StopSignal) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if stop != nil && stop.Stopped() {
		return context.Canceled
	}
	return nil
}

// writeEnvEntry snapshots env into a temp file (kv.Environment.Snapshot
// needs a Writer, and tar needs a known size up front for its header) and
// copies that file's bytes into the archive under name.
func writeEnvEntry(tw *tar.Writer, name string, env *kv.Environment) error {
	tmp, err := os.CreateTemp("", "sift-snapshot-*.mdb")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := env.Snapshot(tmp); err != nil {
		return err
	}
	info, err := tmp.Stat()
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: info.Size(), Mode: 0o644}); err != nil {
		return err
	}
	_, err = io.Copy(tw, tmp)
	return err
}

func writeFileEntry(tw *tar.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: info.Size(), Mode: 0o644}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func writeBytesEntry(tw *tar.Writer, name string, data []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Restore extracts a snapshot archive previously written by Build into
// dataDir, recreating the tasks/, auth/, indexes/, and update_files/
// subtrees it contains.
func Restore(r io.Reader, dataDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		dest := filepath.Join(dataDir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}
