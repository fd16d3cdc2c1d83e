package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
	"github.com/siftengine/sift/internal/tasks"
)

// Registry is the subset of scheduler.IndexRegistry snapshot/dump hooks
// need: enumerate every index's name and data file, and acquire/release an
// index by name while it is archived. Declared locally rather than imported so
// internal/snapshot doesn't depend on internal/scheduler.
type Registry interface {
	List() (map[string]string, error)
	Acquire(name string) (*index.Index, error)
	Release(name string)
}

// Dependencies bundles everything NewHooks needs to build the scheduler's
// CreateSnapshot/CreateDump hook functions.
type Dependencies struct {
	Registry    Registry
	Queue       *tasks.Queue
	Auth        *kv.Environment
	UpdateFiles interface {
		Dir() string
	}
	SnapshotsDir string
	DumpsDir     string
	Uploader     Uploader // nil disables remote upload; snapshot/dump stay local-only
	UploadConfig UploadConfig
}

// NewHooks returns the two scheduler.Hooks funcs that back dumpCreation and
// snapshotCreation tasks, per spec.md §4.8.
func NewHooks(deps Dependencies) (createDump, createSnapshot func(ctx context.Context, t tasks.Task) (tasks.Details, error)) {
	createDump = func(ctx context.Context, t tasks.Task) (tasks.Details, error) {
		dumpUID := t.Details.DumpUID
		if dumpUID == "" {
			dumpUID = uuid.NewString()
		}
		indexPaths, err := deps.Registry.List()
		if err != nil {
			return tasks.Details{}, err
		}
		indexes := make(map[string]*index.Index, len(indexPaths))
		for name := range indexPaths {
			idx, err := deps.Registry.Acquire(name)
			if err != nil {
				return tasks.Details{}, err
			}
			indexes[name] = idx
		}
		defer func() {
			for name := range indexes {
				deps.Registry.Release(name)
			}
		}()

		if err := os.MkdirAll(deps.DumpsDir, 0o755); err != nil {
			return tasks.Details{}, err
		}
		path := filepath.Join(deps.DumpsDir, dumpUID+".dump")
		f, err := os.Create(path)
		if err != nil {
			return tasks.Details{}, err
		}
		defer f.Close()

		err = BuildDump(ctx, f, DumpSources{Indexes: indexes, Queue: deps.Queue})
		if err != nil {
			return tasks.Details{}, errors.New(errors.CodeInternal, "dump creation failed", err)
		}
		if deps.Uploader != nil {
			if err := uploadFile(ctx, path, deps.Uploader, deps.UploadConfig); err != nil {
				return tasks.Details{}, err
			}
		}
		return tasks.Details{DumpUID: dumpUID}, nil
	}

	createSnapshot = func(ctx context.Context, t tasks.Task) (tasks.Details, error) {
		indexPaths, err := deps.Registry.List()
		if err != nil {
			return tasks.Details{}, err
		}

		var enqueuedFileIDs []string
		enqueued, err := deps.Queue.List(tasks.Filter{Statuses: []tasks.Status{tasks.StatusEnqueued}})
		if err != nil {
			return tasks.Details{}, err
		}
		for _, et := range enqueued {
			if et.ContentFile != "" {
				enqueuedFileIDs = append(enqueuedFileIDs, et.ContentFile)
			}
		}

		if err := os.MkdirAll(deps.SnapshotsDir, 0o755); err != nil {
			return tasks.Details{}, err
		}
		name := time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString() + ".snapshot"
		path := filepath.Join(deps.SnapshotsDir, name)
		f, err := os.Create(path)
		if err != nil {
			return tasks.Details{}, err
		}
		defer f.Close()

		src := Sources{
			Queue:           deps.Queue,
			Auth:            deps.Auth,
			Indexes:         indexPaths,
			OpenIndexEnv:    func(p string) (*kv.Environment, error) { return kv.Open(p, kv.Options{ReadOnly: true}) },
			UpdateFilesDir:  deps.UpdateFiles.Dir(),
			EnqueuedFileIDs: enqueuedFileIDs,
		}
		stop := &indexer.StopSignal{}
		if err := Build(ctx, f, src, stop); err != nil {
			return tasks.Details{}, errors.New(errors.CodeInternal, "snapshot creation failed", err)
		}
		if deps.Uploader != nil {
			if err := uploadFile(ctx, path, deps.Uploader, deps.UploadConfig); err != nil {
				return tasks.Details{}, err
			}
		}
		return tasks.Details{}, nil
	}
	return createDump, createSnapshot
}

func uploadFile(ctx context.Context, path string, u Uploader, cfg UploadConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Upload(ctx, f, u, cfg)
}
