package scheduler

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// UpdateFileStore persists the opaque payload files tasks reference by
// id, each stored under a freshly minted uuid (spec.md's
// update_files/<uuid> layout). Document-addition files hold
// newline-delimited JSON, the normalized form every accepted content type
// (JSON array, NDJSON, CSV) is converted to before a task is registered;
// deletion, settings and task-filter payloads are stored as plain JSON.
type UpdateFileStore struct {
	dir string
}

// OpenUpdateFileStore ensures dataDir/update_files exists and returns a
// store rooted there.
func OpenUpdateFileStore(dataDir string) (*UpdateFileStore, error) {
	dir := filepath.Join(dataDir, "update_files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &UpdateFileStore{dir: dir}, nil
}

// Store writes data under a freshly minted id and returns it.
func (s *UpdateFileStore) Store(data []byte) (string, error) {
	id := uuid.NewString()
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return "", err
	}
	return id, nil
}

// Read loads the payload for id.
func (s *UpdateFileStore) Read(id string) ([]byte, error) {
	return os.ReadFile(s.path(id))
}

// Delete removes the payload for id. Deleting an id that was already
// removed (or never existed) is not an error, matching spec.md's
// "delete update files owned by finalized tasks" step tolerating
// already-cleaned-up files after a crash mid-finalization.
func (s *UpdateFileStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *UpdateFileStore) path(id string) string {
	return filepath.Join(s.dir, id)
}

// Dir returns the store's root directory, used by internal/snapshot to
// locate individual payload files by id when archiving enqueued tasks.
func (s *UpdateFileStore) Dir() string {
	return s.dir
}
