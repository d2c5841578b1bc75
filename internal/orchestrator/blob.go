package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// BlobStore persists original document bytes for later review viewing.
// Registry entries and documents share the same keyspace.
type BlobStore interface {
	Save(id, filename string, data []byte) error
	Load(id, filename string) ([]byte, error)
}

// LocalBlobStore keeps blobs in a flat directory, keyed by owner id plus
// the original filename.
type LocalBlobStore struct {
	dir string
}

// NewLocalBlobStore creates the directory if needed.
func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create dir %s", dir)
	}
	return &LocalBlobStore{dir: dir}, nil
}

func (b *LocalBlobStore) path(id, filename string) string {
	return filepath.Join(b.dir, id+"_"+filepath.Base(filename))
}

func (b *LocalBlobStore) Save(id, filename string, data []byte) error {
	if err := os.WriteFile(b.path(id, filename), data, 0o644); err != nil {
		return eris.Wrapf(err, "blob: write %s", filename)
	}
	return nil
}

func (b *LocalBlobStore) Load(id, filename string) ([]byte, error) {
	data, err := os.ReadFile(b.path(id, filename))
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", filename)
	}
	return data, nil
}
