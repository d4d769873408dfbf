package imagestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

const fsScheme = "file://"

// FSStore writes images under a local directory.
type FSStore struct {
	dir string
}

// NewFSStore creates dir if needed.
func NewFSStore(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "imagestore: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "imagestore: create %s", abs)
	}
	return &FSStore{dir: abs}, nil
}

// Put writes data to dir/key and returns a file:// reference.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrap(err, "imagestore: create dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "imagestore: write %s", key)
	}
	return fsScheme + path, nil
}

// Get reads back an image written by Put.
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ref, fsScheme) {
		return nil, eris.Errorf("imagestore: not a file reference %q", ref)
	}
	path := strings.TrimPrefix(ref, fsScheme)
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return nil, eris.Errorf("imagestore: reference %q outside %s", ref, s.dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "imagestore: read %s", path)
	}
	return data, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", eris.New("imagestore: empty key")
	}
	return filepath.Join(s.dir, clean), nil
}
