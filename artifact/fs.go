package artifact

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/errors"
)

// FSStore writes artifacts under a local directory
type FSStore struct {
	dir    string
	prefix string
}

// NewFSStore creates the base directory if needed
func NewFSStore(dir, prefix string) (*FSStore, error) {
	if dir == "" {
		dir = "artifacts"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve artifacts dir %s", dir)
	}
	if err := os.MkdirAll(abs, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create artifacts dir %s", abs)
	}
	return &FSStore{dir: abs, prefix: prefix}, nil
}

// Put writes the artifact atomically: temp file then rename
func (s *FSStore) Put(ctx context.Context, jobID string, artifact json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey(s.prefix, jobID)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), am.DefaultDirPermissions); err != nil {
		return "", errors.Wrap(err, "failed to create artifact dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".artifact-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp artifact")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(artifact); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "failed to write artifact")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "failed to sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close artifact")
	}
	if err := os.Chmod(tmp.Name(), am.DefaultFilePermissions); err != nil {
		return "", errors.Wrap(err, "failed to set artifact permissions")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", errors.Wrapf(err, "failed to move artifact into place for job %s", jobID)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}

// Dir returns the absolute base directory
func (s *FSStore) Dir() string {
	return s.dir
}
