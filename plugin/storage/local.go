package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LocalStorage serves objects from a directory on disk.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage creates a LocalStorage rooted at dir. Public URLs are
// rendered under baseURL + "/file/".
func NewLocalStorage(dir, baseURL string) *LocalStorage {
	return &LocalStorage{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrObjectNotFound, "key %s", key)
		}
		return nil, errors.Wrapf(err, "failed to read object %s", key)
	}
	return data, nil
}

func (s *LocalStorage) PublicURL(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.baseURL + "/file/" + strings.Join(segments, "/")
}

// resolve maps key to a path inside root, rejecting traversal.
func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("object key is required")
	}
	cleaned := filepath.Clean("/" + filepath.FromSlash(key))
	path := filepath.Join(s.root, cleaned)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Errorf("invalid object key %q", key)
	}
	return path, nil
}

var _ ObjectStorage = (*LocalStorage)(nil)
