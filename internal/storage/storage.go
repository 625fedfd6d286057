package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

const (
	ReleasesDir = "releases"
	AssetsDir   = "assets"
)

var ErrNotExist = errors.New("object does not exist")

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Object is an opened, randomly accessible object. Zip archives need
// io.ReaderAt, downloads need io.ReadSeeker via io.NewSectionReader.
type Object interface {
	io.ReaderAt
	io.Closer
	Info() ObjectInfo
}

// Store gives read access to the release and asset objects. Keys are slash
// separated and relative to the store root, e.g. "releases/foo-1.0.0.zip".
type Store interface {
	// List returns the base names of the objects directly below dir.
	List(ctx context.Context, dir string) ([]string, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Open(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
}

func Key(dir, name string) string {
	return dir + "/" + name
}

// Exists reports whether key is present in the store.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
