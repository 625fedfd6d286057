package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type FileSystem struct {
	root string
}

func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

func (f *FileSystem) Root() string {
	return f.root
}

func (f *FileSystem) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func wrapNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotExist, err)
	}
	return err
}

func (f *FileSystem) List(_ context.Context, dir string) ([]string, error) {
	p, err := f.path(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	ret := make([]string, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Type().IsRegular():
			ret = append(ret, e.Name())
		case e.Type()&fs.ModeSymlink != 0:
			// Stat follows the link, dangling links are skipped
			fi, err := os.Stat(filepath.Join(p, e.Name()))
			if err == nil && fi.Mode().IsRegular() {
				ret = append(ret, e.Name())
			}
		}
	}
	return ret, nil
}

func (f *FileSystem) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, wrapNotExist(err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotExist, key)
	}
	return &ObjectInfo{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

type fileObject struct {
	*os.File
	info ObjectInfo
}

func (o *fileObject) Info() ObjectInfo {
	return o.info
}

func (f *FileSystem) Open(ctx context.Context, key string) (Object, error) {
	info, err := f.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	p, _ := f.path(key)
	file, err := os.Open(p)
	if err != nil {
		return nil, wrapNotExist(err)
	}
	return &fileObject{File: file, info: *info}, nil
}

// Put writes the object to a temporary file first and renames it into place,
// so readers never observe a partially written archive.
func (f *FileSystem) Put(_ context.Context, key string, r io.Reader, _ string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
