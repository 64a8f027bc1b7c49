package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store saves image bytes and returns the reference clients use to fetch them.
type Store interface {
	Save(ctx context.Context, data []byte, name string) (string, error)
}

// ImageError reports a failed image write. Ingest aborts before persisting
// the measurement when one is returned.
type ImageError struct {
	Name string
	Err  error
}

func (e *ImageError) Error() string { return fmt.Sprintf("image %s: %v", e.Name, e.Err) }
func (e *ImageError) Unwrap() error { return e.Err }

// FS stores images in a directory served under URLPrefix.
type FS struct {
	dir       string
	urlPrefix string
}

// NewFS creates dir when missing. urlPrefix is the public path the
// directory is mounted at, e.g. "/uploads".
func NewFS(dir, urlPrefix string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("imagestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: create %s: %w", dir, err)
	}
	return &FS{dir: dir, urlPrefix: "/" + strings.Trim(urlPrefix, "/")}, nil
}

// Dir is the backing directory.
func (s *FS) Dir() string { return s.dir }

// Save writes data under name via a temp file and rename, so readers never
// see a partial image.
func (s *FS) Save(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ImageError{Name: name, Err: err}
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", &ImageError{Name: name, Err: errors.New("invalid file name")}
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", &ImageError{Name: name, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &ImageError{Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &ImageError{Name: name, Err: err}
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", &ImageError{Name: name, Err: err}
	}
	return path.Join(s.urlPrefix, name), nil
}
