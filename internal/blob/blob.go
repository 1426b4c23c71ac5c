// Package blob stores card images under public URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is an object store addressed by slash-separated paths.
type Store interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
	PublicURL(objectPath string) string
	Remove(ctx context.Context, objectPaths []string) error
	// PathFromURL reports the object path behind a public URL of this store.
	PathFromURL(url string) (string, bool)
}

// FSStore keeps objects as files under Dir on an afero filesystem and
// serves them under BaseURL.
type FSStore struct {
	fs      afero.Fs
	dir     string
	baseURL string
}

// NewFSStore returns a store rooted at dir. baseURL is the public prefix
// the files are served under.
func NewFSStore(fs afero.Fs, dir, baseURL string) *FSStore {
	return &FSStore{fs: fs, dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *FSStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("refusing to store %s as %q", objectPath, contentType)
	}
	file, err := s.file(objectPath)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, file, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", objectPath, err)
	}
	return s.PublicURL(objectPath), nil
}

func (s *FSStore) PublicURL(objectPath string) string {
	return s.baseURL + "/" + strings.TrimPrefix(objectPath, "/")
}

// Remove deletes every listed object. Missing objects are ignored; the
// first other failure is returned after all paths were attempted.
func (s *FSStore) Remove(ctx context.Context, objectPaths []string) error {
	var errs []error
	for _, p := range objectPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		file, err := s.file(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.fs.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove blob %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FSStore) PathFromURL(url string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	p := strings.TrimPrefix(url, prefix)
	return p, p != ""
}

// Open returns the content of an object.
func (s *FSStore) Open(objectPath string) ([]byte, error) {
	file, err := s.file(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", objectPath, err)
	}
	return data, nil
}

// file maps an object path to a file under dir, rejecting paths that would
// escape it.
func (s *FSStore) file(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob path %q", objectPath)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}
