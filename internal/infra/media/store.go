// Package media keeps uploaded media in a flat directory and turns stored
// references back into public URLs.
package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PublicPrefix is the URL path media files are served under.
const PublicPrefix = "/uploads/"

const tempSuffix = ".tmp"

// Store writes media as {dir}/{name}. Names are flat; any path component
// in a name is rejected.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("media dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create media dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under name via a temp file, fsync and rename, so a
// reader never observes a partial file under the final name. It returns
// the public reference for the file.
func (s *Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(s.dir, "."+name+".*"+tempSuffix)
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "write media")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "fsync media")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "close media")
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "rename media")
	}
	return PublicPrefix + name, nil
}

// Delete removes name. A missing file is not an error.
func (s *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete media %s", name)
	}
	return nil
}

// Exists reports whether a regular file called name is present.
func (s *Store) Exists(name string) bool {
	if validName(name) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil && info.Mode().IsRegular()
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Errorf("invalid media name %q", name)
	case strings.ContainsAny(name, `/\`):
		return errors.Errorf("media name %q must not contain a path", name)
	case strings.HasSuffix(name, tempSuffix):
		return errors.Errorf("media name %q uses a reserved suffix", name)
	}
	return nil
}

// SaveUpload stores an upload for proof id under {id}{ext} and returns the
// file name and its public reference.
func (s *Store) SaveUpload(ctx context.Context, id, contentType, filename string, data []byte) (string, string, error) {
	name := StoredName(id, contentType, filename)
	ref, err := s.Save(ctx, name, data)
	if err != nil {
		return "", "", err
	}
	return name, ref, nil
}
