package services

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// MediaStore keeps synthesized audio until Telnyx fetches it for playback
type MediaStore struct {
	fs      afero.Fs
	baseURL string
}

// NewMediaStore creates a store over fs; baseURL is the public origin the
// /media route is reachable on.
func NewMediaStore(fs afero.Fs, baseURL string) *MediaStore {
	return &MediaStore{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

// mediaExts are the audio formats the store writes. Names outside
// <uuid>.<ext> are never served or pruned, so a shared directory is safe.
var mediaExts = map[string]bool{"mp3": true, "wav": true}

// Save writes data under a fresh name with the given extension
func (m *MediaStore) Save(ext string, data []byte) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if !mediaExts[ext] {
		return "", errors.Wrapf(ErrInvalidArgument, "unsupported media type %q", ext)
	}
	name := uuid.NewString() + "." + ext
	if err := afero.WriteFile(m.fs, "/"+name, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing media %s", name)
	}
	return name, nil
}

// Open returns the named file for reading
func (m *MediaStore) Open(name string) (afero.File, error) {
	if err := validMediaName(name); err != nil {
		return nil, err
	}
	f, err := m.fs.Open("/" + name)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "media %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening media %s", name)
	}
	return f, nil
}

// Remove deletes a stored file
func (m *MediaStore) Remove(name string) error {
	if err := validMediaName(name); err != nil {
		return err
	}
	if err := m.fs.Remove("/" + name); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing media %s", name)
	}
	return nil
}

// URL is where Telnyx can fetch the named file
func (m *MediaStore) URL(name string) string {
	return m.baseURL + "/media/" + name
}

// Prune removes stored files last modified before now minus maxAge and
// returns how many were removed. Files the store did not name are left alone.
func (m *MediaStore) Prune(maxAge time.Duration) (int, error) {
	entries, err := afero.ReadDir(m.fs, "/")
	if err != nil {
		return 0, errors.Wrap(err, "listing media")
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.ModTime().After(cutoff) || validMediaName(entry.Name()) != nil {
			continue
		}
		if err := m.fs.Remove("/" + entry.Name()); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "removing media %s", entry.Name())
		}
		removed++
	}
	return removed, nil
}

func validMediaName(name string) error {
	stem, ext, ok := strings.Cut(name, ".")
	if !ok || !mediaExts[ext] {
		return errors.Wrapf(ErrInvalidArgument, "bad media name %q", name)
	}
	if _, err := uuid.Parse(stem); err != nil || len(stem) != 36 {
		return errors.Wrapf(ErrInvalidArgument, "bad media name %q", name)
	}
	return nil
}
