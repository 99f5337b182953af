// Package storage keeps the photo directory of each parcel.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sipanop/webgis/api/internal/models"
	"github.com/spf13/afero"
)

const parcelDir = "nop"

var ErrInvalidFileName = errors.New("invalid file name")

// PhotoStore stores parcel photos under nop/{d_nop}/ of its filesystem.
type PhotoStore struct {
	fs        afero.Fs
	urlPrefix string
	now       func() time.Time
}

// NewPhotoStore creates a PhotoStore rooted at fs. URLs are built as
// {urlPrefix}/nop/{d_nop}/{file}.
func NewPhotoStore(fs afero.Fs, urlPrefix string) *PhotoStore {
	return &PhotoStore{
		fs:        fs,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for file name prefixes.
func (s *PhotoStore) SetClock(now func() time.Time) {
	s.now = now
}

// Fs returns the underlying filesystem.
func (s *PhotoStore) Fs() afero.Fs {
	return s.fs
}

func (s *PhotoStore) dir(nop string) (string, error) {
	if err := models.ValidateCode(nop); err != nil {
		return "", err
	}
	return path.Join(parcelDir, nop), nil
}

// List returns the photo URLs of a parcel sorted by file name, which is
// upload order. A parcel without a directory has no photos.
func (s *PhotoStore) List(nop string) ([]string, error) {
	dir, err := s.dir(nop)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list photos of %s: %w", nop, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)

	urls := make([]string, len(names))
	for i, name := range names {
		urls[i] = s.URL(nop, name)
	}
	return urls, nil
}

// maxNameAttempts bounds the search for a free {unixMillis}_{basename} name.
const maxNameAttempts = 1000

// Save writes r as {unixMillis}_{basename} and returns the stored name. When
// the name is taken the millisecond prefix is advanced until it is free, so
// an earlier upload is never overwritten and listing order stays upload order.
func (s *PhotoStore) Save(nop, filename string, r io.Reader) (string, error) {
	dir, err := s.dir(nop)
	if err != nil {
		return "", err
	}
	base, err := cleanName(filename)
	if err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	name, err := s.freeName(dir, base)
	if err != nil {
		return "", err
	}
	if err := afero.WriteReader(s.fs, path.Join(dir, name), r); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return name, nil
}

func (s *PhotoStore) freeName(dir, base string) (string, error) {
	millis := s.now().UnixMilli()
	for i := 0; i < maxNameAttempts; i++ {
		name := fmt.Sprintf("%d_%s", millis+int64(i), base)
		exists, err := afero.Exists(s.fs, path.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", base, dir)
}

// Delete removes the named photos. Names may be bare file names or URLs
// returned by List. Missing files are ignored.
func (s *PhotoStore) Delete(nop string, names ...string) error {
	dir, err := s.dir(nop)
	if err != nil {
		return err
	}

	var errs []error
	for _, n := range names {
		base, err := cleanName(path.Base(n))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.fs.Remove(path.Join(dir, base)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", base, err))
		}
	}
	return errors.Join(errs...)
}

// Move moves the photos of from into the directory of to, merging with
// any photos already there, and removes the old directory.
func (s *PhotoStore) Move(from, to string) error {
	src, err := s.dir(from)
	if err != nil {
		return err
	}
	dst, err := s.dir(to)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}

	exists, err := afero.DirExists(s.fs, src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !exists {
		return nil
	}

	if err := s.fs.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	infos, err := afero.ReadDir(s.fs, src)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", src, err)
	}
	for _, info := range infos {
		if err := s.fs.Rename(path.Join(src, info.Name()), path.Join(dst, info.Name())); err != nil {
			return fmt.Errorf("failed to move %s: %w", info.Name(), err)
		}
	}
	return s.fs.RemoveAll(src)
}

// RemoveAll deletes the photo directory of a parcel.
func (s *PhotoStore) RemoveAll(nop string) error {
	dir, err := s.dir(nop)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

// URL returns the public URL of a stored photo.
func (s *PhotoStore) URL(nop, name string) string {
	return s.urlPrefix + "/" + path.Join(parcelDir, nop, name)
}

func cleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String(), nil
}
