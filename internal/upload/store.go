package upload

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

var (
	ErrInvalidFilename      = errors.New("invalid filename")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrTooLarge             = errors.New("upload exceeds size limit")
)

// File is a configuration file persisted in the scratch directory.
type File struct {
	Name      string    `json:"filename"`
	Path      string    `json:"-"`
	Extension string    `json:"extension"`
	Size      int64     `json:"size"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store persists uploaded configuration files into a scratch directory.
type Store struct {
	dir        string
	extensions map[string]bool
	maxBytes   int64
}

func NewStore(dir string, extensions []string, maxBytes int64) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("upload directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving upload directory %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating upload directory %s", abs)
	}

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = normalizeExtension(ext)
		if ext != "" {
			allowed[ext] = true
		}
	}
	return &Store{dir: abs, extensions: allowed, maxBytes: maxBytes}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Extensions returns the accepted extensions without the leading dot.
func (s *Store) Extensions() []string {
	out := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		out = append(out, ext)
	}
	return out
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// MaxSize is MaxBytes for humans, e.g. "64 MiB".
func (s *Store) MaxSize() string {
	if s.maxBytes <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(s.maxBytes))
}

// CleanName reduces a client-supplied filename to its base name and validates it.
func (s *Store) CleanName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ErrInvalidFilename
	}
	if strings.HasPrefix(name, ".") {
		return "", errors.Wrapf(ErrInvalidFilename, "%q", name)
	}
	ext := normalizeExtension(filepath.Ext(name))
	if len(s.extensions) > 0 && !s.extensions[ext] {
		return "", errors.Wrapf(ErrUnsupportedExtension, ".%s", ext)
	}
	return name, nil
}

// Save writes r under the cleaned name, replacing any previous upload with that name.
func (s *Store) Save(name string, r io.Reader) (*File, error) {
	clean, err := s.CleanName(name)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "writing %s", clean)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "limit %s", s.MaxSize())
	}

	final := filepath.Join(s.dir, clean)
	if err := os.Rename(tmpName, final); err != nil {
		return nil, errors.Wrapf(err, "moving upload into place as %s", clean)
	}
	tmpName = ""

	return &File{
		Name:      clean,
		Path:      final,
		Extension: normalizeExtension(filepath.Ext(clean)),
		Size:      n,
		SavedAt:   time.Now().UTC(),
	}, nil
}

// Path returns where an upload with this name lives.
func (s *Store) Path(name string) (string, error) {
	clean, err := s.CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *Store) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sweep deletes uploads (and their sidecar files) last modified before now-olderThan.
// Names for which keep returns true are left alone.
func (s *Store) Sweep(olderThan time.Duration, keep func(name string) bool) ([]string, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", s.dir)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if keep != nil && keep(ownerName(name, s.extensions)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "removing %s", name)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// ownerName maps "model.xml.log" back to "model.xml" so sidecars share the upload's fate.
func ownerName(name string, extensions map[string]bool) string {
	for {
		if extensions[normalizeExtension(filepath.Ext(name))] {
			return name
		}
		trimmed := strings.TrimSuffix(name, filepath.Ext(name))
		if trimmed == name || trimmed == "" {
			return name
		}
		name = trimmed
	}
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
