// Package artifacts stores generated media files on local disk and builds their public URLs.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Kind is the top-level directory an artifact lives in.
type Kind string

const (
	KindMusic Kind = "music"
	KindImage Kind = "images"
	KindVideo Kind = "videos"
)

var ErrInvalidLocator = errors.New("invalid artifact locator")

// Kinds lists every artifact directory managed by a Store.
func Kinds() []Kind { return []Kind{KindMusic, KindImage, KindVideo} }

// Store maps locators ("music/abc.mp3") to files under a root directory.
type Store struct {
	root    string
	baseURL string
}

func NewStore(root, publicBaseURL string) (*Store, error) {
	abs, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	for _, k := range Kinds() {
		if err := os.MkdirAll(filepath.Join(abs, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("create artifacts dir %s: %w", k, err)
		}
	}
	return &Store{root: abs, baseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")}, nil
}

// Locator returns the locator for name under kind without touching disk.
func Locator(kind Kind, name string) string {
	return path.Join(string(kind), name)
}

// Save writes r to kind/name atomically and returns its locator.
func (s *Store) Save(kind Kind, name string, r io.Reader) (string, error) {
	locator := Locator(kind, name)
	dst, err := s.Path(locator)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact %s: %w", locator, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact %s: %w", locator, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("commit artifact %s: %w", locator, err)
	}
	return locator, nil
}

// Path resolves a locator to an absolute file path, rejecting anything outside the store.
func (s *Store) Path(locator string) (string, error) {
	kind, name, ok := strings.Cut(locator, "/")
	if !ok || !validKind(Kind(kind)) || !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(s.root, kind, name), nil
}

// Exists reports whether the artifact behind locator is present on disk.
func (s *Store) Exists(locator string) bool {
	p, err := s.Path(locator)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// URL returns the public URL served by the /files route for locator.
func (s *Store) URL(locator string) string {
	return s.baseURL + "/files/" + locator
}

// ValidName accepts plain file names only: no separators, no dot-files, no traversal.
func ValidName(name string) bool {
	if name == "" || len(name) > 200 || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func validKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
