// Package imagestore keeps the exemplar photos behind every indexed embedding.
// Files live under <root>/<label>/<uuid><ext>; the returned path is what the
// identity ledger records as image_path.
package imagestore

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fallbackDir = "unknown"

// Store saves exemplar images under a root directory.
type Store struct {
	root string
}

// New creates a store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Save writes data as a new exemplar for label and returns its path. The
// extension comes from filename, or from the content when filename has none.
func (s *Store) Save(label, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}

	dir := filepath.Join(s.root, Slug(label))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+extension(filename, data))
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}

// Remove deletes a saved exemplar. Removing a missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing image: %w", err)
	}
	return nil
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Slug turns a label into a single safe directory name: diacritics are
// dropped and anything outside [A-Za-z0-9._-] becomes a dash.
func Slug(label string) string {
	label = RemoveDiacritics(strings.TrimSpace(label))

	var b strings.Builder
	for _, r := range label {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	slug := strings.Trim(b.String(), ".-")
	if slug == "" {
		return fallbackDir
	}
	return slug
}

// extension picks the file extension for a saved image.
func extension(filename string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(filename)); validExtension(ext) {
		return ext
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// validExtension accepts ".jpg"-style extensions of up to five alphanumerics.
func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
