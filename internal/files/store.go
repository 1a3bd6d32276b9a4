// Package files stores opaque uploaded payloads on local disk and hands back
// a retrievable reference. Nothing in the system ever interprets the content.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Store struct {
	dir     string
	baseURL string
}

func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Save writes the payload under a fresh name, keeping only the original
// extension, and returns the reference to store.
func (s *Store) Save(r io.Reader, filename string) (string, error) {
	ext := filepath.Ext(filepath.Base(filename))
	name := uuid.New().String() + ext

	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

// Dir is the directory files are written to, for serving them back.
func (s *Store) Dir() string {
	return s.dir
}
