package seatbelt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache writes generated profiles to disk once per unique fragment,
// keyed by a deterministic hash of the rendered profile text
// (spec.md §4.5 "Profiles are written atomically to a profile cache dir
// with a deterministic filename derived from the profile hash").
type Cache struct {
	dir string
}

// NewCache returns a Cache rooted at dir, created if absent.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Path writes (if not already present) the profile for f and returns its
// path, suitable for `sandbox-exec -f <path>`.
func (c *Cache) Path(f Fragment) (string, error) {
	content := Generate(f)
	sum := sha256.Sum256([]byte(content))
	name := hex.EncodeToString(sum[:16]) + ".sb"
	path := filepath.Join(c.dir, name)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(c.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("seatbelt: create temp profile: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("seatbelt: write temp profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("seatbelt: rename temp profile: %w", err)
	}
	return path, nil
}
