package seatbelt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCachePathWritesFileOnce(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	frag := Fragment{AllowedWritePaths: []string{"/Users/agent/workspace"}}
	path1, err := c.Path(frag)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	info1, err := os.Stat(path1)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	path2, err := c.Path(frag)
	if err != nil {
		t.Fatalf("path again: %v", err)
	}
	if path1 != path2 {
		t.Fatalf("expected identical fragment to reuse the cached file, got %q vs %q", path1, path2)
	}
	info2, _ := os.Stat(path2)
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatal("expected the cached file to not be rewritten on second call")
	}
}

func TestCachePathDiffersForDifferentFragments(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	p1, _ := c.Path(Fragment{AllowedWritePaths: []string{"/a"}})
	p2, _ := c.Path(Fragment{AllowedWritePaths: []string{"/b"}})
	if p1 == p2 {
		t.Fatal("expected distinct fragments to produce distinct cache files")
	}
	if filepath.Dir(p1) != dir {
		t.Fatalf("expected cache file under %q, got %q", dir, p1)
	}
}
