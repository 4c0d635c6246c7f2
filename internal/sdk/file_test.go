package sdk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

func TestWriteThenReadFile(t *testing.T) {
	client, _ := newTestBroker(t, []*policy.Policy{allowAllPolicy(policy.TargetFilesystem)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	n, err := client.WriteFile(ctx, path, "", "hello world", nil)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if n != int64(len("hello world")) {
		t.Fatalf("expected %d bytes written, got %d", len("hello world"), n)
	}

	content, err := client.ReadFile(ctx, path, "")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", content)
	}
}

func TestListDir(t *testing.T) {
	client, _ := newTestBroker(t, []*policy.Policy{allowAllPolicy(policy.TargetFilesystem)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	entries, err := client.ListDir(ctx, dir, "", false, "")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
}

func TestWriteFileDeniedByPolicy(t *testing.T) {
	client, _ := newTestBroker(t, []*policy.Policy{denyAllPolicy(policy.TargetFilesystem)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.WriteFile(ctx, filepath.Join(t.TempDir(), "x"), "", "data", nil)
	if err == nil {
		t.Fatal("expected a deny error")
	}
}
