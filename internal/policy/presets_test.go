package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPresetBundlesMissingDirIsEmpty(t *testing.T) {
	bundles, err := LoadPresetBundles(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundles) != 0 {
		t.Fatalf("expected no bundles, got %v", bundles)
	}
}

func TestLoadPresetBundlesParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
id: coding-assistant
policies:
  - name: allow workspace reads
    action: allow
    targetKind: filesystem
    patterns: ["/workspace/**"]
    priority: 10
  - name: deny ssh keys
    action: deny
    targetKind: filesystem
    patterns: ["/home/*/.ssh/**"]
    enabled: true
    priority: 100
`
	if err := os.WriteFile(filepath.Join(dir, "coding-assistant.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	bundles, err := LoadPresetBundles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	policies, ok := bundles["coding-assistant"]
	if !ok {
		t.Fatalf("expected a coding-assistant bundle, got %v", bundles)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
	if policies[0].Action != ActionAllow || policies[0].TargetKind != TargetFilesystem {
		t.Fatalf("unexpected first policy: %+v", policies[0])
	}
	if !policies[0].Enabled {
		t.Fatal("expected default-omitted enabled to be true")
	}
	if policies[1].Priority != 100 {
		t.Fatalf("expected priority 100, got %d", policies[1].Priority)
	}
}

func TestLoadPresetBundlesRejectsMissingID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("policies: []\n"), 0600); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	if _, err := LoadPresetBundles(dir); err == nil {
		t.Fatal("expected an error for a preset file missing its id")
	}
}

func TestLoadPresetBundlesIgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a preset"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	bundles, err := LoadPresetBundles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundles) != 0 {
		t.Fatalf("expected no bundles, got %v", bundles)
	}
}
