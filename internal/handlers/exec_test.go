package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

func TestExecRejectsUnresolvedCommand(t *testing.T) {
	d := newTestDeps(t, nil)
	_, rpcErr := d.Exec(context.Background(), mustJSON(t, execParams{Command: "frobnicate-not-a-real-binary"}))
	if rpcErr == nil || rpcErr.Code != 1007 {
		t.Fatalf("expected 1007 command-not-allowed, got %v", rpcErr)
	}
}

func TestExecRunsNativeMkdirBuiltin(t *testing.T) {
	d := newTestDeps(t, nil)
	target := filepath.Join(t.TempDir(), "a", "b")

	result, rpcErr := d.Exec(context.Background(), mustJSON(t, execParams{
		Command: "mkdir", Args: []string{"-p", target},
	}))
	if rpcErr != nil {
		t.Fatalf("exec failed: %v", rpcErr)
	}
	if result.(execResult).ExitCode != 0 {
		t.Fatalf("unexpected exit code: %+v", result)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}
}

func TestExecSpawnsAndCapturesOutput(t *testing.T) {
	d := newTestDeps(t, nil)
	result, rpcErr := d.Exec(context.Background(), mustJSON(t, execParams{
		Command: "bash", Args: []string{"-c", "echo hello"},
	}))
	if rpcErr != nil {
		t.Fatalf("exec failed: %v", rpcErr)
	}
	res := result.(execResult)
	if res.ExitCode != 0 {
		t.Fatalf("unexpected exit code: %d", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestExecDeniedByCommandPolicy(t *testing.T) {
	d := newTestDeps(t, []*policy.Policy{
		{ID: "p1", Name: "block-bash", Action: policy.ActionDeny, TargetKind: policy.TargetCommand,
			Patterns: []string{"bash"}, Enabled: true, Priority: 10},
	})
	_, rpcErr := d.Exec(context.Background(), mustJSON(t, execParams{Command: "bash", Args: []string{"-c", "echo hi"}}))
	if rpcErr == nil || rpcErr.Code != 1007 {
		t.Fatalf("expected 1007 from policy denial, got %v", rpcErr)
	}
}

func TestExecFSCommandArgumentDeniedByPathPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.env")
	os.WriteFile(path, []byte("x"), 0644)

	d := newTestDeps(t, []*policy.Policy{
		{ID: "p1", Name: "block-env", Action: policy.ActionDeny, TargetKind: policy.TargetFilesystem,
			Patterns: []string{"**/*.env"}, Enabled: true, Priority: 10},
	})

	_, rpcErr := d.Exec(context.Background(), mustJSON(t, execParams{Command: "cat", Args: []string{path}}))
	if rpcErr == nil || rpcErr.Code != 1008 {
		t.Fatalf("expected 1008 path-not-allowed, got %v", rpcErr)
	}
}

func TestExecRejectsShellMetacharacterArgs(t *testing.T) {
	d := newTestDeps(t, nil)
	_, rpcErr := d.Exec(context.Background(), mustJSON(t, execParams{
		Command: "bash", Args: []string{"-c", "echo $(whoami)"},
	}))
	if rpcErr == nil || rpcErr.Code != 1007 {
		t.Fatalf("expected 1007 for shell metacharacter injection, got %v", rpcErr)
	}
}

func TestExecMergesInjectedSecretsOverCallerEnv(t *testing.T) {
	merged := mergeEnv(map[string]string{"FOO": "caller"}, nil, map[string]string{"FOO": "secret", "BAR": "baz"})
	has := func(kv string) bool {
		for _, e := range merged {
			if e == kv {
				return true
			}
		}
		return false
	}
	if !has("FOO=secret") {
		t.Fatalf("expected secret to override caller env, got %v", merged)
	}
	if !has("BAR=baz") {
		t.Fatalf("expected secret-only var present, got %v", merged)
	}
}

func TestExecMergeEnvStripsDangerousCallerVars(t *testing.T) {
	merged := mergeEnv(map[string]string{
		"HOME":                  "/Users/agent",
		"LD_PRELOAD":            "/x.so",
		"DYLD_INSERT_LIBRARIES": "/evil.dylib",
		"PYTHONPATH":            "/tmp/evil",
	}, nil, nil)
	for _, e := range merged {
		name, _, _ := strings.Cut(e, "=")
		if name == "LD_PRELOAD" || name == "DYLD_INSERT_LIBRARIES" || name == "PYTHONPATH" {
			t.Fatalf("expected dangerous var to be stripped, got %v", merged)
		}
	}
	if len(merged) == 0 {
		t.Fatal("expected HOME to survive as a base-allowed var")
	}
}

func TestExecInjectsSecretsEvenWhenNameIsNotBaseAllowed(t *testing.T) {
	merged := mergeEnv(nil, nil, map[string]string{"CUSTOM_API_TOKEN": "abc123"})
	found := false
	for _, e := range merged {
		if e == "CUSTOM_API_TOKEN=abc123" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected injected secret to survive regardless of allowlist, got %v", merged)
	}
}

func TestNonFlagArgsSkipsValueFlags(t *testing.T) {
	args := []string{"-X", "POST", "-H", "Accept: json", "https://example.com"}
	got := nonFlagArgs(args, curlFlagsWithValue)
	if len(got) != 1 || got[0] != "https://example.com" {
		t.Fatalf("unexpected non-flag args: %v", got)
	}
}
