package sdk

import (
	"context"
	"testing"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

func TestExecRunsAllowedCommand(t *testing.T) {
	client, _ := newTestBroker(t, []*policy.Policy{allowAllPolicy(policy.TargetCommand)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Exec(ctx, "/bin/echo", ExecOptions{Args: []string{"hello"}, Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", result.ExitCode, result.Stderr)
	}
	if string(result.Stdout) != "hello\n" {
		t.Fatalf("expected %q, got %q", "hello\n", result.Stdout)
	}
}

func TestExecDeniedByPolicy(t *testing.T) {
	client, _ := newTestBroker(t, []*policy.Policy{denyAllPolicy(policy.TargetCommand)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Exec(ctx, "/bin/echo", ExecOptions{Args: []string{"hello"}})
	if err == nil {
		t.Fatal("expected a deny error")
	}
}

func TestExecTimesOutAndKills(t *testing.T) {
	client, _ := newTestBroker(t, []*policy.Policy{allowAllPolicy(policy.TargetCommand)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Exec(ctx, "/bin/sleep", ExecOptions{Args: []string{"5"}, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected the command to be reported as timed out")
	}
}
