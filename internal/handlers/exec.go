package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/allowlist"
	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
	"github.com/agen-co/agenshield-sub008/internal/seatbelt"
)

const (
	defaultExecTimeout   = 30 * time.Second
	minHTTPExecTimeout   = 5 * time.Minute
	execKillGracePeriod  = 5 * time.Second
	maxExecStreamCapture = 10 * 1024 * 1024
)

type execParams struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMS int64             `json:"timeoutMs,omitempty"`
}

type execResult struct {
	ExitCode            int      `json:"exitCode"`
	Stdout              string   `json:"stdout"`
	Stderr              string   `json:"stderr"`
	TimedOut            bool     `json:"timedOut"`
	InjectedSecretNames []string `json:"injectedSecretNames,omitempty"`
}

// Exec runs the spec's hardest handler (spec.md §4.4 "exec"): resolve via
// the allowlist, constrain by command class, inject policy-bound secrets,
// and run either a native builtin or a sandboxed spawn.
func (d *Deps) Exec(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	channel := rpc.ChannelFromContext(ctx)

	var p execParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Command == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "command is required")
	}
	if err := policy.ValidateExecArgs(p.Args); err != nil {
		d.record("exec", channel, false, p.Command, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeCommandNotAllowed, err.Error())
	}

	// Step 1: resolve the command to an existing absolute path.
	var abs string
	var ok bool
	if filepath.IsAbs(p.Command) {
		abs, ok = p.Command, d.Commands.ResolveAbsolute(p.Command)
	} else {
		abs, ok = d.Commands.Resolve(p.Command)
	}
	if !ok {
		d.record("exec", channel, false, p.Command, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeCommandNotAllowed, p.Command)
	}
	basename := filepath.Base(abs)

	// Step 2: effective cwd.
	cwd := p.Cwd
	if cwd == "" {
		cwd = filepath.Join(d.AgentHome, ".workspace")
	}

	// Step 3: FS-command argument validation against filesystem policies.
	if allowlist.FSCommands[basename] {
		pathArgs := nonFlagArgs(p.Args, nil)
		if basename == "chmod" && len(pathArgs) > 0 {
			pathArgs = pathArgs[1:]
		}
		for _, arg := range pathArgs {
			argDecision, argAbs := d.checkFilesystem(ctx, "exec", arg, cwd)
			if !argDecision.Allowed {
				d.record("exec", channel, false, argAbs, audit.ResultDenied, start, nil, nil, nil)
				return nil, rpc.NewError(rpc.CodePathNotAllowed, argDecision.Reason)
			}
		}
	}

	// Step 4: HTTP-exec commands submit their URL through the engine.
	isHTTPExec := allowlist.HTTPExecCommands[basename]
	if isHTTPExec {
		urlArgs := nonFlagArgs(p.Args, flagsForHTTPExec(basename))
		if len(urlArgs) > 0 {
			cc := callContext(channel, cwd)
			decision := d.Engine.Decide(ctx, policy.Scope{}, policy.Target{
				Operation: "http_request",
				Kind:      policy.TargetURL,
				Raw:       urlArgs[0],
			}, cc)
			if !decision.Allowed {
				d.record("exec", channel, false, urlArgs[0], audit.ResultDenied, start, nil, nil, nil)
				return nil, rpc.NewError(rpc.CodeURLNotAllowed, decision.Reason)
			}
		}
	}

	// Step 5: effective timeout.
	timeout := defaultExecTimeout
	if p.TimeoutMS > 0 {
		timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	if isHTTPExec && timeout < minHTTPExecTimeout {
		timeout = minHTTPExecTimeout
	}

	// The exec-level policy check against the command itself, which also
	// carries the sandbox fragment and the policy id secrets are bound to.
	cc := callContext(channel, cwd)
	decision := d.Engine.Decide(ctx, policy.Scope{}, policy.Target{
		Operation: "exec",
		Kind:      policy.TargetCommand,
		Raw:       basename,
	}, cc)
	if !decision.Allowed {
		d.record("exec", channel, false, basename, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeCommandNotAllowed, decision.Reason)
	}

	// Step 6: resolve and merge policy-bound secrets.
	var secretNames []string
	var secrets map[string]string
	if decision.PolicyID != "" && d.Secrets != nil {
		secrets = d.Secrets.ForPolicy(decision.PolicyID)
		for name := range secrets {
			secretNames = append(secretNames, name)
		}
	}
	env := mergeEnv(p.Env, decision.Sandbox, secrets)

	// Step 7: native builtin fallback for the fixed five-command subset.
	if nativeFSCommands[basename] {
		if handled, nativeErr := runNativeFSCommand(basename, p.Args); handled && nativeErr == nil {
			d.record("exec", channel, true, basename, audit.ResultSuccess, start, secretNames, intPtr(0), nil)
			d.publish("exec:monitor", map[string]interface{}{
				"command": p.Command, "exitCode": 0, "timedOut": false,
			})
			return execResult{ExitCode: 0, InjectedSecretNames: secretNames}, nil
		}
	}

	// Step 8: spawn, optionally seatbelt-wrapped.
	spawnPath := abs
	spawnArgs := p.Args
	if decision.Sandbox != nil && decision.Sandbox.Enabled && d.Seatbelt != nil {
		frag := seatbeltFragmentFrom(decision.Sandbox, d.SocketDirs)
		profilePath, err := d.Seatbelt.Path(frag)
		if err == nil {
			spawnArgs = append([]string{"-f", profilePath, abs}, p.Args...)
			spawnPath = "/usr/bin/sandbox-exec"
		}
	}

	cmd := exec.Command(spawnPath, spawnArgs...)
	cmd.Dir = cwd
	cmd.Env = env
	stdout := newCappedBuffer(maxExecStreamCapture)
	stderr := newCappedBuffer(maxExecStreamCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		d.record("exec", channel, true, basename, audit.ResultError, start, secretNames, nil, nil)
		return nil, rpc.NewError(rpc.CodeExec, err.Error())
	}

	exitCode, timedOut := waitWithGrace(cmd, timeout)

	d.record("exec", channel, true, basename, audit.ResultSuccess, start, secretNames, intPtr(exitCode), nil)
	d.publish("exec:monitor", map[string]interface{}{
		"command": p.Command, "exitCode": exitCode, "timedOut": timedOut,
	})

	return execResult{
		ExitCode:            exitCode,
		Stdout:              stdout.String(),
		Stderr:              stderr.String(),
		TimedOut:            timedOut,
		InjectedSecretNames: secretNames,
	}, nil
}

// waitWithGrace waits for cmd to finish, sending SIGTERM on timeout and
// SIGKILL after a grace period if it hasn't exited (spec.md §4.4 exec step
// 8: "On timeout, send SIGTERM then SIGKILL 5s later").
func waitWithGrace(cmd *exec.Cmd, timeout time.Duration) (exitCode int, timedOut bool) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(timeout):
		timedOut = true
		cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(execKillGracePeriod):
			cmd.Process.Kill()
			<-done
		}
	}

	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return exitCode, timedOut
}

func intPtr(v int) *int { return &v }

// flagsForHTTPExec returns the value-taking option flags for the named
// HTTP-exec command, used to avoid mistaking a flag's value for the URL
// positional argument.
func flagsForHTTPExec(basename string) map[string]bool {
	if basename == "wget" {
		return wgetFlagsWithValue
	}
	return curlFlagsWithValue
}

// seatbeltFragmentFrom adapts a policy sandbox fragment into the seatbelt
// package's generator input, always allow-listing the broker's own socket
// directories regardless of what the policy specifies.
func seatbeltFragmentFrom(s *policy.SandboxFragment, socketDirs []string) seatbelt.Fragment {
	return seatbelt.Fragment{
		AllowedReadPaths:  s.AllowedReadPaths,
		DeniedReadPaths:   s.DeniedPaths,
		AllowedWritePaths: s.AllowedWritePaths,
		AllowedHosts:      s.AllowedHosts,
		AllowedPorts:      s.AllowedPorts,
		NetworkAllowed:    s.NetworkAllowed,
		AllowedBinaries:   s.AllowedBinaries,
		DeniedBinaries:    s.DeniedBinaries,
		SocketDirs:        socketDirs,
		RawProfileContent: s.RawProfileContent,
	}
}

// cappedBuffer is an io.Writer that silently discards bytes past a fixed
// capacity, so a runaway child process cannot grow a captured stream
// unbounded (spec.md §4.4 exec step 8: "per-stream 10 MiB cap").
type cappedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
	} else {
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
