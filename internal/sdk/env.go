package sdk

import (
	"os"
	"strings"

	"github.com/gobwas/glob"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

// baseEnvAllow is the fixed set of environment variables every sandboxed
// exec inherits regardless of policy, per spec.md §4.5.
var baseEnvAllow = map[string]bool{
	"HOME": true, "USER": true, "LOGNAME": true, "PATH": true, "SHELL": true,
	"TMPDIR": true, "TERM": true, "COLORTERM": true, "LANG": true, "SHLVL": true,
	"NVM_DIR": true, "XPC_SERVICE_NAME": true, "__CF_USER_TEXT_ENCODING": true,
	"SSH_AUTH_SOCK": true, "AGENSHIELD_SOCKET": true, "AGENSHIELD_HOST": true,
	"AGENSHIELD_EXEC_ID": true,
}

// baseEnvAllowPrefixes covers the wildcard families of the base allow-list
// (LC_*, HOMEBREW_*, XPC_*) that a plain set membership check can't express.
var baseEnvAllowPrefixes = []string{"LC_", "HOMEBREW_", "XPC_"}

// dangerousEnv is always stripped even if an agent's own environment or a
// policy's EnvAllowExtra would otherwise let it through — these can redirect
// dynamic linking or language runtime behavior out from under the sandbox.
var dangerousEnv = map[string]bool{
	"DYLD_INSERT_LIBRARIES": true, "DYLD_LIBRARY_PATH": true, "DYLD_FRAMEWORK_PATH": true,
	"LD_PRELOAD": true, "PYTHONPATH": true, "NODE_PATH": true, "RUBYLIB": true,
	"PERL5LIB": true, "SSH_ASKPASS": true, "NODE_OPTIONS": true,
}

func isDangerous(name string) bool {
	if dangerousEnv[name] {
		return true
	}
	return strings.HasPrefix(name, "DYLD_")
}

func isBaseAllowed(name string) bool {
	if baseEnvAllow[name] {
		return true
	}
	for _, prefix := range baseEnvAllowPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// looksLikeSecret flags unlisted variables whose name suggests they carry a
// credential, so an un-allow-listed AWS_SECRET_ACCESS_KEY-shaped variable
// doesn't leak into the sandboxed child by accident.
func looksLikeSecret(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range []string{"SECRET", "TOKEN", "PASSWORD", "API_KEY", "APIKEY", "PRIVATE_KEY", "CREDENTIAL"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// BuildEnv assembles the environment for a sandboxed child process from the
// current process's environment, a policy's sandbox fragment, and explicit
// overrides (spec.md §4.5 env allow-list/sanitization rules):
//
//  1. start from the base allow-list plus the fragment's EnvAllowExtra
//     glob patterns;
//  2. drop anything on the dangerous list or that looks like an unlisted
//     secret, even if otherwise allowed;
//  3. drop anything the fragment explicitly names in EnvDeny;
//  4. append the fragment's EnvInjection last, so injected secrets always
//     win over whatever the parent environment happened to hold.
func BuildEnv(parentEnv []string, frag *policy.SandboxFragment) []string {
	var extraGlobs []glob.Glob
	var deny map[string]bool
	var inject map[string]string
	if frag != nil {
		deny = make(map[string]bool, len(frag.EnvDeny))
		for _, name := range frag.EnvDeny {
			deny[name] = true
		}
		for _, pattern := range frag.EnvAllowExtra {
			if g, err := glob.Compile(pattern); err == nil {
				extraGlobs = append(extraGlobs, g)
			}
		}
		inject = frag.EnvInjection
	}

	result := make([]string, 0, len(parentEnv)+len(inject))
	for _, kv := range parentEnv {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if isDangerous(name) {
			continue
		}
		allowed := isBaseAllowed(name)
		if !allowed {
			for _, g := range extraGlobs {
				if g.Match(name) {
					allowed = true
					break
				}
			}
		}
		if !allowed {
			continue
		}
		if deny[name] {
			continue
		}
		if !baseEnvAllow[name] && looksLikeSecret(name) {
			continue
		}
		result = append(result, kv)
	}

	for name, value := range inject {
		result = append(result, name+"="+value)
	}
	return result
}

// ProcessEnv is a convenience wrapper over BuildEnv using the current
// process's environment (os.Environ), the common case for Client.Exec.
func ProcessEnv(frag *policy.SandboxFragment) []string {
	return BuildEnv(os.Environ(), frag)
}
