package handlers

import (
	"strings"

	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/sdk"
)

// mergeEnv builds one exec's child environment. The broker is the
// enforcement boundary, not the agent's own (untrusted) SDK process, so it
// cannot rely on a caller to have filtered its own env: caller-supplied
// pairs are run through the same base-allowlist/dangerous-prefix/secret-name
// filter internal/sdk.BuildEnv applies on the agent side, then policy-bound
// secrets are layered on last, so a resolved secret always wins a name
// collision (spec.md §4.4 exec step 6: "merge into env, secrets override
// caller env").
func mergeEnv(caller map[string]string, frag *policy.SandboxFragment, secrets map[string]string) []string {
	callerPairs := make([]string, 0, len(caller))
	for k, v := range caller {
		callerPairs = append(callerPairs, k+"="+v)
	}

	env := sdk.BuildEnv(callerPairs, frag)
	if len(secrets) == 0 {
		return env
	}

	merged := make(map[string]string, len(env)+len(secrets))
	for _, kv := range env {
		if name, value, ok := strings.Cut(kv, "="); ok {
			merged[name] = value
		}
	}
	for k, v := range secrets {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// curlFlagsWithValue / wgetFlagsWithValue list the option flags that
// consume the following token as their value, so URL/path extraction
// doesn't mistake a flag's argument for a positional one.
var curlFlagsWithValue = flagSet(
	"-X", "--request", "-H", "--header", "-d", "--data", "--data-binary",
	"--data-raw", "-o", "--output", "-A", "--user-agent", "-e", "--referer",
	"-b", "--cookie", "-u", "--user", "-m", "--max-time",
	"--connect-timeout", "-F", "--form", "-w", "--write-out",
)

var wgetFlagsWithValue = flagSet(
	"-O", "--output-document", "--header", "--timeout", "-U", "--user-agent",
	"-P", "--directory-prefix", "-T", "--tries", "--tries",
)

func flagSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// nonFlagArgs returns every positional (non-"-"-prefixed) argument, skipping
// the value token that follows any flag listed in valueFlags.
func nonFlagArgs(args []string, valueFlags map[string]bool) []string {
	var out []string
	skipNext := false
	for _, a := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if len(a) > 0 && a[0] == '-' {
			if valueFlags[a] {
				skipNext = true
			}
			continue
		}
		out = append(out, a)
	}
	return out
}
