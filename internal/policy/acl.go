package policy

import (
	"fmt"
	"os/exec"
	"sort"
)

// ACLApplier issues the OS-level grant/revoke calls needed to make a set
// of filesystem paths reachable by one OS user. The default
// implementation shells out to `chmod`/`dscl`-style primitives; tests
// substitute a recording fake.
type ACLApplier interface {
	Grant(user, path string) error
	Revoke(user, path string) error
}

// execACLApplier is the production ACLApplier: macOS ACLs are maintained
// with `chmod +a`/`chmod -a` entries scoped to the agent OS user.
type execACLApplier struct{}

// NewExecACLApplier returns the default ACLApplier, which shells out to
// the system `chmod` binary.
func NewExecACLApplier() ACLApplier { return execACLApplier{} }

func (execACLApplier) Grant(user, path string) error {
	cmd := exec.Command("/bin/chmod", "+a", fmt.Sprintf("user:%s allow read,list,search,readattr,readextattr,readsecurity", user), path)
	return cmd.Run()
}

func (execACLApplier) Revoke(user, path string) error {
	cmd := exec.Command("/bin/chmod", "-a", fmt.Sprintf("user:%s allow read,list,search,readattr,readextattr,readsecurity", user), path)
	return cmd.Run()
}

// ACLSyncer recomputes and applies the set of macOS ACL entries needed
// for an agent user to reach the directories granted by enabled
// filesystem-allow policies, diffing against the last-applied set so only
// the delta is issued (spec.md §4.1 `sync_filesystem_acls`).
type ACLSyncer struct {
	applier ACLApplier
	applied map[string]bool
}

// NewACLSyncer constructs a syncer around the given applier.
func NewACLSyncer(applier ACLApplier) *ACLSyncer {
	if applier == nil {
		applier = NewExecACLApplier()
	}
	return &ACLSyncer{applier: applier, applied: make(map[string]bool)}
}

// desiredPaths extracts every allow-path a filesystem policy's sandbox
// fragment grants.
func desiredPaths(policies []*Policy) []string {
	set := make(map[string]bool)
	for _, p := range policies {
		if p.TargetKind != TargetFilesystem || p.Action != ActionAllow {
			continue
		}
		if p.Sandbox != nil {
			for _, path := range p.Sandbox.AllowedReadPaths {
				set[path] = true
			}
			for _, path := range p.Sandbox.AllowedWritePaths {
				set[path] = true
			}
		}
		for _, pattern := range p.Patterns {
			if lit, ok := literalPrefix(pattern); ok {
				set[lit] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// literalPrefix extracts the non-glob directory prefix of a pattern like
// "/Users/agent/project/**", returning ("/Users/agent/project", true); a
// pattern with no glob metacharacters returns itself unchanged.
func literalPrefix(pattern string) (string, bool) {
	for i, r := range pattern {
		if r == '*' || r == '?' || r == '[' {
			if i == 0 {
				return "", false
			}
			trimmed := pattern[:i]
			for len(trimmed) > 1 && trimmed[len(trimmed)-1] == '/' {
				trimmed = trimmed[:len(trimmed)-1]
			}
			return trimmed, true
		}
	}
	return pattern, true
}

// Sync diffs policies' desired paths against the last-applied set for
// user and grants/revokes the delta. A path only moves between the
// applied/unapplied state when its Grant/Revoke call actually succeeds —
// a failed call leaves the tracked state matching the real OS ACLs, so
// the next Sync retries it instead of silently believing it took effect.
func (s *ACLSyncer) Sync(user string, policies []*Policy) error {
	desired := make(map[string]bool)
	for _, p := range desiredPaths(policies) {
		desired[p] = true
	}

	next := make(map[string]bool, len(desired))
	var firstErr error

	for path := range desired {
		if s.applied[path] {
			next[path] = true
			continue
		}
		if err := s.applier.Grant(user, path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		next[path] = true
	}

	for path := range s.applied {
		if desired[path] {
			continue
		}
		if err := s.applier.Revoke(user, path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			next[path] = true
			continue
		}
	}

	s.applied = next
	return firstErr
}
