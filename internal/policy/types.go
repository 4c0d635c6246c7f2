// Package policy implements the decision engine that mediates every
// intercepted operation an agent attempts: network calls, filesystem
// access, command execution, and secret use. It is the agentic-kernel
// analogue of a mandatory access control subsystem — every side effect is
// checked here before it is allowed to happen.
package policy

import "time"

// Action is the verdict a policy assigns when it matches.
type Action string

const (
	// ActionAllow permits the operation.
	ActionAllow Action = "allow"
	// ActionDeny blocks the operation outright.
	ActionDeny Action = "deny"
	// ActionApproval blocks the operation until an out-of-band approval
	// resolves it, unless the policy's ConditionExpr evaluates true.
	ActionApproval Action = "approval"
)

// TargetKind names the operation family a policy applies to.
type TargetKind string

const (
	TargetURL        TargetKind = "url"
	TargetCommand    TargetKind = "command"
	TargetFilesystem TargetKind = "filesystem"
	TargetSkill      TargetKind = "skill"
)

// Scope qualifies a policy, secret, or config to one protected target and
// optionally one OS user within it. The zero value is the global scope.
type Scope struct {
	ProfileID string
	User      string
}

// IsGlobal reports whether this scope has no profile qualifier.
func (s Scope) IsGlobal() bool {
	return s.ProfileID == ""
}

// SandboxFragment is the allowed-paths/hosts/env fragment attached to an
// allow verdict so the caller can build a seatbelt profile and injected
// environment for a confined child process.
type SandboxFragment struct {
	Enabled          bool              `json:"enabled"`
	AllowedReadPaths []string          `json:"allowedReadPaths,omitempty"`
	AllowedWritePaths []string         `json:"allowedWritePaths,omitempty"`
	DeniedPaths      []string          `json:"deniedPaths,omitempty"`
	NetworkAllowed   bool              `json:"networkAllowed"`
	AllowedHosts     []string          `json:"allowedHosts,omitempty"`
	AllowedPorts     []int             `json:"allowedPorts,omitempty"`
	AllowedBinaries  []string          `json:"allowedBinaries,omitempty"`
	DeniedBinaries   []string          `json:"deniedBinaries,omitempty"`
	EnvInjection     map[string]string `json:"envInjection,omitempty"`
	EnvDeny          []string          `json:"envDeny,omitempty"`
	EnvAllowExtra    []string          `json:"envAllowExtra,omitempty"`
	RawProfileContent string           `json:"rawProfileContent,omitempty"`
}

// SecretBinding links a policed secret to the policy that releases it.
type SecretBinding struct {
	PolicyID string   `json:"policyId"`
	Target   string   `json:"target"` // "url" | "command"
	Patterns []string `json:"patterns"`
	Secrets  []string `json:"secrets"`
}

// Policy is a single rule evaluated against one operation family.
//
// Invariant: (scope, ID) is unique within the store.
type Policy struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Action      Action     `json:"action"`
	TargetKind  TargetKind `json:"targetKind"`
	Patterns    []string   `json:"patterns"`
	Enabled     bool       `json:"enabled"`
	Priority    int        `json:"priority"`
	Operations  []string   `json:"operations,omitempty"`
	Preset      string     `json:"preset,omitempty"`
	Scope       Scope      `json:"scope"`
	Secrets     []string   `json:"secrets,omitempty"`
	Sandbox     *SandboxFragment `json:"sandbox,omitempty"`
	ConditionExpr string   `json:"conditionExpr,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// AppliesToOperation reports whether the policy's operations filter (if
// any) includes the given operation name.
func (p *Policy) AppliesToOperation(op string) bool {
	if len(p.Operations) == 0 {
		return true
	}
	for _, o := range p.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// CallContext is the context bag passed alongside an operation at decision
// time: transport channel, correlation id, and optional client identity.
type CallContext struct {
	Channel      string // "socket" | "http"
	RequestID    string
	ClientUser   string
	CallerCWD    string
	Now          time.Time
	Extra        map[string]interface{}
}

// Decision is the outcome of evaluating one operation against the policy
// graph.
type Decision struct {
	Allowed  bool
	PolicyID string
	Reason   string
	Sandbox  *SandboxFragment
	Secrets  []string
	Cached   bool
}

// Denyf builds a deny Decision with the given reason; callers format it.
func Denyf(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
