package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadInterval is the maximum staleness of the engine's in-memory policy
// snapshot before a read forces a refresh from the Store (spec.md §4.1).
const ReloadInterval = 60 * time.Second

// shellMeta matches shell metacharacters the exec constraint rejects in
// command names (spec.md §4.2 step 6).
var shellMeta = regexp.MustCompile(`[;&|` + "`" + `$(){}\[\]<>!\\]`)

// Engine is the stateless decision function `decide(operation, params,
// context) -> Decision` described in spec.md §4.2, wrapped in a thin
// caching shell so repeat calls stay sub-millisecond.
type Engine struct {
	store Store
	cache *DecisionCache
	cond  *ConditionEvaluator
	log   *zap.Logger

	mu       sync.RWMutex
	snapshot map[snapshotKey][]*Policy
	loadedAt time.Time

	// FailOpenDefault controls the verdict for any target no policy matches
	// and no constraint blocks (spec.md §4.2 step 7/8), whether or not the
	// target kind has other policies. NewEngine sets it to true (unmatched
	// targets are allowed); when false, unmatched targets are denied.
	FailOpenDefault bool
}

type snapshotKey struct {
	scope Scope
	kind  TargetKind
}

// NewEngine constructs an Engine backed by store, with the given decision
// cache TTL (spec default 60s) and an optional condition evaluator for
// `approval` policies with a ConditionExpr (nil disables that feature).
func NewEngine(store Store, cache *DecisionCache, cond *ConditionEvaluator, log *zap.Logger) *Engine {
	if cache == nil {
		cache = NewDecisionCache(ReloadInterval)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    store,
		cache:    cache,
		cond:     cond,
		log:      log,
		snapshot: make(map[snapshotKey][]*Policy),
		// The end-to-end scenarios in spec.md §8 (items 1 and 2) both
		// show an unmatched target returning allowed: true — this product
		// ships as a blocklist/allowlist hybrid where the *absence* of a
		// matching rule is permissive by default, and installations
		// needing strict allowlisting set this to false on the Engine.
		FailOpenDefault: true,
	}
}

// Target describes the extracted, not-yet-normalised subject of an
// operation: a URL, a filesystem path, a resolved command basename, or a
// secret name (spec.md §4.2).
type Target struct {
	Operation string
	Kind      TargetKind
	Raw       string
}

// Decide evaluates one operation against the policy graph for scope and
// returns a verdict. It is safe for concurrent use.
func (e *Engine) Decide(ctx context.Context, scope Scope, t Target, cc CallContext) Decision {
	normalized := e.normalize(t, cc)
	key := Key(scope, t.Kind, t.Operation, normalized)

	if d, ok := e.cache.Get(key); ok {
		return d
	}

	policies := e.policiesFor(scope, t.Kind)
	decision := e.evaluate(policies, t.Operation, normalized, cc)
	e.cache.Set(key, decision)
	return decision
}

// normalize implements spec.md §4.2 step 1: URLs get lower-cased hosts
// with preserved path casing; paths are resolved relative to the caller's
// CWD then realpath'd (best-effort — filepath.Clean stands in for
// realpath when the path does not exist on this host).
func (e *Engine) normalize(t Target, cc CallContext) string {
	switch t.Kind {
	case TargetURL:
		return NormalizeURL(t.Raw)
	case TargetFilesystem:
		p := t.Raw
		if !filepath.IsAbs(p) && cc.CallerCWD != "" {
			p = filepath.Join(cc.CallerCWD, p)
		}
		return filepath.Clean(p)
	default:
		return t.Raw
	}
}

// policiesFor returns the engine's cached snapshot for (scope, kind),
// refreshing from the store if it is older than ReloadInterval.
func (e *Engine) policiesFor(scope Scope, kind TargetKind) []*Policy {
	key := snapshotKey{scope: scope, kind: kind}

	e.mu.RLock()
	fresh := time.Since(e.loadedAt) < ReloadInterval
	cached, ok := e.snapshot[key]
	e.mu.RUnlock()

	if ok && fresh {
		return cached
	}

	policies, err := e.store.GetEnabled(scope, kind)
	if err != nil {
		e.log.Warn("policy store read failed, serving stale snapshot", zap.Error(err))
		return cached
	}

	e.mu.Lock()
	e.snapshot[key] = policies
	e.loadedAt = time.Now()
	e.mu.Unlock()
	return policies
}

// Invalidate drops the cached decision layer and forces the next read to
// hit the store, called on any store write (spec.md §4.1 "any write bumps
// the version and wakes subscribers").
func (e *Engine) Invalidate() {
	e.cache.InvalidateAll()
	e.mu.Lock()
	e.loadedAt = time.Time{}
	e.mu.Unlock()
}

// CacheStats reports the decision cache's running hit rate, surfaced at
// /api/status (spec.md §6 NEW).
func (e *Engine) CacheStats() (hits, misses uint64, hitRate float64) {
	return e.cache.Stats()
}

// evaluate runs spec.md §4.2 steps 2–8 against an already-loaded, already
// priority-sorted policy list.
func (e *Engine) evaluate(policies []*Policy, operation, target string, cc CallContext) Decision {
	for _, p := range policies {
		if !p.AppliesToOperation(operation) {
			continue
		}
		if !e.patternsMatch(p, target) {
			continue
		}

		switch p.Action {
		case ActionAllow:
			return Decision{Allowed: true, PolicyID: p.ID, Sandbox: p.Sandbox, Secrets: p.Secrets}
		case ActionApproval:
			if e.cond != nil && p.ConditionExpr != "" {
				ok, err := e.cond.Evaluate(context.Background(), p.ConditionExpr, cc)
				if err == nil && ok {
					return Decision{Allowed: true, PolicyID: p.ID, Sandbox: p.Sandbox, Secrets: p.Secrets,
						Reason: fmt.Sprintf("Approval condition satisfied: %s", p.Name)}
				}
			}
			return Denyf(fmt.Sprintf("Approval required: %s", p.Name))
		default: // ActionDeny
			return Denyf(fmt.Sprintf("Denied by policy: %s", p.Name))
		}
	}

	// No rule matched — apply constraints (spec.md §4.2 step 6), then the
	// default action (step 7).
	if d, blocked := e.checkConstraints(operation, target); blocked {
		return d
	}

	if e.FailOpenDefault {
		return Decision{Allowed: true, Reason: "no matching policy"}
	}
	return Denyf("no matching policy")
}

// patternsMatch reports whether any of the policy's patterns match
// target, dispatching to the URL or path glob dialect by target kind
// (spec.md §4.2 step 4).
func (e *Engine) patternsMatch(p *Policy, target string) bool {
	for _, pattern := range p.Patterns {
		switch p.TargetKind {
		case TargetURL:
			if globalURLCache.MatchURL(pattern, target) {
				return true
			}
		case TargetFilesystem:
			if MatchPath(pattern, target) {
				return true
			}
		default:
			if pattern == target || MatchPath(pattern, target) {
				return true
			}
		}
	}
	return false
}

var globalURLCache = newURLGlobCache()

// checkConstraints applies the structural constraints that exist even
// without a matching policy: shell-metacharacter rejection for exec
// targets (spec.md §4.2 step 6). No filesystem allowed-path or network
// host/port constraint is applied, here or in internal/handlers: an
// unmatched path or URL goes straight to the default action.
func (e *Engine) checkConstraints(operation, target string) (Decision, bool) {
	if operation != "exec" {
		return Decision{}, false
	}
	if shellMeta.MatchString(target) {
		return Denyf("command name contains shell metacharacters"), true
	}
	return Decision{}, false
}

// ValidateExecArgs rejects bare arguments carrying pipe/backtick/`$(`
// shell injection markers, per spec.md §4.2 step 6. Exported so
// internal/handlers can apply it to each argument of an exec call.
func ValidateExecArgs(args []string) error {
	for _, a := range args {
		if strings.ContainsAny(a, "|`") || strings.Contains(a, "$(") {
			return fmt.Errorf("argument contains shell metacharacters: %q", a)
		}
	}
	return nil
}
