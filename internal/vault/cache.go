package vault

import "sync"

// PolicyBinding is one entry of a secrets_sync payload's policy-bindings
// list (spec.md §4.3 "secrets_sync"): the secrets released when an exec
// matches the named policy's command/url patterns.
type PolicyBinding struct {
	PolicyID string   `json:"policyId"`
	Target   string   `json:"target"` // "url" or "command"
	Patterns []string `json:"patterns"`
	Secrets  []string `json:"secrets"`
}

// SyncPayload is the daemon-to-broker push described in spec.md §4.3. A
// payload with Clear set wipes the receiving cache (vault lock / shutdown).
type SyncPayload struct {
	Version   int64             `json:"version"`
	Timestamp int64             `json:"timestamp"`
	Global    map[string]string `json:"global"`
	Bindings  []PolicyBinding   `json:"bindings"`
	Clear     bool              `json:"clear"`
}

// SecretCache is the broker's in-process mirror of daemon-pushed secret
// material (spec.md §4.3). Unlike Vault, which owns the encrypted-at-rest
// store, SecretCache only ever holds what secrets_sync most recently sent;
// it has no database and no encryption of its own — it is the receiving
// end of the push, not the source of truth.
type SecretCache struct {
	mu       sync.RWMutex
	version  int64
	global   map[string]string
	bindings []PolicyBinding
}

// NewSecretCache returns an empty cache.
func NewSecretCache() *SecretCache {
	return &SecretCache{}
}

// Apply installs a new payload, or clears the cache entirely if
// payload.Clear is set. Stale pushes (lower version than what's already
// cached) are ignored.
func (c *SecretCache) Apply(payload SyncPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if payload.Clear {
		c.version = payload.Version
		c.global = nil
		c.bindings = nil
		return
	}
	if payload.Version < c.version {
		return
	}
	c.version = payload.Version
	c.global = payload.Global
	c.bindings = payload.Bindings
}

// Clear wipes the cache directly, matching the vault-lock / shutdown path
// of spec.md §7 "Vault lock property": after clearing, Global/ForPolicy
// return nothing and no exec carries a policy-injected secret.
func (c *SecretCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = nil
	c.bindings = nil
}

// Global returns a copy of the currently cached global secrets.
func (c *SecretCache) Global() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.global))
	for k, v := range c.global {
		out[k] = v
	}
	return out
}

// ForPolicy returns the secrets bound to policyID, or nil if no binding
// with that id is cached.
func (c *SecretCache) ForPolicy(policyID string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.bindings {
		if b.PolicyID == policyID {
			out := make(map[string]string, len(b.Secrets))
			for _, name := range b.Secrets {
				if val, ok := c.global[name]; ok {
					out[name] = val
				}
			}
			return out
		}
	}
	return nil
}

// Version reports the currently cached payload version.
func (c *SecretCache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
