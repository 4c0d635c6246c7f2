package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Scope is a secret's release discipline (spec.md §3 "Secret").
type Scope string

const (
	ScopeGlobal     Scope = "global"     // released to every exec once the vault is unlocked
	ScopePoliced    Scope = "policed"    // released only when a bound policy matched the exec
	ScopeStandalone Scope = "standalone" // never auto-injected; explicit secret_inject only
)

// ErrLocked is returned by any read when the vault has not been unlocked.
var ErrLocked = errors.New("vault: locked")

// Secret is one row of the secrets table, value held encrypted at rest.
type Secret struct {
	Name      string
	Scope     Scope
	ProfileID string
	CreatedAt time.Time
}

// Vault is the broker's authenticated-encrypted secret store. Plaintext
// values exist only in the in-memory cache while unlocked; the database
// never holds anything but the AES-GCM envelope (spec.md §1 Non-goals:
// "the vault uses standard authenticated encryption; we only specify the
// envelope format").
type Vault struct {
	db *sql.DB

	mu       sync.RWMutex
	key      *[32]byte
	unlocked map[string]string // name -> plaintext, only populated while unlocked
}

// Open prepares the secrets tables on db and returns a locked Vault.
func Open(db *sql.DB) (*Vault, error) {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS secrets (
	name TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	value_encrypted TEXT NOT NULL,
	profile_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS secret_policy_bindings (
	secret_name TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	PRIMARY KEY (secret_name, policy_id)
);
`)
	if err != nil {
		return nil, fmt.Errorf("vault: migrate: %w", err)
	}
	return &Vault{db: db}, nil
}

// Unlock decrypts every stored secret into memory under key. Re-unlocking
// with a different key replaces the cache; callers that got the key wrong
// will simply find every lookup fails to decrypt as garbage, which Unlock
// surfaces immediately rather than deferring to first use.
func (v *Vault) Unlock(key [32]byte) error {
	rows, err := v.db.Query(`SELECT name, value_encrypted FROM secrets`)
	if err != nil {
		return fmt.Errorf("vault: list secrets: %w", err)
	}
	defer rows.Close()

	decrypted := make(map[string]string)
	for rows.Next() {
		var name, envelope string
		if err := rows.Scan(&name, &envelope); err != nil {
			return err
		}
		plaintext, err := Open(key, envelope)
		if err != nil {
			return fmt.Errorf("vault: unlock key rejected by secret %q: %w", name, err)
		}
		decrypted[name] = plaintext
	}
	if err := rows.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	k := key
	v.key = &k
	v.unlocked = decrypted
	return nil
}

// Lock clears all plaintext from memory. The encrypted rows on disk are
// untouched; Unlock must be called again before any Get succeeds.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for name := range v.unlocked {
		v.unlocked[name] = ""
	}
	v.unlocked = nil
	v.key = nil
}

// Locked reports whether the vault currently has no key in memory.
func (v *Vault) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key == nil
}

// Get returns a secret's plaintext. Per spec.md §7 "Vault locked" — a
// locked vault is reported as unavailable, never as a denial.
func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return "", ErrLocked
	}
	val, ok := v.unlocked[name]
	if !ok {
		return "", fmt.Errorf("vault: no such secret %q", name)
	}
	return val, nil
}

// Put encrypts plaintext under the currently unlocked key and upserts the
// secret row plus its in-memory entry.
func (v *Vault) Put(s Secret, plaintext string) error {
	v.mu.Lock()
	key := v.key
	v.mu.Unlock()
	if key == nil {
		return ErrLocked
	}

	envelope, err := Seal(*key, plaintext)
	if err != nil {
		return err
	}
	_, err = v.db.Exec(`INSERT INTO secrets (name, scope, value_encrypted, profile_id, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET scope=excluded.scope, value_encrypted=excluded.value_encrypted, profile_id=excluded.profile_id`,
		s.Name, string(s.Scope), envelope, s.ProfileID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("vault: upsert secret: %w", err)
	}

	v.mu.Lock()
	v.unlocked[s.Name] = plaintext
	v.mu.Unlock()
	return nil
}

// Delete removes a secret's row, its bindings, and its in-memory entry.
func (v *Vault) Delete(name string) error {
	if _, err := v.db.Exec(`DELETE FROM secrets WHERE name = ?`, name); err != nil {
		return err
	}
	if _, err := v.db.Exec(`DELETE FROM secret_policy_bindings WHERE secret_name = ?`, name); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.unlocked, name)
	v.mu.Unlock()
	return nil
}

// Bind links a policed secret to the policy whose exec match releases it.
func (v *Vault) Bind(secretName, policyID string) error {
	_, err := v.db.Exec(`INSERT OR IGNORE INTO secret_policy_bindings (secret_name, policy_id) VALUES (?,?)`,
		secretName, policyID)
	return err
}

// SecretsForPolicy returns the names bound to policyID, resolving their
// current plaintext values from the in-memory cache. Unavailable (locked
// or unset) secrets are silently omitted, matching the "vault locked"
// exec-proceeds-without-the-secret behaviour (spec.md §7).
func (v *Vault) SecretsForPolicy(policyID string) (map[string]string, error) {
	rows, err := v.db.Query(`SELECT secret_name FROM secret_policy_bindings WHERE policy_id = ?`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string)
	if v.key == nil {
		return out, nil
	}
	for _, n := range names {
		if val, ok := v.unlocked[n]; ok {
			out[n] = val
		}
	}
	return out, nil
}
