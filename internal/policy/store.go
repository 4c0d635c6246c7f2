package policy

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistent policy graph: CRUD plus the ordered, scope-aware
// read that the engine calls on every cache miss (spec.md §4.1).
type Store interface {
	GetEnabled(scope Scope, kind TargetKind) ([]*Policy, error)
	GetAll(scope Scope) ([]*Policy, error)
	ReplaceAll(scope Scope, policies []*Policy) error
	Add(p *Policy) error
	Update(p *Policy) error
	Delete(scope Scope, id string) error
	Count(scope Scope) (int, error)
	SeedPreset(presetID string, policies []*Policy) (added int, err error)
	Version() uint64
	Close() error
}

// SQLiteStore is the Store implementation backing the broker's embedded
// relational database (spec.md §6, `<db_dir>/<product>.sqlite`).
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex // single writer, per spec.md §4.1 consistency model
	version uint64
}

// OpenSQLiteStore opens (creating if absent) the policy database at path.
// Pass ":memory:" for an ephemeral single-connection store, used by tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS policies (
	id TEXT NOT NULL,
	scope_profile TEXT NOT NULL DEFAULT '',
	scope_user TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	action TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	patterns_json TEXT NOT NULL DEFAULT '[]',
	enabled INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	operations_json TEXT NOT NULL DEFAULT '[]',
	preset TEXT NOT NULL DEFAULT '',
	secrets_json TEXT NOT NULL DEFAULT '[]',
	sandbox_json TEXT NOT NULL DEFAULT '',
	condition_expr TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (scope_profile, scope_user, id)
);
CREATE INDEX IF NOT EXISTS idx_policies_kind ON policies(scope_profile, scope_user, target_kind, enabled);
`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Version returns the store's write-generation counter; any successful
// mutation increments it, waking the engine's cached-snapshot readers.
func (s *SQLiteStore) Version() uint64 { return atomic.LoadUint64(&s.version) }

func (s *SQLiteStore) bumpVersion() { atomic.AddUint64(&s.version, 1) }

func scanPolicy(row interface{ Scan(...interface{}) error }) (*Policy, error) {
	var p Policy
	var patternsJSON, opsJSON, secretsJSON, sandboxJSON, createdAt string
	var enabled int
	if err := row.Scan(&p.ID, &p.Scope.ProfileID, &p.Scope.User, &p.Name, &p.Action,
		&p.TargetKind, &patternsJSON, &enabled, &p.Priority, &opsJSON, &p.Preset,
		&secretsJSON, &sandboxJSON, &p.ConditionExpr, &createdAt); err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	_ = json.Unmarshal([]byte(patternsJSON), &p.Patterns)
	_ = json.Unmarshal([]byte(opsJSON), &p.Operations)
	_ = json.Unmarshal([]byte(secretsJSON), &p.Secrets)
	if sandboxJSON != "" {
		var sb SandboxFragment
		if json.Unmarshal([]byte(sandboxJSON), &sb) == nil {
			p.Sandbox = &sb
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

const selectCols = `id, scope_profile, scope_user, name, action, target_kind, patterns_json,
	enabled, priority, operations_json, preset, secrets_json, sandbox_json, condition_expr, created_at`

// GetAll returns every policy visible at scope: globals merged with
// profile-level and user-level overrides via COALESCE-from-most-specific
// (spec.md §4.1) — a narrower-scope policy with the same ID as a broader
// one overlays only the fields it sets, inheriting the rest.
func (s *SQLiteStore) GetAll(scope Scope) ([]*Policy, error) {
	rows, err := s.db.Query(
		`SELECT `+selectCols+` FROM policies
		 WHERE (scope_profile = '' AND scope_user = '')
		    OR (scope_profile = ? AND scope_user = '')
		    OR (scope_profile = ? AND scope_user = ?)
		 ORDER BY scope_profile = '' DESC, scope_user = '' DESC`,
		scope.ProfileID, scope.ProfileID, scope.User)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// chains holds, per policy ID, the broadest-to-narrowest chain seen so
	// far; the final pass merges each chain into one effective policy.
	order := []string{}
	chains := map[string][]*Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		if scope.IsGlobal() && !p.Scope.IsGlobal() {
			continue
		}
		if _, ok := chains[p.ID]; !ok {
			order = append(order, p.ID)
		}
		chains[p.ID] = append(chains[p.ID], p)
	}

	out := make([]*Policy, 0, len(order))
	for _, id := range order {
		out = append(out, mergeChain(chains[id]))
	}
	return out, nil
}

// mergeChain overlays a chain of the same-ID policy definitions (ordered
// broadest-first) so that empty fields in a narrower scope inherit from
// the broader one.
func mergeChain(chain []*Policy) *Policy {
	merged := *chain[0]
	for _, next := range chain[1:] {
		if next.Name != "" {
			merged.Name = next.Name
		}
		if next.Action != "" {
			merged.Action = next.Action
		}
		if len(next.Patterns) > 0 {
			merged.Patterns = next.Patterns
		}
		if len(next.Operations) > 0 {
			merged.Operations = next.Operations
		}
		if len(next.Secrets) > 0 {
			merged.Secrets = next.Secrets
		}
		if next.Sandbox != nil {
			merged.Sandbox = next.Sandbox
		}
		if next.ConditionExpr != "" {
			merged.ConditionExpr = next.ConditionExpr
		}
		if next.Priority != 0 {
			merged.Priority = next.Priority
		}
		merged.Enabled = next.Enabled
		merged.Scope = next.Scope
		merged.CreatedAt = next.CreatedAt
	}
	return &merged
}

// GetEnabled returns enabled policies for one target kind, ordered by
// priority descending, stable on ties by creation time ascending (the
// earlier-created policy wins — spec.md §8 "Priority tie-break").
func (s *SQLiteStore) GetEnabled(scope Scope, kind TargetKind) ([]*Policy, error) {
	all, err := s.GetAll(scope)
	if err != nil {
		return nil, err
	}
	out := make([]*Policy, 0, len(all))
	for _, p := range all {
		if p.Enabled && p.TargetKind == kind {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *SQLiteStore) upsert(tx *sql.Tx, p *Policy) error {
	patternsJSON, _ := json.Marshal(p.Patterns)
	opsJSON, _ := json.Marshal(p.Operations)
	secretsJSON, _ := json.Marshal(p.Secrets)
	sandboxJSON := ""
	if p.Sandbox != nil {
		b, _ := json.Marshal(p.Sandbox)
		sandboxJSON = string(b)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	_, err := tx.Exec(`
INSERT INTO policies (id, scope_profile, scope_user, name, action, target_kind, patterns_json,
	enabled, priority, operations_json, preset, secrets_json, sandbox_json, condition_expr, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(scope_profile, scope_user, id) DO UPDATE SET
	name=excluded.name, action=excluded.action, target_kind=excluded.target_kind,
	patterns_json=excluded.patterns_json, enabled=excluded.enabled, priority=excluded.priority,
	operations_json=excluded.operations_json, preset=excluded.preset, secrets_json=excluded.secrets_json,
	sandbox_json=excluded.sandbox_json, condition_expr=excluded.condition_expr`,
		p.ID, p.Scope.ProfileID, p.Scope.User, p.Name, p.Action, p.TargetKind, string(patternsJSON),
		enabled, p.Priority, string(opsJSON), p.Preset, string(secretsJSON), sandboxJSON,
		p.ConditionExpr, p.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// ReplaceAll performs the transactional full-replacement the UI's policy
// editor uses: every existing policy at scope is deleted and the given set
// inserted, atomically.
func (s *SQLiteStore) ReplaceAll(scope Scope, policies []*Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM policies WHERE scope_profile = ? AND scope_user = ?`,
		scope.ProfileID, scope.User); err != nil {
		return err
	}
	for _, p := range policies {
		p.Scope = scope
		if err := s.upsert(tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.bumpVersion()
	return nil
}

// Add inserts or updates a single policy.
func (s *SQLiteStore) Add(p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.upsert(tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.bumpVersion()
	return nil
}

// Update is an alias for Add: both are idempotent upserts keyed by
// (scope, id).
func (s *SQLiteStore) Update(p *Policy) error { return s.Add(p) }

// Delete removes one policy by (scope, id).
func (s *SQLiteStore) Delete(scope Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM policies WHERE scope_profile=? AND scope_user=? AND id=?`,
		scope.ProfileID, scope.User, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.bumpVersion()
	}
	return nil
}

// Count returns the number of policies at exactly one scope level.
func (s *SQLiteStore) Count(scope Scope) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM policies WHERE scope_profile=? AND scope_user=?`,
		scope.ProfileID, scope.User).Scan(&n)
	return n, err
}

// SeedPreset idempotently inserts a named preset bundle: policies whose
// (scope, preset, name) already exists are skipped, so re-seeding the same
// bundle yields zero new rows (spec.md §4.1).
func (s *SQLiteStore) SeedPreset(presetID string, policies []*Policy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, p := range policies {
		p.Preset = presetID
		var exists int
		err := tx.QueryRow(`SELECT COUNT(*) FROM policies WHERE scope_profile=? AND scope_user=? AND preset=? AND name=?`,
			p.Scope.ProfileID, p.Scope.User, presetID, p.Name).Scan(&exists)
		if err != nil {
			return 0, err
		}
		if exists > 0 {
			continue
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s/%s", presetID, p.Name)
		}
		if err := s.upsert(tx, p); err != nil {
			return 0, err
		}
		added++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if added > 0 {
		s.bumpVersion()
	}
	return added, nil
}
