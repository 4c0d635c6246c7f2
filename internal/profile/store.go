package profile

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistent profile table: CRUD plus the two lookups the
// transports need at connection/request time.
type Store interface {
	Create(p *Profile) error
	Get(id string) (*Profile, error)
	GetByToken(token string) (*Profile, error)
	GetByAgentUID(uid uint32) (*Profile, error)
	List() ([]*Profile, error)
	RotateToken(id string) (string, error)
	Delete(id string) error
	Close() error
}

// SQLiteStore is the Store implementation backing `<db_dir>/<product>.sqlite`
// (spec.md §6), the same database file `internal/policy.SQLiteStore` and
// `internal/vault.Vault` open their own tables in.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteStore opens (creating if absent) the profiles table at path.
// Pass ":memory:" for an ephemeral single-connection store, used by tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
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
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	agent_user TEXT NOT NULL,
	agent_uid INTEGER NOT NULL,
	agent_home TEXT NOT NULL,
	broker_user TEXT NOT NULL,
	broker_uid INTEGER NOT NULL,
	broker_token TEXT NOT NULL,
	socket_group TEXT NOT NULL,
	workspace_group TEXT NOT NULL,
	http_port INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_token ON profiles(broker_token);
CREATE INDEX IF NOT EXISTS idx_profiles_agent_uid ON profiles(agent_uid);
`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const selectCols = `id, agent_user, agent_uid, agent_home, broker_user, broker_uid,
	broker_token, socket_group, workspace_group, http_port, created_at`

func scanProfile(row interface{ Scan(...interface{}) error }) (*Profile, error) {
	var p Profile
	var createdAt string
	if err := row.Scan(&p.ID, &p.AgentUser, &p.AgentUID, &p.AgentHome, &p.BrokerUser,
		&p.BrokerUID, &p.BrokerToken, &p.SocketGroup, &p.WorkspaceGroup, &p.HTTPPort,
		&createdAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

// Create inserts a new profile. Returns an error if p.ID already exists.
func (s *SQLiteStore) Create(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
INSERT INTO profiles (id, agent_user, agent_uid, agent_home, broker_user, broker_uid,
	broker_token, socket_group, workspace_group, http_port, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AgentUser, p.AgentUID, p.AgentHome, p.BrokerUser, p.BrokerUID,
		p.BrokerToken, p.SocketGroup, p.WorkspaceGroup, p.HTTPPort,
		p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("profile: create %q: %w", p.ID, err)
	}
	return nil
}

// Get returns the profile with the given id.
func (s *SQLiteStore) Get(id string) (*Profile, error) {
	row := s.db.QueryRow(`SELECT `+selectCols+` FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// GetByToken resolves a profile by its current broker token, used by the
// HTTP transport's bearer-auth check.
func (s *SQLiteStore) GetByToken(token string) (*Profile, error) {
	row := s.db.QueryRow(`SELECT `+selectCols+` FROM profiles WHERE broker_token = ?`, token)
	return scanProfile(row)
}

// GetByAgentUID resolves a profile by its agent OS user's uid, used by the
// Unix socket transport to identify which profile a connecting peer
// belongs to.
func (s *SQLiteStore) GetByAgentUID(uid uint32) (*Profile, error) {
	row := s.db.QueryRow(`SELECT `+selectCols+` FROM profiles WHERE agent_uid = ?`, uid)
	return scanProfile(row)
}

// List returns every profile, ordered by id.
func (s *SQLiteStore) List() ([]*Profile, error) {
	rows, err := s.db.Query(`SELECT ` + selectCols + ` FROM profiles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RotateToken replaces a profile's broker token with a freshly generated
// one and returns it (spec.md §4.3 "rotated on re-setup").
func (s *SQLiteStore) RotateToken(id string) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE profiles SET broker_token = ? WHERE id = ?`, token, id)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("profile: no such profile %q", id)
	}
	return token, nil
}

// Delete removes a profile's row (spec.md §3 Profile lifecycle: "deleted
// on profile teardown").
func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	return err
}
