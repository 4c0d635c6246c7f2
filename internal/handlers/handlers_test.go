package handlers

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agen-co/agenshield-sub008/internal/allowlist"
	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/seatbelt"
	"github.com/agen-co/agenshield-sub008/internal/vault"
)

// newTestDeps builds a fully wired Deps over in-memory/temp-dir
// collaborators, seeded with the given policies.
func newTestDeps(t *testing.T, policies []*policy.Policy) *Deps {
	t.Helper()

	store, err := policy.OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open policy store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.ReplaceAll(policy.Scope{}, policies); err != nil {
		t.Fatalf("seed policies: %v", err)
	}
	engine := policy.NewEngine(store, policy.NewDecisionCache(time.Minute), nil, nil)

	cmdDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open command db: %v", err)
	}
	t.Cleanup(func() { cmdDB.Close() })
	commands, err := allowlist.Open(cmdDB)
	if err != nil {
		t.Fatalf("open allowlist: %v", err)
	}

	vaultDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open vault db: %v", err)
	}
	t.Cleanup(func() { vaultDB.Close() })
	v, err := vault.Open(vaultDB)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}

	sbCache, err := seatbelt.NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("open seatbelt cache: %v", err)
	}

	return &Deps{
		Engine:      engine,
		Commands:    commands,
		Vault:       v,
		Secrets:     vault.NewSecretCache(),
		Audit:       audit.NewEmitter(audit.NullSink{}),
		Events:      nil,
		Seatbelt:    sbCache,
		AgentHome:   t.TempDir(),
		SocketDirs:  nil,
		SocketGroup: "",
		BrokerUID:   0,
		Version:     "test",
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return data
}
