package sdk

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agen-co/agenshield-sub008/internal/allowlist"
	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/handlers"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
	"github.com/agen-co/agenshield-sub008/internal/seatbelt"
	"github.com/agen-co/agenshield-sub008/internal/vault"
)

// newTestBroker spins up a real socket server with every handler
// registered over seeded policies, and returns a dialed Client along with
// its socket path (for re-dialing) and a cleanup-registered shutdown.
func newTestBroker(t *testing.T, policies []*policy.Policy) (*Client, string) {
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

	deps := &handlers.Deps{
		Engine:    engine,
		Commands:  commands,
		Vault:     v,
		Secrets:   vault.NewSecretCache(),
		Audit:     audit.NewEmitter(audit.NullSink{}),
		Seatbelt:  sbCache,
		AgentHome: t.TempDir(),
		Version:   "test",
	}

	dispatcher := rpc.NewDispatcher()
	handlers.Register(deps, dispatcher)
	pool := rpc.NewPool(2, 8, rate.Every(0), 4)
	t.Cleanup(pool.Close)

	sockPath := filepath.Join(t.TempDir(), "broker.sock")
	srv, err := rpc.NewSocketServer(sockPath, dispatcher, pool, zap.NewNop())
	if err != nil {
		t.Fatalf("new socket server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	go srv.Serve()

	// give the listener goroutine a moment to start accepting.
	time.Sleep(10 * time.Millisecond)

	client, err := Dial(sockPath, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client, sockPath
}

func allowAllPolicy(kind policy.TargetKind) *policy.Policy {
	return &policy.Policy{
		ID: "allow-all-" + string(kind), Name: "allow all", Action: policy.ActionAllow,
		TargetKind: kind, Patterns: []string{"**"}, Enabled: true, Priority: 10,
	}
}

func denyAllPolicy(kind policy.TargetKind) *policy.Policy {
	return &policy.Policy{
		ID: "deny-all-" + string(kind), Name: "deny all", Action: policy.ActionDeny,
		TargetKind: kind, Patterns: []string{"**"}, Enabled: true, Priority: 10,
	}
}
