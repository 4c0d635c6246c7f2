package profile

import "testing"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	p := &Profile{
		ID: "agent-1", AgentUser: "agent1", AgentUID: 502, AgentHome: "/Users/agent1",
		BrokerUser: "broker1", BrokerUID: 501, BrokerToken: "tok-abc",
		SocketGroup: "agentshield", WorkspaceGroup: "agentshield-ws", HTTPPort: 5200,
	}
	if err := s.Create(p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get("agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AgentUser != "agent1" || got.BrokerUID != 501 || got.HTTPPort != 5200 {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
}

func TestGetByTokenAndAgentUID(t *testing.T) {
	s := newTestStore(t)
	p := &Profile{ID: "p1", AgentUID: 600, BrokerUID: 601, BrokerToken: "secret-token"}
	if err := s.Create(p); err != nil {
		t.Fatalf("create: %v", err)
	}

	byToken, err := s.GetByToken("secret-token")
	if err != nil || byToken.ID != "p1" {
		t.Fatalf("expected lookup by token to find p1, got %+v, err %v", byToken, err)
	}

	byUID, err := s.GetByAgentUID(600)
	if err != nil || byUID.ID != "p1" {
		t.Fatalf("expected lookup by agent uid to find p1, got %+v, err %v", byUID, err)
	}

	if _, err := s.GetByToken("wrong-token"); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	s := newTestStore(t)
	p := &Profile{ID: "dup", BrokerToken: "t1"}
	if err := s.Create(p); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.Create(&Profile{ID: "dup", BrokerToken: "t2"}); err == nil {
		t.Fatal("expected error creating a profile with a duplicate id")
	}
}

func TestRotateTokenChangesValueAndInvalidatesOld(t *testing.T) {
	s := newTestStore(t)
	p := &Profile{ID: "p1", BrokerToken: "old-token"}
	if err := s.Create(p); err != nil {
		t.Fatalf("create: %v", err)
	}

	newToken, err := s.RotateToken("p1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newToken == "old-token" || len(newToken) == 0 {
		t.Fatalf("expected a fresh token, got %q", newToken)
	}
	if _, err := s.GetByToken("old-token"); err == nil {
		t.Fatal("expected old token to no longer resolve")
	}
	if got, err := s.GetByToken(newToken); err != nil || got.ID != "p1" {
		t.Fatalf("expected new token to resolve to p1, got %+v, err %v", got, err)
	}
}

func TestRotateTokenUnknownProfile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RotateToken("nope"); err == nil {
		t.Fatal("expected error rotating a nonexistent profile")
	}
}

func TestListReturnsAllProfiles(t *testing.T) {
	s := newTestStore(t)
	s.Create(&Profile{ID: "b", BrokerToken: "tb"})
	s.Create(&Profile{ID: "a", BrokerToken: "ta"})

	all, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("expected ordered [a b], got %+v", all)
	}
}

func TestDeleteRemovesProfile(t *testing.T) {
	s := newTestStore(t)
	s.Create(&Profile{ID: "gone", BrokerToken: "t"})
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("gone"); err == nil {
		t.Fatal("expected profile to be gone")
	}
}
