package policy

import (
	"errors"
	"testing"
)

type fakeACLApplier struct {
	granted []string
	revoked []string
	failOn  map[string]bool
}

func (f *fakeACLApplier) Grant(user, path string) error {
	if f.failOn[path] {
		return errors.New("grant failed")
	}
	f.granted = append(f.granted, path)
	return nil
}

func (f *fakeACLApplier) Revoke(user, path string) error {
	if f.failOn[path] {
		return errors.New("revoke failed")
	}
	f.revoked = append(f.revoked, path)
	return nil
}

func TestACLSyncerGrantsAndRevokesDelta(t *testing.T) {
	fake := &fakeACLApplier{}
	syncer := NewACLSyncer(fake)

	first := []*Policy{
		{TargetKind: TargetFilesystem, Action: ActionAllow, Enabled: true,
			Sandbox: &SandboxFragment{AllowedReadPaths: []string{"/Users/agent/workspace"}}},
	}
	if err := syncer.Sync("agent", first); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(fake.granted) != 1 || fake.granted[0] != "/Users/agent/workspace" {
		t.Fatalf("expected one grant, got %v", fake.granted)
	}

	second := []*Policy{
		{TargetKind: TargetFilesystem, Action: ActionAllow, Enabled: true,
			Sandbox: &SandboxFragment{AllowedReadPaths: []string{"/Users/agent/other"}}},
	}
	fake.granted, fake.revoked = nil, nil
	if err := syncer.Sync("agent", second); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(fake.granted) != 1 || fake.granted[0] != "/Users/agent/other" {
		t.Fatalf("expected new path granted, got %v", fake.granted)
	}
	if len(fake.revoked) != 1 || fake.revoked[0] != "/Users/agent/workspace" {
		t.Fatalf("expected old path revoked, got %v", fake.revoked)
	}
}

func TestACLSyncerRetriesFailedGrantOnNextSync(t *testing.T) {
	fake := &fakeACLApplier{failOn: map[string]bool{"/Users/agent/workspace": true}}
	syncer := NewACLSyncer(fake)

	policies := []*Policy{
		{TargetKind: TargetFilesystem, Action: ActionAllow, Enabled: true,
			Sandbox: &SandboxFragment{AllowedReadPaths: []string{"/Users/agent/workspace"}}},
	}
	if err := syncer.Sync("agent", policies); err == nil {
		t.Fatal("expected the failed grant to surface as an error")
	}
	if len(fake.granted) != 0 {
		t.Fatalf("expected no successful grants, got %v", fake.granted)
	}

	fake.failOn = nil
	if err := syncer.Sync("agent", policies); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(fake.granted) != 1 || fake.granted[0] != "/Users/agent/workspace" {
		t.Fatalf("expected the previously failed path to be retried and granted, got %v", fake.granted)
	}
}

func TestACLSyncerRetriesFailedRevokeOnNextSync(t *testing.T) {
	fake := &fakeACLApplier{}
	syncer := NewACLSyncer(fake)

	first := []*Policy{
		{TargetKind: TargetFilesystem, Action: ActionAllow, Enabled: true,
			Sandbox: &SandboxFragment{AllowedReadPaths: []string{"/Users/agent/workspace"}}},
	}
	if err := syncer.Sync("agent", first); err != nil {
		t.Fatalf("sync: %v", err)
	}

	fake.failOn = map[string]bool{"/Users/agent/workspace": true}
	fake.granted, fake.revoked = nil, nil
	if err := syncer.Sync("agent", nil); err == nil {
		t.Fatal("expected the failed revoke to surface as an error")
	}
	if len(fake.revoked) != 0 {
		t.Fatalf("expected no successful revokes, got %v", fake.revoked)
	}

	fake.failOn = nil
	if err := syncer.Sync("agent", nil); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(fake.revoked) != 1 || fake.revoked[0] != "/Users/agent/workspace" {
		t.Fatalf("expected the previously failed path to be retried and revoked, got %v", fake.revoked)
	}
}

func TestLiteralPrefix(t *testing.T) {
	cases := []struct {
		pattern string
		want    string
		ok      bool
	}{
		{"/Users/agent/project/**", "/Users/agent/project", true},
		{"/Users/agent/project", "/Users/agent/project", true},
		{"**/.env", "", false},
	}
	for _, c := range cases {
		got, ok := literalPrefix(c.pattern)
		if ok != c.ok || got != c.want {
			t.Errorf("literalPrefix(%q) = (%q, %v), want (%q, %v)", c.pattern, got, ok, c.want, c.ok)
		}
	}
}
