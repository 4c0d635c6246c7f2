package policy

import "testing"

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreReplaceAllIsTransactional(t *testing.T) {
	s := openTestStore(t)
	scope := Scope{ProfileID: "agent-1"}

	err := s.ReplaceAll(scope, []*Policy{
		{ID: "a", Name: "a", Action: ActionAllow, TargetKind: TargetURL, Patterns: []string{"x.test"}, Enabled: true},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	n, _ := s.Count(scope)
	if n != 1 {
		t.Fatalf("expected 1 policy, got %d", n)
	}

	err = s.ReplaceAll(scope, []*Policy{
		{ID: "b", Name: "b", Action: ActionDeny, TargetKind: TargetURL, Patterns: []string{"y.test"}, Enabled: true},
	})
	if err != nil {
		t.Fatalf("replace 2: %v", err)
	}
	n, _ = s.Count(scope)
	if n != 1 {
		t.Fatalf("expected replace to fully swap set, got %d rows", n)
	}
	all, _ := s.GetAll(scope)
	if len(all) != 1 || all[0].ID != "b" {
		t.Fatalf("expected only policy 'b' to remain, got %+v", all)
	}
}

func TestStoreSeedPresetIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	bundle := []*Policy{
		{Name: "deny-metadata-ip", Action: ActionDeny, TargetKind: TargetURL, Patterns: []string{"169.254.169.254"}, Enabled: true},
		{Name: "allow-github", Action: ActionAllow, TargetKind: TargetURL, Patterns: []string{"*.github.com"}, Enabled: true},
	}

	added1, err := s.SeedPreset("baseline", bundle)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if added1 != 2 {
		t.Fatalf("expected 2 new rows, got %d", added1)
	}

	added2, err := s.SeedPreset("baseline", bundle)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if added2 != 0 {
		t.Fatalf("expected idempotent reseed to add 0 rows, got %d", added2)
	}
}

func TestStoreVersionBumpsOnWrite(t *testing.T) {
	s := openTestStore(t)
	v0 := s.Version()
	if err := s.Add(&Policy{ID: "p1", Name: "p1", Action: ActionAllow, TargetKind: TargetURL, Patterns: []string{"x"}, Enabled: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if s.Version() <= v0 {
		t.Fatalf("expected version to increase after write")
	}
}

func TestStoreScopeCoalescence(t *testing.T) {
	s := openTestStore(t)
	global := Scope{}
	profile := Scope{ProfileID: "agent-1"}

	if err := s.Add(&Policy{ID: "shared", Scope: global, Name: "global-name", Action: ActionDeny,
		TargetKind: TargetURL, Patterns: []string{"x.test"}, Enabled: true, Priority: 1}); err != nil {
		t.Fatalf("add global: %v", err)
	}
	// Profile-level override only changes Action, leaving Name/Patterns unset
	// so the merged policy should inherit them from the global definition.
	if err := s.Add(&Policy{ID: "shared", Scope: profile, Action: ActionAllow, TargetKind: TargetURL, Enabled: true}); err != nil {
		t.Fatalf("add profile override: %v", err)
	}

	merged, err := s.GetAll(profile)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged policy, got %d", len(merged))
	}
	if merged[0].Action != ActionAllow {
		t.Errorf("expected narrower scope's action to win, got %s", merged[0].Action)
	}
	if merged[0].Name != "global-name" {
		t.Errorf("expected name to inherit from global definition, got %q", merged[0].Name)
	}
	if len(merged[0].Patterns) != 1 || merged[0].Patterns[0] != "x.test" {
		t.Errorf("expected patterns to inherit from global definition, got %v", merged[0].Patterns)
	}
}
