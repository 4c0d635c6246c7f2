package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// presetFile is the on-disk shape of one policy bundle under
// SPEC_FULL.md's policy-dir ("directory of preset policy YAML bundles"):
// the preset's id plus its ordered list of policies, expressed the way an
// operator hand-edits them rather than Policy's own JSON wire shape.
type presetFile struct {
	ID       string        `yaml:"id"`
	Policies []presetEntry `yaml:"policies"`
}

type presetEntry struct {
	Name          string           `yaml:"name"`
	Action        Action           `yaml:"action"`
	TargetKind    TargetKind       `yaml:"targetKind"`
	Patterns      []string         `yaml:"patterns"`
	Enabled       *bool            `yaml:"enabled"`
	Priority      int              `yaml:"priority"`
	Operations    []string         `yaml:"operations"`
	Secrets       []string         `yaml:"secrets"`
	Sandbox       *SandboxFragment `yaml:"sandbox"`
	ConditionExpr string           `yaml:"conditionExpr"`
}

// LoadPresetBundles reads every *.yaml/*.yml file directly under dir and
// returns one []*Policy per preset id, keyed by the file's declared id
// rather than its filename. A missing directory is not an error — a fresh
// install with no preset bundles yet is a normal, empty-store state.
func LoadPresetBundles(dir string) (map[string][]*Policy, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string][]*Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: read preset dir %s: %w", dir, err)
	}

	bundles := make(map[string][]*Policy)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("policy: read preset %s: %w", path, err)
		}
		var pf presetFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("policy: parse preset %s: %w", path, err)
		}
		if pf.ID == "" {
			return nil, fmt.Errorf("policy: preset %s has no id", path)
		}
		policies := make([]*Policy, 0, len(pf.Policies))
		for _, e := range pf.Policies {
			enabled := true
			if e.Enabled != nil {
				enabled = *e.Enabled
			}
			policies = append(policies, &Policy{
				Name:          e.Name,
				Action:        e.Action,
				TargetKind:    e.TargetKind,
				Patterns:      e.Patterns,
				Enabled:       enabled,
				Priority:      e.Priority,
				Operations:    e.Operations,
				Secrets:       e.Secrets,
				Sandbox:       e.Sandbox,
				ConditionExpr: e.ConditionExpr,
			})
		}
		bundles[pf.ID] = policies
	}
	return bundles, nil
}

