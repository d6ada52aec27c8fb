package rules

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

const rulePresetsEnv = "RULE_PRESETS_YAML"

//go:embed presets.yaml
var presetsFS embed.FS

// Preset is one built-in global rule definition. Presets are seeded into
// the rule table at startup with a nil store id and source "preset";
// operator edits to seeded rows survive reseeding because seeding only
// inserts missing names.
type Preset struct {
	Name            string    `yaml:"name"`
	ActionType      string    `yaml:"action_type"`
	EntityType      string    `yaml:"entity_type"`
	Priority        int       `yaml:"priority"`
	CooldownSeconds int       `yaml:"cooldown_seconds"`
	Condition       Condition `yaml:"condition"`
}

type yamlPresetFile struct {
	Presets string   `yaml:"presets"`
	Version int      `yaml:"version"`
	Rules   []Preset `yaml:"rules"`
}

var presetsOnce sync.Once
var presetsCache []Preset
var presetsErr error

// Presets returns the built-in rule set, loading and validating it once.
func Presets() ([]Preset, error) {
	presetsOnce.Do(func() {
		presetsCache, presetsErr = loadPresets()
	})
	return presetsCache, presetsErr
}

func loadPresets() ([]Preset, error) {
	data, err := readPresetsFile()
	if err != nil {
		return nil, err
	}

	var file yamlPresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	if err := validatePresets(&file); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

func readPresetsFile() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(rulePresetsEnv)); path != "" {
		return os.ReadFile(path)
	}
	return presetsFS.ReadFile("presets.yaml")
}

func validatePresets(file *yamlPresetFile) error {
	if file == nil {
		return errors.New("missing presets file")
	}
	if strings.TrimSpace(file.Presets) != "automation_rules" {
		return fmt.Errorf("unexpected presets kind: %s", file.Presets)
	}
	if len(file.Rules) == 0 {
		return errors.New("no preset rules defined")
	}

	known := map[string]bool{}
	for _, t := range types.KnownActionTypes() {
		known[t] = true
	}

	seen := map[string]bool{}
	for i, p := range file.Rules {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("preset %d: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate preset name: %s", name)
		}
		seen[name] = true
		if !known[p.ActionType] {
			return fmt.Errorf("preset %s: unknown action type %q", name, p.ActionType)
		}
		if strings.TrimSpace(p.EntityType) == "" {
			return fmt.Errorf("preset %s: entity type is required", name)
		}
		if p.CooldownSeconds < 0 {
			return fmt.Errorf("preset %s: negative cooldown", name)
		}
		if err := p.Condition.Validate(); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
	}
	return nil
}

// Rule converts a preset to its stored form.
func (p Preset) Rule() (types.AutomationRule, error) {
	cond, err := p.Condition.JSON()
	if err != nil {
		return types.AutomationRule{}, err
	}
	return types.AutomationRule{
		StoreID:         nil,
		Name:            p.Name,
		ActionType:      p.ActionType,
		EntityType:      p.EntityType,
		Condition:       cond,
		Priority:        p.Priority,
		CooldownSeconds: p.CooldownSeconds,
		Enabled:         true,
		Source:          types.RuleSourcePreset,
	}, nil
}
