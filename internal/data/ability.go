package data

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AbilityInfo holds one combat ability template.
type AbilityInfo struct {
	ID       string
	Name     string
	Cooldown time.Duration
	Range    float64 // meters (0 = self)
	ManaCost int
	Damage   int
}

// AbilityTable holds all abilities indexed by ID.
type AbilityTable struct {
	abilities map[string]*AbilityInfo
}

// Get returns an ability by ID, or nil if not found.
func (t *AbilityTable) Get(id string) *AbilityInfo {
	return t.abilities[id]
}

// Count returns total loaded abilities.
func (t *AbilityTable) Count() int {
	return len(t.abilities)
}

// All returns every ability (for UI listings).
func (t *AbilityTable) All() []*AbilityInfo {
	result := make([]*AbilityInfo, 0, len(t.abilities))
	for _, a := range t.abilities {
		result = append(result, a)
	}
	return result
}

type rawAbility struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	CooldownMS int     `yaml:"cooldown_ms"`
	Range      float64 `yaml:"range"`
	ManaCost   int     `yaml:"mana_cost"`
	Damage     int     `yaml:"damage"`
}

type abilityFile struct {
	Abilities []rawAbility `yaml:"abilities"`
}

// LoadAbilityTable loads ability templates from a YAML file.
func LoadAbilityTable(path string) (*AbilityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ability table %s: %w", path, err)
	}

	var file abilityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ability table %s: %w", path, err)
	}

	t := &AbilityTable{abilities: make(map[string]*AbilityInfo, len(file.Abilities))}
	for _, raw := range file.Abilities {
		if raw.ID == "" {
			return nil, fmt.Errorf("ability table %s: entry without id", path)
		}
		t.abilities[raw.ID] = &AbilityInfo{
			ID:       raw.ID,
			Name:     raw.Name,
			Cooldown: time.Duration(raw.CooldownMS) * time.Millisecond,
			Range:    raw.Range,
			ManaCost: raw.ManaCost,
			Damage:   raw.Damage,
		}
	}
	return t, nil
}
