package data

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testAbilities = `
abilities:
  - id: fireball
    name: Fireball
    cooldown_ms: 2500
    range: 30
    mana_cost: 15
    damage: 40
  - id: heal
    name: Minor Heal
    cooldown_ms: 5000
    mana_cost: 20
`

func TestLoadAbilityTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abilities.yaml")
	if err := os.WriteFile(path, []byte(testAbilities), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := LoadAbilityTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Count() != 2 {
		t.Fatalf("count = %d, want 2", table.Count())
	}

	fb := table.Get("fireball")
	if fb == nil {
		t.Fatal("fireball missing")
	}
	if fb.Cooldown != 2500*time.Millisecond || fb.Range != 30 || fb.Damage != 40 {
		t.Fatalf("fireball = %+v", fb)
	}

	heal := table.Get("heal")
	if heal == nil || heal.Range != 0 {
		t.Fatalf("heal = %+v, want self-range default", heal)
	}

	if table.Get("missing") != nil {
		t.Fatal("unknown id should return nil")
	}
}

func TestLoadAbilityTableRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abilities.yaml")
	if err := os.WriteFile(path, []byte("abilities:\n  - name: Nameless\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadAbilityTable(path); err == nil {
		t.Fatal("entry without id should fail to load")
	}
}
