package scripting

import (
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, script string) *Engine {
	t.Helper()
	dir := t.TempDir()
	if script != "" {
		if err := os.WriteFile(filepath.Join(dir, "hooks.lua"), []byte(script), 0o644); err != nil {
			t.Fatalf("write script: %v", err)
		}
	}
	e, err := NewEngine(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestMissingHooksDirIsNotAnError(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	// Undefined hooks are simply skipped.
	e.OnChatMessage("a", "b", "global")
}

func TestOnChatMessageHook(t *testing.T) {
	e := newTestEngine(t, `
last_chat = nil
function on_chat_message(sender, message, channel)
    last_chat = sender .. "|" .. message .. "|" .. channel
end
`)
	e.OnChatMessage("alice", "hello", "party")

	got := e.vm.GetGlobal("last_chat")
	if got.String() != "alice|hello|party" {
		t.Fatalf("last_chat = %q", got.String())
	}
}

func TestOnCollisionHook(t *testing.T) {
	e := newTestEngine(t, `
hits = 0
hit_z = 0
function on_collision(e1, e2, point)
    hits = hits + 1
    hit_z = point.z
end
`)
	e.OnCollision(1, 2, [3]float64{0, 0, 7.5})
	e.OnCollision(3, 4, [3]float64{0, 0, 2})

	if n := e.vm.GetGlobal("hits"); lua.LVAsNumber(n) != 2 {
		t.Fatalf("hits = %v, want 2", n)
	}
	if z := e.vm.GetGlobal("hit_z"); lua.LVAsNumber(z) != 2 {
		t.Fatalf("hit_z = %v, want 2", z)
	}
}

func TestOnNpcInteractionData(t *testing.T) {
	e := newTestEngine(t, `
seen = nil
function on_npc_interaction(npc_id, kind, data)
    seen = kind .. ":" .. tostring(data.price)
end
`)
	e.OnNpcInteraction(9, "trade", map[string]any{"price": float64(50)})

	if got := e.vm.GetGlobal("seen").String(); got != "trade:50" {
		t.Fatalf("seen = %q", got)
	}
}

func TestScriptErrorIsSwallowed(t *testing.T) {
	e := newTestEngine(t, `
function on_quest_update(id, state)
    error("boom")
end
`)
	// Must not panic or propagate.
	e.OnQuestUpdate("wolves", "complete")
}
