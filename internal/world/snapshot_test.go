package world

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmogo/client/internal/net/protocol"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.setPlayerID(42)
	s.ApplyEntityBatch([]protocol.EntityPayload{
		{ID: 42, Position: vec3p(5, 0, 5)}, // player snap
		{ID: 7, Type: "npc", Position: vec3p(1, 2, 3)},
	})
	s.ApplyWorldChunk(protocol.WorldData{ChunkX: 3, ChunkZ: -1}, time.Now())
	s.ApplyChatMessage(ChatMessage{Sender: "a", Message: "hi"})
	s.AdvanceClock(120)

	path := filepath.Join(t.TempDir(), "state.json")
	if err := s.SaveFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := NewStore(zap.NewNop())
	if err := restored.LoadFile(path, time.Now()); err != nil {
		t.Fatalf("load: %v", err)
	}

	p := restored.Player()
	if p.ID != 42 || p.Position != (Vec3{5, 0, 5}) {
		t.Fatalf("player = %+v", p)
	}
	e, ok := restored.Entity(7)
	if !ok || e.Type != "npc" || e.Position != (Vec3{1, 2, 3}) {
		t.Fatalf("entity = %+v ok=%v", e, ok)
	}
	keys := restored.LoadedChunkKeys()
	if len(keys) != 1 || keys[0] != (ChunkKey{X: 3, Z: -1}) {
		t.Fatalf("chunks = %v", keys)
	}
	if restored.GameTime() != 120 {
		t.Fatalf("game time = %v, want 120", restored.GameTime())
	}
}

func TestSnapshotLoadFailureIsNotFatal(t *testing.T) {
	s := NewStore(zap.NewNop())
	if err := s.LoadFile(filepath.Join(t.TempDir(), "missing.json"), time.Now()); err == nil {
		t.Fatal("loading a missing snapshot should return an error")
	}
	// The store stays usable.
	s.ApplyChatMessage(ChatMessage{Message: "still fine"})
	if len(s.ChatMessages()) != 1 {
		t.Fatal("store unusable after failed load")
	}
}
