package world

import (
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmogo/client/internal/net/protocol"
)

func vec3p(x, y, z float64) *[3]float64 { v := [3]float64{x, y, z}; return &v }

func approx(a, b Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestEntityCreationIdempotent(t *testing.T) {
	s := NewStore(zap.NewNop())
	payload := protocol.EntityPayload{ID: 5, Type: "npc", Position: vec3p(1, 0, 1)}

	s.ApplyEntityBatch([]protocol.EntityPayload{payload})
	s.ApplyEntityBatch([]protocol.EntityPayload{payload})

	if got := len(s.Entities()); got != 1 {
		t.Fatalf("entity count = %d, want 1", got)
	}
}

func TestInterpolationLaw(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.ApplyEntityBatch([]protocol.EntityPayload{{ID: 5, Position: vec3p(0, 0, 0)}})

	update := []protocol.EntityPayload{{ID: 5, Position: vec3p(10, 0, 10)}}

	s.ApplyEntityBatch(update)
	e, _ := s.Entity(5)
	if !approx(e.Position, Vec3{2, 0, 2}) {
		t.Fatalf("after first apply: %v, want [2 0 2]", e.Position)
	}

	s.ApplyEntityBatch(update)
	e, _ = s.Entity(5)
	if !approx(e.Position, Vec3{3.6, 0, 3.6}) {
		t.Fatalf("after second apply: %v, want [3.6 0 3.6]", e.Position)
	}

	// Repeated identical updates converge geometrically and never overshoot.
	prev := e.Position[0]
	for i := 0; i < 200; i++ {
		s.ApplyEntityBatch(update)
		e, _ = s.Entity(5)
		if e.Position[0] > 10+1e-9 {
			t.Fatalf("overshot target at iteration %d: %v", i, e.Position)
		}
		if e.Position[0] < prev-1e-9 {
			t.Fatalf("moved away from target at iteration %d: %v", i, e.Position)
		}
		prev = e.Position[0]
	}
	if math.Abs(e.Position[0]-10) > 1e-6 {
		t.Fatalf("failed to converge: %v", e.Position)
	}
}

func TestPlayerSnapAuthority(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.setPlayerID(42)

	// Two applies of the same record: the player snaps to the exact value
	// both times, no smoothing, and never lands in the entity map.
	for i := 0; i < 2; i++ {
		s.ApplyEntityBatch([]protocol.EntityPayload{{ID: 42, Position: vec3p(10, 0, 10)}})
		if got := s.Player().Position; got != (Vec3{10, 0, 10}) {
			t.Fatalf("apply %d: player position = %v, want exact [10 0 10]", i+1, got)
		}
	}
	if _, ok := s.Entity(42); ok {
		t.Fatal("player must never appear in the entity map")
	}

	// The single-payload form behaves identically.
	hp := 55
	s.ApplyPlayerUpdate(protocol.EntityPayload{ID: 42, Position: vec3p(1, 2, 3), Health: &hp})
	if p := s.Player(); p.Position != (Vec3{1, 2, 3}) || p.Health != 55 {
		t.Fatalf("ApplyPlayerUpdate: player = %+v", p)
	}
}

func TestEntityFieldReplacementAndDataMerge(t *testing.T) {
	s := NewStore(zap.NewNop())
	anim := "walk"
	vis := false
	hp := 40
	s.ApplyEntityBatch([]protocol.EntityPayload{{
		ID: 7, Type: "npc",
		Data: map[string]any{"faction": "north", "mood": "calm"},
	}})
	s.ApplyEntityBatch([]protocol.EntityPayload{{
		ID:        7,
		Health:    &hp,
		Visible:   &vis,
		Animation: &anim,
		Data:      map[string]any{"mood": "angry"},
	}})

	e, ok := s.Entity(7)
	if !ok {
		t.Fatal("entity missing")
	}
	if e.Health != 40 || e.Visible || e.Animation != "walk" {
		t.Fatalf("replaced fields = hp:%d vis:%v anim:%q", e.Health, e.Visible, e.Animation)
	}
	if e.Data["faction"] != "north" || e.Data["mood"] != "angry" {
		t.Fatalf("data merge = %v, want faction kept and mood overwritten", e.Data)
	}
}

func TestChatRingBound(t *testing.T) {
	s := NewStore(zap.NewNop())
	for i := 0; i < 1001; i++ {
		s.ApplyChatMessage(ChatMessage{Sender: "s", Message: fmt.Sprintf("msg-%d", i)})
	}
	msgs := s.ChatMessages()
	if len(msgs) != 1000 {
		t.Fatalf("retained = %d, want 1000", len(msgs))
	}
	if msgs[0].Message != "msg-1" {
		t.Fatalf("oldest retained = %q, want msg-1 (msg-0 dropped)", msgs[0].Message)
	}
	if msgs[999].Message != "msg-1000" {
		t.Fatalf("newest = %q, want msg-1000", msgs[999].Message)
	}
}

func TestChunkEviction(t *testing.T) {
	s := NewStore(zap.NewNop())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s.ApplyWorldChunk(protocol.WorldData{ChunkX: 0, ChunkZ: 0}, base)
	s.ApplyWorldChunk(protocol.WorldData{ChunkX: 1, ChunkZ: 0}, base.Add(45*time.Second))

	evicted := s.EvictStaleChunks(base.Add(61 * time.Second))
	if len(evicted) != 1 || evicted[0] != (ChunkKey{X: 0, Z: 0}) {
		t.Fatalf("evicted = %v, want [0_0]", evicted)
	}
	keys := s.LoadedChunkKeys()
	if len(keys) != 1 || keys[0] != (ChunkKey{X: 1, Z: 0}) {
		t.Fatalf("remaining = %v, want [1_0]", keys)
	}
}

func TestChunkAccessDefersEviction(t *testing.T) {
	s := NewStore(zap.NewNop())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	key := ChunkKey{X: 2, Z: 3}

	s.ApplyWorldChunk(protocol.WorldData{ChunkX: 2, ChunkZ: 3}, base)
	if _, ok := s.ChunkAt(key, base.Add(50*time.Second)); !ok {
		t.Fatal("chunk missing")
	}
	if evicted := s.EvictStaleChunks(base.Add(70 * time.Second)); len(evicted) != 0 {
		t.Fatalf("recently accessed chunk evicted: %v", evicted)
	}
}

func TestEvictionLeavesEntitiesAlone(t *testing.T) {
	s := NewStore(zap.NewNop())
	base := time.Now()
	s.ApplyWorldChunk(protocol.WorldData{ChunkX: 0, ChunkZ: 0}, base)
	s.ApplyEntityBatch([]protocol.EntityPayload{{ID: 9, Position: vec3p(1, 0, 1)}})

	s.EvictStaleChunks(base.Add(2 * time.Minute))
	if _, ok := s.Entity(9); !ok {
		t.Fatal("chunk eviction must not remove entities")
	}
}

func TestNearbyEntities(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.ApplyEntityBatch([]protocol.EntityPayload{
		{ID: 1, Position: vec3p(1, 0, 0)},
		{ID: 2, Position: vec3p(100, 0, 0)},
		{ID: 3, Position: vec3p(0, 4, 3)},
	})
	near := s.NearbyEntities(Vec3{0, 0, 0}, 10)
	if len(near) != 2 {
		t.Fatalf("nearby = %d entities, want 2", len(near))
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.ApplyEntityBatch([]protocol.EntityPayload{{ID: 4, Data: map[string]any{"k": "v"}}})

	e, _ := s.Entity(4)
	e.Data["k"] = "tampered"
	e2, _ := s.Entity(4)
	if e2.Data["k"] != "v" {
		t.Fatal("entity accessor leaked internal map")
	}

	p := s.Player()
	p.Inventory["gold"] = 999
	if _, ok := s.Player().Inventory["gold"]; ok {
		t.Fatal("player accessor leaked internal map")
	}
}

func TestInventoryUpdateMerge(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.ApplyInventoryUpdate(protocol.InventoryUpdate{
		Inventory: map[string]int{"potion": 3, "sword": 1},
		Equipment: map[string]string{"hand": "sword"},
	})
	s.ApplyInventoryUpdate(protocol.InventoryUpdate{
		Inventory: map[string]int{"potion": 2, "sword": 0},
		Equipment: map[string]string{"hand": ""},
	})

	p := s.Player()
	if p.Inventory["potion"] != 2 {
		t.Errorf("potion = %d, want 2", p.Inventory["potion"])
	}
	if _, ok := p.Inventory["sword"]; ok {
		t.Error("zero-count item should be removed")
	}
	if _, ok := p.Equipment["hand"]; ok {
		t.Error("empty equipment slot should be removed")
	}
}

func TestAdvanceClock(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.AdvanceClock(3600)
	if got := s.TimeOfDay(); math.Abs(got-13) > 1e-9 {
		t.Errorf("time of day = %v, want 13", got)
	}
	if got := s.GameTime(); got != 3600 {
		t.Errorf("game time = %v, want 3600", got)
	}
	// 24h wrap
	s.AdvanceClock(24 * 3600)
	if got := s.TimeOfDay(); math.Abs(got-13) > 1e-6 {
		t.Errorf("time of day after wrap = %v, want 13", got)
	}
}
