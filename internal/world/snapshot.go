package world

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// snapshot is the JSON dump format: player, entities, chunk metadata (not
// terrain — the persistent cache owns that), and the game clock.
type snapshot struct {
	Player    PlayerState              `json:"player"`
	Entities  map[string]EntityState   `json:"entities"`
	Chunks    map[string]snapshotChunk `json:"chunks"`
	GameTime  float64                  `json:"game_time"`
	TimeOfDay float64                  `json:"time_of_day"`
}

type snapshotChunk struct {
	ChunkX int  `json:"chunk_x"`
	ChunkZ int  `json:"chunk_z"`
	Loaded bool `json:"loaded"`
}

// SaveFile writes an indented JSON snapshot of the world view.
func (s *Store) SaveFile(path string) error {
	s.mu.Lock()
	snap := snapshot{
		Player:    copyPlayer(s.player),
		Entities:  make(map[string]EntityState, len(s.entities)),
		Chunks:    make(map[string]snapshotChunk, len(s.chunks)),
		GameTime:  s.gameTime,
		TimeOfDay: s.timeOfDay,
	}
	for id, e := range s.entities {
		snap.Entities[strconv.FormatInt(id, 10)] = copyEntity(e)
	}
	for key, c := range s.chunks {
		snap.Chunks[key.String()] = snapshotChunk{ChunkX: key.X, ChunkZ: key.Z, Loaded: c.Loaded}
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// LoadFile replaces the world view from a snapshot. Chunks come back as
// metadata with their access clock reset; terrain refills from the cache
// or the server. Failure leaves the store untouched.
func (s *Store) LoadFile(path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.player = snap.Player
	if s.player.Inventory == nil {
		s.player.Inventory = map[string]int{}
	}
	if s.player.Equipment == nil {
		s.player.Equipment = map[string]string{}
	}
	if s.player.Skills == nil {
		s.player.Skills = map[string]int{}
	}

	s.entities = make(map[int64]*EntityState, len(snap.Entities))
	for idStr, e := range snap.Entities {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ent := e
		ent.ID = id
		if ent.Data == nil {
			ent.Data = map[string]any{}
		}
		s.entities[id] = &ent
	}

	s.chunks = make(map[ChunkKey]*Chunk, len(snap.Chunks))
	for _, sc := range snap.Chunks {
		key := ChunkKey{X: sc.ChunkX, Z: sc.ChunkZ}
		s.chunks[key] = &Chunk{Key: key, Loaded: sc.Loaded, LastAccess: now}
	}

	s.gameTime = snap.GameTime
	s.timeOfDay = snap.TimeOfDay
	return nil
}
