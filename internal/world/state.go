package world

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmogo/client/internal/net/protocol"
)

type Vec3 [3]float64

type Quat [4]float64

// identityQuat is the no-rotation default for freshly created entities.
var identityQuat = Quat{0, 0, 0, 1}

const (
	// interpolationFactor moves a known entity this fraction of the way
	// toward each reported position, per received update (not per unit
	// time), so smoothing scales with the server's update rate.
	interpolationFactor = 0.2

	// chunkTTL is the idle window after which a chunk is evicted.
	chunkTTL = 60 * time.Second

	// maxChatMessages bounds the chat ring; the oldest line drops first.
	maxChatMessages = 1000
)

// PlayerState is the client cache of the local player. The authoritative
// copy lives on the server; inbound player records snap this one.
type PlayerState struct {
	ID         int64             `json:"player_id"`
	Position   Vec3              `json:"position"`
	Rotation   Quat              `json:"rotation"`
	Velocity   Vec3              `json:"velocity"`
	Health     int               `json:"health"`
	MaxHealth  int               `json:"max_health"`
	Mana       int               `json:"mana"`
	MaxMana    int               `json:"max_mana"`
	Level      int               `json:"level"`
	Experience int64             `json:"experience"`
	Inventory  map[string]int    `json:"inventory"`
	Equipment  map[string]string `json:"equipment"`
	Skills     map[string]int    `json:"skills"`
}

// EntityState is one cached world entity. The player is never present in
// the entity map; it has its reserved PlayerState slot.
type EntityState struct {
	ID        int64          `json:"entity_id"`
	Type      string         `json:"entity_type"`
	Position  Vec3           `json:"position"`
	Rotation  Quat           `json:"rotation"`
	Velocity  Vec3           `json:"velocity"`
	Health    int            `json:"health"`
	MaxHealth int            `json:"max_health"`
	Mesh      string         `json:"mesh_name"`
	Material  string         `json:"material_name"`
	Visible   bool           `json:"visible"`
	Animation string         `json:"animation,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ChunkKey identifies one terrain chunk.
type ChunkKey struct {
	X int `json:"chunk_x"`
	Z int `json:"chunk_z"`
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%d_%d", k.X, k.Z)
}

// Chunk is a streamed terrain tile. Chunk and entity lifecycles are
// independent: evicting a chunk never removes entities.
type Chunk struct {
	Key        ChunkKey
	Terrain    [][]float64
	WaterLevel float64
	Loaded     bool
	LastAccess time.Time
}

// ChatMessage is one line of the bounded chat history.
type ChatMessage struct {
	Sender  string    `json:"sender"`
	Message string    `json:"message"`
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
}

// QuestEntry is one quest-log row.
type QuestEntry struct {
	ID        string         `json:"quest_id"`
	State     string         `json:"state"`
	Data      map[string]any `json:"data,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the canonical in-memory world view. Mutation is single-writer
// (the reconciler, from the caller's tick); readers get copies so external
// consumers at a different rate never iterate a mutating collection.
type Store struct {
	mu sync.Mutex

	player   PlayerState
	entities map[int64]*EntityState
	chunks   map[ChunkKey]*Chunk
	chat     []ChatMessage
	quests   map[string]QuestEntry

	gameTime  float64
	timeOfDay float64 // 0–24h
	dayNight  bool

	log *zap.Logger
}

func NewStore(log *zap.Logger) *Store {
	return &Store{
		player: PlayerState{
			Health:    100,
			MaxHealth: 100,
			Mana:      100,
			MaxMana:   100,
			Level:     1,
			Rotation:  identityQuat,
			Inventory: map[string]int{},
			Equipment: map[string]string{},
			Skills:    map[string]int{},
		},
		entities:  make(map[int64]*EntityState),
		chunks:    make(map[ChunkKey]*Chunk),
		quests:    make(map[string]QuestEntry),
		timeOfDay: 12.0,
		dayNight:  true,
		log:       log,
	}
}

// ── mutation entry points (reconciler only) ───────────────────────

// setPlayerID records the reserved identifier outside of a login response.
func (s *Store) setPlayerID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player.ID = id
}

// ApplyLoginResponse seeds the player from the server's login answer.
func (s *Store) ApplyLoginResponse(lr protocol.LoginResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player.ID = lr.PlayerID
	s.player.Position = Vec3(lr.Position)
	if len(lr.Inventory) > 0 {
		for k, v := range lr.Inventory {
			s.player.Inventory[k] = v
		}
	}
}

// ApplyWorldChunk creates or replaces a chunk from a world-data record and
// returns a copy of the stored chunk. Replay of the same record lands on
// the same key; the map stays consistent.
func (s *Store) ApplyWorldChunk(wd protocol.WorldData, now time.Time) Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChunkKey{X: wd.ChunkX, Z: wd.ChunkZ}
	c, ok := s.chunks[key]
	if !ok {
		c = &Chunk{Key: key}
		s.chunks[key] = c
	}
	if len(wd.Terrain) > 0 || c.Terrain == nil {
		c.Terrain = wd.Terrain
	}
	c.WaterLevel = wd.WaterLevel
	c.Loaded = true
	c.LastAccess = now

	return copyChunk(c)
}

// ApplyEntityBatch applies one batch of entity payloads. The player's
// reserved identifier snaps PlayerState from server values; any other
// identifier is created on first sight or interpolated when known.
func (s *Store) ApplyEntityBatch(entities []protocol.EntityPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range entities {
		ep := &entities[i]
		if s.player.ID != 0 && ep.ID == s.player.ID {
			s.snapPlayer(ep)
			continue
		}
		if e, ok := s.entities[ep.ID]; ok {
			s.updateEntity(e, ep)
		} else {
			s.createEntity(ep)
		}
	}
}

// ApplyPlayerUpdate snaps the player from one authoritative payload, outside
// of any batch.
func (s *Store) ApplyPlayerUpdate(ep protocol.EntityPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapPlayer(&ep)
}

// snapPlayer overwrites the player from authoritative values, no smoothing:
// once the server speaks, local prediction is abandoned rather than allowed
// to diverge.
func (s *Store) snapPlayer(ep *protocol.EntityPayload) {
	if ep.Position != nil {
		s.player.Position = Vec3(*ep.Position)
	}
	if ep.Rotation != nil {
		s.player.Rotation = Quat(*ep.Rotation)
	}
	if ep.Velocity != nil {
		s.player.Velocity = Vec3(*ep.Velocity)
	}
	if ep.Health != nil {
		s.player.Health = *ep.Health
	}
	if ep.MaxHealth != nil {
		s.player.MaxHealth = *ep.MaxHealth
	}
}

func (s *Store) createEntity(ep *protocol.EntityPayload) {
	e := &EntityState{
		ID:        ep.ID,
		Type:      ep.Type,
		Rotation:  identityQuat,
		Health:    100,
		MaxHealth: 100,
		Mesh:      ep.Mesh,
		Material:  ep.Material,
		Visible:   true,
		Data:      map[string]any{},
	}
	if ep.Position != nil {
		e.Position = Vec3(*ep.Position)
	}
	if ep.Rotation != nil {
		e.Rotation = Quat(*ep.Rotation)
	}
	if ep.Velocity != nil {
		e.Velocity = Vec3(*ep.Velocity)
	}
	if ep.Health != nil {
		e.Health = *ep.Health
	}
	if ep.MaxHealth != nil {
		e.MaxHealth = *ep.MaxHealth
	}
	if ep.Visible != nil {
		e.Visible = *ep.Visible
	}
	if ep.Animation != nil {
		e.Animation = *ep.Animation
	}
	for k, v := range ep.Data {
		e.Data[k] = v
	}
	s.entities[e.ID] = e
}

// updateEntity interpolates position toward the report and replaces the
// remaining fields outright. Data keys merge: new keys overwrite, the rest
// stay untouched.
func (s *Store) updateEntity(e *EntityState, ep *protocol.EntityPayload) {
	if ep.Position != nil {
		for i := 0; i < 3; i++ {
			e.Position[i] += (ep.Position[i] - e.Position[i]) * interpolationFactor
		}
	}
	if ep.Rotation != nil {
		e.Rotation = Quat(*ep.Rotation)
	}
	if ep.Velocity != nil {
		e.Velocity = Vec3(*ep.Velocity)
	}
	if ep.Health != nil {
		e.Health = *ep.Health
	}
	if ep.MaxHealth != nil {
		e.MaxHealth = *ep.MaxHealth
	}
	if ep.Visible != nil {
		e.Visible = *ep.Visible
	}
	if ep.Animation != nil {
		e.Animation = *ep.Animation
	}
	for k, v := range ep.Data {
		e.Data[k] = v
	}
}

// RemoveEntities deletes the listed entities and returns the identifiers
// that were actually present.
func (s *Store) RemoveEntities(ids []int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []int64
	for _, id := range ids {
		if _, ok := s.entities[id]; ok {
			delete(s.entities, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// ApplyChatMessage appends to the bounded chat ring, oldest dropped first.
func (s *Store) ApplyChatMessage(m ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chat) == maxChatMessages {
		copy(s.chat, s.chat[1:])
		s.chat[len(s.chat)-1] = m
		return
	}
	s.chat = append(s.chat, m)
}

// ApplyCombatHealth replaces the target's health from a combat result.
// Returns false when the target is neither the player nor a known entity.
func (s *Store) ApplyCombatHealth(targetID int64, health int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player.ID != 0 && targetID == s.player.ID {
		s.player.Health = health
		return true
	}
	if e, ok := s.entities[targetID]; ok {
		e.Health = health
		return true
	}
	return false
}

// ApplyInventoryUpdate merges inventory counts and equipment slots into the
// player cache.
func (s *Store) ApplyInventoryUpdate(iu protocol.InventoryUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range iu.Inventory {
		if v <= 0 {
			delete(s.player.Inventory, k)
			continue
		}
		s.player.Inventory[k] = v
	}
	for slot, item := range iu.Equipment {
		if item == "" {
			delete(s.player.Equipment, slot)
			continue
		}
		s.player.Equipment[slot] = item
	}
}

// ApplyQuestUpdate upserts one quest-log entry.
func (s *Store) ApplyQuestUpdate(q QuestEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quests[q.ID] = q
}

// AdvanceClock advances game time by dt seconds, and the 24h day/night
// wheel at one game hour per 3600 real seconds when the cycle is enabled.
func (s *Store) AdvanceClock(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gameTime += dt
	if s.dayNight {
		s.timeOfDay = math.Mod(s.timeOfDay+dt/3600, 24)
	}
}

// EvictStaleChunks drops every chunk idle for longer than the TTL and
// returns the evicted keys. Entities are untouched.
func (s *Store) EvictStaleChunks(now time.Time) []ChunkKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []ChunkKey
	for key, c := range s.chunks {
		if now.Sub(c.LastAccess) > chunkTTL {
			delete(s.chunks, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// ── read-only accessors (renderer/UI) ─────────────────────────────

// Player returns a copy of the player cache.
func (s *Store) Player() PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyPlayer(s.player)
}

// Entity returns a copy of one entity.
func (s *Store) Entity(id int64) (EntityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return EntityState{}, false
	}
	return copyEntity(e), true
}

// Entities returns copies of every cached entity.
func (s *Store) Entities() []EntityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntityState, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, copyEntity(e))
	}
	return out
}

// NearbyEntities returns copies of entities within radius of pos.
func (s *Store) NearbyEntities(pos Vec3, radius float64) []EntityState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EntityState
	for _, e := range s.entities {
		dx := e.Position[0] - pos[0]
		dy := e.Position[1] - pos[1]
		dz := e.Position[2] - pos[2]
		if math.Sqrt(dx*dx+dy*dy+dz*dz) <= radius {
			out = append(out, copyEntity(e))
		}
	}
	return out
}

// LoadedChunkKeys returns the keys of all resident chunks.
func (s *Store) LoadedChunkKeys() []ChunkKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChunkKey, 0, len(s.chunks))
	for key := range s.chunks {
		out = append(out, key)
	}
	return out
}

// ChunkAt returns a copy of one chunk and marks it accessed, holding off
// eviction for another TTL window.
func (s *Store) ChunkAt(key ChunkKey, now time.Time) (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[key]
	if !ok {
		return Chunk{}, false
	}
	c.LastAccess = now
	return copyChunk(c), true
}

// ChatMessages returns a copy of the chat history, oldest first.
func (s *Store) ChatMessages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// Quests returns copies of every quest-log entry.
func (s *Store) Quests() []QuestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QuestEntry, 0, len(s.quests))
	for _, q := range s.quests {
		out = append(out, q)
	}
	return out
}

func (s *Store) GameTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameTime
}

func (s *Store) TimeOfDay() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeOfDay
}

// ── copy helpers ──────────────────────────────────────────────────

func copyPlayer(p PlayerState) PlayerState {
	out := p
	out.Inventory = make(map[string]int, len(p.Inventory))
	for k, v := range p.Inventory {
		out.Inventory[k] = v
	}
	out.Equipment = make(map[string]string, len(p.Equipment))
	for k, v := range p.Equipment {
		out.Equipment[k] = v
	}
	out.Skills = make(map[string]int, len(p.Skills))
	for k, v := range p.Skills {
		out.Skills[k] = v
	}
	return out
}

func copyEntity(e *EntityState) EntityState {
	out := *e
	out.Data = make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		out.Data[k] = v
	}
	return out
}

// copyChunk shares terrain rows: grids are replaced wholesale on update,
// never edited in place, so row sharing is safe for readers.
func copyChunk(c *Chunk) Chunk {
	out := *c
	out.Terrain = make([][]float64, len(c.Terrain))
	copy(out.Terrain, c.Terrain)
	return out
}
