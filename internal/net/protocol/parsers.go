package protocol

import "fmt"

// Parsers extract typed views from inbound payloads. Optional fields get
// defaults; only identity fields (entity id, chunk coordinates, npc id) are
// required and produce an error when absent.

// LoginResponse is the server's answer to a login request.
type LoginResponse struct {
	Success   bool
	PlayerID  int64
	SessionID uint32
	Message   string
	Position  [3]float64
	Inventory map[string]int
}

func ParseLoginResponse(m *Message) LoginResponse {
	return LoginResponse{
		Success:   asBool(m.Data["success"], false),
		PlayerID:  asInt64(m.Data["player_id"], 0),
		SessionID: uint32(asInt64(m.Data["session_id"], 0)),
		Message:   asString(m.Data["message"], ""),
		Position:  asVec3(m.Data["position"], [3]float64{}),
		Inventory: asIntMap(m.Data["inventory"]),
	}
}

// WorldData carries one terrain chunk plus the entities standing in it.
type WorldData struct {
	ChunkX     int
	ChunkZ     int
	Terrain    [][]float64
	Entities   []EntityPayload
	Objects    []map[string]any
	WaterLevel float64
}

func ParseWorldData(m *Message) (WorldData, error) {
	if _, ok := m.Data["chunk_x"]; !ok {
		return WorldData{}, fmt.Errorf("%w: chunk_x", ErrMissingField)
	}
	if _, ok := m.Data["chunk_z"]; !ok {
		return WorldData{}, fmt.Errorf("%w: chunk_z", ErrMissingField)
	}
	wd := WorldData{
		ChunkX:     int(asInt64(m.Data["chunk_x"], 0)),
		ChunkZ:     int(asInt64(m.Data["chunk_z"], 0)),
		Terrain:    asGrid(m.Data["terrain"]),
		Objects:    asMapSlice(m.Data["objects"]),
		WaterLevel: asFloat(m.Data["water_level"], 0),
	}
	for _, raw := range asMapSlice(m.Data["entities"]) {
		ep, err := ParseEntityPayload(raw)
		if err != nil {
			continue // one bad entity never drops the chunk
		}
		wd.Entities = append(wd.Entities, ep)
	}
	return wd, nil
}

// EntityPayload is one entity's fields inside a world-data or entity-update
// record. Pointer fields distinguish "absent" from a zero value so the
// reconciler only touches what the server actually reported.
type EntityPayload struct {
	ID        int64
	Type      string
	Position  *[3]float64
	Rotation  *[4]float64
	Velocity  *[3]float64
	Health    *int
	MaxHealth *int
	Mesh      string
	Material  string
	Visible   *bool
	Animation *string
	Data      map[string]any
}

func ParseEntityPayload(raw map[string]any) (EntityPayload, error) {
	id := asInt64(raw["id"], 0)
	if id == 0 {
		return EntityPayload{}, fmt.Errorf("%w: id", ErrMissingField)
	}
	ep := EntityPayload{
		ID:       id,
		Type:     asString(raw["type"], "unknown"),
		Mesh:     asString(raw["mesh"], ""),
		Material: asString(raw["material"], ""),
		Data:     asAnyMap(raw["data"]),
	}
	if v, ok := raw["position"]; ok {
		p := asVec3(v, [3]float64{})
		ep.Position = &p
	}
	if v, ok := raw["rotation"]; ok {
		q := asQuat(v, [4]float64{0, 0, 0, 1})
		ep.Rotation = &q
	}
	if v, ok := raw["velocity"]; ok {
		p := asVec3(v, [3]float64{})
		ep.Velocity = &p
	}
	if v, ok := raw["health"]; ok {
		h := int(asInt64(v, 0))
		ep.Health = &h
	}
	if v, ok := raw["max_health"]; ok {
		h := int(asInt64(v, 0))
		ep.MaxHealth = &h
	}
	if v, ok := raw["visible"]; ok {
		b := asBool(v, true)
		ep.Visible = &b
	}
	if v, ok := raw["animation"]; ok {
		a := asString(v, "")
		ep.Animation = &a
	}
	return ep, nil
}

// Collision is a server-reported contact event riding inside an
// entity-update payload.
type Collision struct {
	Entity1 int64
	Entity2 int64
	Point   [3]float64
}

// NpcInteraction is a server-initiated dialogue/trade/quest trigger riding
// inside an entity-update payload.
type NpcInteraction struct {
	NpcID int64
	Kind  string
	Data  map[string]any
}

// EntityUpdate is the reconciler's main diet: entity field batches plus the
// explicit removal list and any piggybacked collision/interaction events.
type EntityUpdate struct {
	Entities     []EntityPayload
	Removed      []int64
	Collisions   []Collision
	Interactions []NpcInteraction
	Timestamp    float64
}

func ParseEntityUpdate(m *Message) EntityUpdate {
	eu := EntityUpdate{
		Timestamp: asFloat(m.Data["timestamp"], 0),
	}
	for _, raw := range asMapSlice(m.Data["entities"]) {
		ep, err := ParseEntityPayload(raw)
		if err != nil {
			continue
		}
		eu.Entities = append(eu.Entities, ep)
	}
	for _, v := range asSlice(m.Data["removed"]) {
		if id := asInt64(v, 0); id != 0 {
			eu.Removed = append(eu.Removed, id)
		}
	}
	for _, raw := range asMapSlice(m.Data["collisions"]) {
		eu.Collisions = append(eu.Collisions, Collision{
			Entity1: asInt64(raw["entity1"], 0),
			Entity2: asInt64(raw["entity2"], 0),
			Point:   asVec3(raw["point"], [3]float64{}),
		})
	}
	for _, raw := range asMapSlice(m.Data["interactions"]) {
		npcID := asInt64(raw["npc_id"], 0)
		if npcID == 0 {
			continue
		}
		eu.Interactions = append(eu.Interactions, NpcInteraction{
			NpcID: npcID,
			Kind:  asString(raw["interaction_type"], "dialogue"),
			Data:  asAnyMap(raw["data"]),
		})
	}
	return eu
}

// ChatBroadcast is one relayed chat line.
type ChatBroadcast struct {
	Sender  string
	Message string
	Channel string
}

func ParseChat(m *Message) ChatBroadcast {
	return ChatBroadcast{
		Sender:  asString(m.Data["sender"], "Unknown"),
		Message: asString(m.Data["message"], ""),
		Channel: asString(m.Data["channel"], "global"),
	}
}

// CombatResult reports the outcome of one combat action.
type CombatResult struct {
	AttackerID int64
	TargetID   int64
	Damage     float64
	Health     *int
	Fatal      bool
}

func ParseCombatResult(m *Message) (CombatResult, error) {
	target := asInt64(m.Data["target_id"], 0)
	if target == 0 {
		return CombatResult{}, fmt.Errorf("%w: target_id", ErrMissingField)
	}
	cr := CombatResult{
		AttackerID: asInt64(m.Data["attacker_id"], 0),
		TargetID:   target,
		Damage:     asFloat(m.Data["damage"], 0),
		Fatal:      asBool(m.Data["fatal"], false),
	}
	if v, ok := m.Data["health"]; ok {
		h := int(asInt64(v, 0))
		cr.Health = &h
	}
	return cr, nil
}

// InventoryUpdate replaces or merges player inventory/equipment entries.
type InventoryUpdate struct {
	Inventory map[string]int
	Equipment map[string]string
}

func ParseInventoryUpdate(m *Message) InventoryUpdate {
	return InventoryUpdate{
		Inventory: asIntMap(m.Data["inventory"]),
		Equipment: asStringMap(m.Data["equipment"]),
	}
}

// QuestUpdate advances one quest-log entry.
type QuestUpdate struct {
	QuestID string
	State   string
	Data    map[string]any
}

func ParseQuestUpdate(m *Message) (QuestUpdate, error) {
	id := asString(m.Data["quest_id"], "")
	if id == "" {
		return QuestUpdate{}, fmt.Errorf("%w: quest_id", ErrMissingField)
	}
	return QuestUpdate{
		QuestID: id,
		State:   asString(m.Data["state"], "active"),
		Data:    asAnyMap(m.Data["data"]),
	}, nil
}

// TradeUpdate reports trade-window progress with another player.
type TradeUpdate struct {
	TradeID int64
	State   string
	Data    map[string]any
}

func ParseTradeUpdate(m *Message) TradeUpdate {
	return TradeUpdate{
		TradeID: asInt64(m.Data["trade_id"], 0),
		State:   asString(m.Data["state"], "pending"),
		Data:    asAnyMap(m.Data["data"]),
	}
}

// ServerError is a non-fatal server-side complaint.
type ServerError struct {
	Code     int
	Message  string
	Severity string
}

func ParseError(m *Message) ServerError {
	return ServerError{
		Code:     int(asInt64(m.Data["code"], 0)),
		Message:  asString(m.Data["message"], ""),
		Severity: asString(m.Data["severity"], "error"),
	}
}

// ParsePong returns the timestamp echoed from the matching ping, in unix
// milliseconds.
func ParsePong(m *Message) int64 {
	return asInt64(m.Data["timestamp"], 0)
}

// ── payload coercion helpers ──────────────────────────────────────
//
// encoding/json decodes numbers in a map[string]any as float64; these
// helpers absorb that plus the int/int64 values builders put in locally
// constructed messages.

func asFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

func asInt64(v any, def int64) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	default:
		return def
	}
}

func asBool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func asString(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asMapSlice(v any) []map[string]any {
	var out []map[string]any
	for _, e := range asSlice(v) {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func asAnyMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asIntMap(v any) map[string]int {
	out := map[string]int{}
	for k, e := range asAnyMap(v) {
		out[k] = int(asInt64(e, 0))
	}
	return out
}

func asStringMap(v any) map[string]string {
	out := map[string]string{}
	for k, e := range asAnyMap(v) {
		out[k] = asString(e, "")
	}
	return out
}

func asVec3(v any, def [3]float64) [3]float64 {
	s := asSlice(v)
	if len(s) < 3 {
		return def
	}
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = asFloat(s[i], def[i])
	}
	return out
}

func asQuat(v any, def [4]float64) [4]float64 {
	s := asSlice(v)
	if len(s) < 4 {
		return def
	}
	var out [4]float64
	for i := 0; i < 4; i++ {
		out[i] = asFloat(s[i], def[i])
	}
	return out
}

func asGrid(v any) [][]float64 {
	var out [][]float64
	for _, row := range asSlice(v) {
		var r []float64
		for _, cell := range asSlice(row) {
			r = append(r, asFloat(cell, 0))
		}
		out = append(out, r)
	}
	return out
}
