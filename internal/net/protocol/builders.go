package protocol

import "fmt"

// Builders construct outbound intent messages, validating required fields
// before the record reaches the encoder. Timestamp/sequence/session id are
// stamped later by the transport session.

// BuildClientHello announces client identity and protocol version.
func BuildClientHello(clientName, version string) (*Message, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: client_version", ErrMissingField)
	}
	return NewMessage(TypeClientHello, map[string]any{
		"client_name":    clientName,
		"client_version": version,
		"platform":       "go",
	}), nil
}

// BuildLogin carries the bare credential pass-through.
func BuildLogin(playerName, authToken, version string) (*Message, error) {
	if playerName == "" {
		return nil, fmt.Errorf("%w: player_name", ErrMissingField)
	}
	return NewMessage(TypeLoginRequest, map[string]any{
		"player_name":    playerName,
		"auth_token":     authToken,
		"client_version": version,
		"platform":       "go",
	}), nil
}

func BuildLogout() *Message {
	return NewMessage(TypeLogoutNotify, map[string]any{})
}

// BuildMovement reports the local player's predicted transform.
func BuildMovement(position [3]float64, rotation [4]float64, velocity [3]float64) *Message {
	return NewMessage(TypeMovementUpdate, map[string]any{
		"position": position[:],
		"rotation": rotation[:],
		"velocity": velocity[:],
		"flags":    0,
	})
}

func BuildChat(message, channel, target string) (*Message, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: message", ErrMissingField)
	}
	if channel == "" {
		channel = "global"
	}
	return NewMessage(TypeChatMessage, map[string]any{
		"message": message,
		"channel": channel,
		"target":  target,
	}), nil
}

// BuildWorldRequest asks the server for one terrain chunk.
func BuildWorldRequest(chunkX, chunkZ, lod int) *Message {
	return NewMessage(TypeWorldRequest, map[string]any{
		"chunk_x":          chunkX,
		"chunk_z":          chunkZ,
		"lod":              lod,
		"include_entities": true,
	})
}

func BuildEntityInteraction(entityID int64, interactionType string, data map[string]any) (*Message, error) {
	if entityID == 0 {
		return nil, fmt.Errorf("%w: entity_id", ErrMissingField)
	}
	if interactionType == "" {
		return nil, fmt.Errorf("%w: interaction_type", ErrMissingField)
	}
	if data == nil {
		data = map[string]any{}
	}
	return NewMessage(TypeEntityInteract, map[string]any{
		"entity_id":        entityID,
		"interaction_type": interactionType,
		"data":             data,
	}), nil
}

func BuildCombatAction(targetID int64, actionType, abilityID string, position [3]float64) (*Message, error) {
	if actionType == "" {
		return nil, fmt.Errorf("%w: action_type", ErrMissingField)
	}
	return NewMessage(TypeCombatAction, map[string]any{
		"target_id":   targetID,
		"action_type": actionType,
		"ability_id":  abilityID,
		"position":    position[:],
	}), nil
}

func BuildInventoryAction(action, itemID string, quantity int) (*Message, error) {
	if action == "" {
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	}
	if itemID == "" {
		return nil, fmt.Errorf("%w: item_id", ErrMissingField)
	}
	return NewMessage(TypeInventoryAction, map[string]any{
		"action":   action,
		"item_id":  itemID,
		"quantity": quantity,
	}), nil
}

func BuildQuestAction(questID, action string) (*Message, error) {
	if questID == "" {
		return nil, fmt.Errorf("%w: quest_id", ErrMissingField)
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	}
	return NewMessage(TypeQuestAction, map[string]any{
		"quest_id": questID,
		"action":   action,
	}), nil
}

func BuildTradeRequest(targetID int64, offer map[string]any) (*Message, error) {
	if targetID == 0 {
		return nil, fmt.Errorf("%w: target_id", ErrMissingField)
	}
	if offer == nil {
		offer = map[string]any{}
	}
	return NewMessage(TypeTradeRequest, map[string]any{
		"target_id": targetID,
		"offer":     offer,
	}), nil
}

// BuildPing carries the send instant in milliseconds for latency sampling.
func BuildPing(unixMilli int64) *Message {
	return NewMessage(TypePing, map[string]any{
		"timestamp": unixMilli,
	})
}
