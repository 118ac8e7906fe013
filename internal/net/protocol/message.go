package protocol

import (
	"fmt"
	"time"
)

// MessageType identifies one wire message kind. The enumeration is closed:
// 0x01–0x0C are client→server intents, 0x81–0x8B are server→client
// notifications, so a misrouted message is detectable by range alone.
type MessageType uint16

const (
	// Client → Server
	TypeClientHello     MessageType = 0x01
	TypeLoginRequest    MessageType = 0x02
	TypeLogoutNotify    MessageType = 0x03
	TypeMovementUpdate  MessageType = 0x04
	TypeChatMessage     MessageType = 0x05
	TypeWorldRequest    MessageType = 0x06
	TypeEntityInteract  MessageType = 0x07
	TypeCombatAction    MessageType = 0x08
	TypeInventoryAction MessageType = 0x09
	TypeQuestAction     MessageType = 0x0A
	TypeTradeRequest    MessageType = 0x0B
	TypePing            MessageType = 0x0C

	// Server → Client
	TypeServerHello     MessageType = 0x81
	TypeLoginResponse   MessageType = 0x82
	TypeWorldData       MessageType = 0x83
	TypeEntityUpdate    MessageType = 0x84
	TypeChatBroadcast   MessageType = 0x85
	TypeCombatResult    MessageType = 0x86
	TypeInventoryUpdate MessageType = 0x87
	TypeQuestUpdate     MessageType = 0x88
	TypeTradeUpdate     MessageType = 0x89
	TypeErrorMessage    MessageType = 0x8A
	TypePong            MessageType = 0x8B
)

// Valid reports whether t is a member of the closed enumeration.
func (t MessageType) Valid() bool {
	return (t >= TypeClientHello && t <= TypePing) ||
		(t >= TypeServerHello && t <= TypePong)
}

// Outbound reports whether t is in the client→server range.
func (t MessageType) Outbound() bool {
	return t >= TypeClientHello && t <= TypePing
}

// Inbound reports whether t is in the server→client range.
func (t MessageType) Inbound() bool {
	return t >= TypeServerHello && t <= TypePong
}

func (t MessageType) String() string {
	switch t {
	case TypeClientHello:
		return "ClientHello"
	case TypeLoginRequest:
		return "LoginRequest"
	case TypeLogoutNotify:
		return "LogoutNotify"
	case TypeMovementUpdate:
		return "MovementUpdate"
	case TypeChatMessage:
		return "ChatMessage"
	case TypeWorldRequest:
		return "WorldRequest"
	case TypeEntityInteract:
		return "EntityInteract"
	case TypeCombatAction:
		return "CombatAction"
	case TypeInventoryAction:
		return "InventoryAction"
	case TypeQuestAction:
		return "QuestAction"
	case TypeTradeRequest:
		return "TradeRequest"
	case TypePing:
		return "Ping"
	case TypeServerHello:
		return "ServerHello"
	case TypeLoginResponse:
		return "LoginResponse"
	case TypeWorldData:
		return "WorldData"
	case TypeEntityUpdate:
		return "EntityUpdate"
	case TypeChatBroadcast:
		return "ChatBroadcast"
	case TypeCombatResult:
		return "CombatResult"
	case TypeInventoryUpdate:
		return "InventoryUpdate"
	case TypeQuestUpdate:
		return "QuestUpdate"
	case TypeTradeUpdate:
		return "TradeUpdate"
	case TypeErrorMessage:
		return "ErrorMessage"
	case TypePong:
		return "Pong"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint16(t))
	}
}

// Message is the typed, decoded in-memory form of one wire frame.
// Immutable once constructed. Timestamp and Sequence are in-memory
// diagnostics stamped by the sender; they never reach the wire.
type Message struct {
	Type      MessageType
	SessionID uint32
	Data      map[string]any

	Timestamp time.Time
	Sequence  uint64
}

// NewMessage constructs a message with a non-nil payload map.
func NewMessage(t MessageType, data map[string]any) *Message {
	if data == nil {
		data = map[string]any{}
	}
	return &Message{Type: t, Data: data}
}
