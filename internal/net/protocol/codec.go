package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire format: fixed 12-byte big-endian header followed by a UTF-8
// compact-JSON payload.
//
//	u16 messageType | u32 payloadSize | u32 sessionId | u16 flags
//
// Frames on a stream are separated by '\n'; the separator is not part of
// the frame and payloadSize alone decides where the frame ends.
const HeaderSize = 12

// MaxPayloadSize bounds the declared payload length. A header claiming
// more than this is treated as corrupt rather than waited on forever.
const MaxPayloadSize = 4 << 20

// Header flag bits.
const (
	// FlagCompressed marks a zlib-compressed payload.
	FlagCompressed uint16 = 1 << 0
)

var (
	ErrIncompleteHeader = errors.New("protocol: incomplete header")
	ErrIncompleteBody   = errors.New("protocol: incomplete body")
	ErrUnknownType      = errors.New("protocol: unknown message type")
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	ErrMissingField     = errors.New("protocol: missing required field")
)

// EncodeFrame lays out a header for an already-serialized payload and
// returns header+payload. The payload bytes are emitted as given; callers
// that compress set FlagCompressed themselves.
func EncodeFrame(t MessageType, sessionID uint32, flags uint16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[6:10], sessionID)
	binary.BigEndian.PutUint16(buf[10:12], flags)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Encode serializes the message payload to compact JSON and frames it.
func Encode(m *Message) ([]byte, error) {
	payload, err := json.Marshal(m.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type, err)
	}
	return EncodeFrame(m.Type, m.SessionID, 0, payload), nil
}

// Decode parses one frame from the front of buf. It is a pure function:
// same bytes in, same record out, no side effects.
//
// consumed is the number of bytes the caller should advance past. For the
// incomplete errors consumed is 0 (wait for more bytes); for unknown-type
// and malformed-payload errors it covers the whole declared frame so the
// caller can skip it and keep the connection alive.
func Decode(buf []byte) (msg *Message, consumed int, err error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncompleteHeader
	}

	t := MessageType(binary.BigEndian.Uint16(buf[0:2]))
	size := binary.BigEndian.Uint32(buf[2:6])
	sessionID := binary.BigEndian.Uint32(buf[6:10])
	flags := binary.BigEndian.Uint16(buf[10:12])

	if size > MaxPayloadSize {
		// A corrupt length would otherwise stall the stream waiting for
		// bytes that never come.
		return nil, 0, fmt.Errorf("%w: declared size %d", ErrMalformedPayload, size)
	}
	if len(buf) < HeaderSize+int(size) {
		return nil, 0, ErrIncompleteBody
	}

	consumed = HeaderSize + int(size)
	if !t.Valid() {
		return nil, consumed, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint16(t))
	}

	payload := buf[HeaderSize:consumed]
	if flags&FlagCompressed != 0 {
		payload, err = DecompressPayload(payload)
		if err != nil {
			return nil, consumed, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	data := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, consumed, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	return &Message{Type: t, SessionID: sessionID, Data: data}, consumed, nil
}
