package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// CompressPayload zlib-compresses a serialized payload. The session applies
// it to payloads over its threshold and sets FlagCompressed on the frame.
func CompressPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressPayload reverses CompressPayload, capped at MaxPayloadSize to
// keep a hostile frame from ballooning in memory.
func DecompressPayload(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	if len(out) > MaxPayloadSize {
		return nil, fmt.Errorf("decompress payload: inflated past %d bytes", MaxPayloadSize)
	}
	return out, nil
}
