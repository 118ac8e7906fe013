// framedump decodes a captured wire stream and prints each frame.
//
// Usage:
//
//	go run ./cmd/framedump [-json] [-max n] <capture file>
//
// The input is raw bytes as seen on the socket: length-prefixed frames with
// optional newline separators, exactly what a tcpdump payload extract or the
// session's own traffic log produces.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mmogo/client/internal/net/protocol"
)

func main() {
	jsonOut := flag.Bool("json", false, "print full payloads as JSON")
	maxFrames := flag.Int("max", 0, "stop after n frames (0 = all)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: framedump [-json] [-max n] <capture file>")
		os.Exit(2)
	}

	if err := dump(flag.Arg(0), *jsonOut, *maxFrames); err != nil {
		fmt.Fprintf(os.Stderr, "framedump: %v\n", err)
		os.Exit(1)
	}
}

func dump(path string, jsonOut bool, maxFrames int) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	counts := map[protocol.MessageType]int{}
	frames, skipped := 0, 0
	offset := 0

	for offset < len(buf) {
		if buf[offset] == '\n' {
			offset++
			continue
		}
		msg, consumed, err := protocol.Decode(buf[offset:])
		if consumed == 0 {
			// Trailing partial frame.
			skipped += len(buf) - offset
			break
		}
		at := offset
		offset += consumed
		if err != nil {
			fmt.Printf("%08x  !! %v\n", at, err)
			skipped += consumed
			continue
		}

		frames++
		counts[msg.Type]++
		if jsonOut {
			payload, _ := json.Marshal(msg.Data)
			fmt.Printf("%08x  %-20s sess=%-6d %s\n", at, msg.Type, msg.SessionID, payload)
		} else {
			fmt.Printf("%08x  %-20s sess=%-6d %s\n", at, msg.Type, msg.SessionID, summarize(msg))
		}
		if maxFrames > 0 && frames >= maxFrames {
			break
		}
	}

	fmt.Printf("\n%d frames", frames)
	if skipped > 0 {
		fmt.Printf(", %d bytes unparsed", skipped)
	}
	fmt.Println()

	types := make([]protocol.MessageType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Printf("  %-20s %d\n", t, counts[t])
	}
	return nil
}

// summarize prints the handful of fields that identify a frame without
// flooding the terminal.
func summarize(m *protocol.Message) string {
	keys := []string{"player_id", "entity_id", "chunk_x", "chunk_z", "target_id",
		"quest_id", "sender", "message", "action_type", "success", "code"}
	var parts []string
	for _, k := range keys {
		if v, ok := m.Data[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if ents, ok := m.Data["entities"].([]any); ok {
		parts = append(parts, fmt.Sprintf("entities=%d", len(ents)))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("(%d keys)", len(m.Data))
	}
	return strings.Join(parts, " ")
}
