package net

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmogo/client/internal/net/protocol"
)

// testServer is a minimal loopback game server: it accepts one connection
// and decodes frames with the same codec the client uses.
type testServer struct {
	ln   net.Listener
	conn net.Conn
	buf  []byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{ln: ln}
	t.Cleanup(func() {
		if srv.conn != nil {
			srv.conn.Close()
		}
		ln.Close()
	})
	return srv
}

func (srv *testServer) port() int {
	return srv.ln.Addr().(*net.TCPAddr).Port
}

func (srv *testServer) accept(t *testing.T) {
	t.Helper()
	srv.ln.(*net.TCPListener).SetDeadline(time.Now().Add(2 * time.Second))
	conn, err := srv.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	srv.conn = conn
}

// nextFrame reads one decoded frame plus its raw header flags.
func (srv *testServer) nextFrame(t *testing.T) (*protocol.Message, uint16) {
	t.Helper()
	chunk := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for {
		for len(srv.buf) > 0 && srv.buf[0] == '\n' {
			srv.buf = srv.buf[1:]
		}
		if len(srv.buf) >= protocol.HeaderSize {
			flags := binary.BigEndian.Uint16(srv.buf[10:12])
			msg, consumed, err := protocol.Decode(srv.buf)
			if err == nil {
				srv.buf = srv.buf[consumed:]
				return msg, flags
			}
			if !errors.Is(err, protocol.ErrIncompleteBody) {
				t.Fatalf("server decode: %v", err)
			}
		}
		srv.conn.SetReadDeadline(deadline)
		n, err := srv.conn.Read(chunk)
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		srv.buf = append(srv.buf, chunk[:n]...)
	}
}

func (srv *testServer) send(t *testing.T, typ protocol.MessageType, data map[string]any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame := protocol.EncodeFrame(typ, 0, 0, payload)
	if _, err := srv.conn.Write(append(frame, '\n')); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func newTestSession(srv *testServer) *Session {
	return NewSession(Options{
		Host:       "127.0.0.1",
		Port:       srv.port(),
		PlayerName: "tester",
	}, zap.NewNop())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSendsHelloAndLogin(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(srv)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	srv.accept(t)

	hello, _ := srv.nextFrame(t)
	if hello.Type != protocol.TypeClientHello {
		t.Fatalf("first frame = %v, want ClientHello", hello.Type)
	}
	login, _ := srv.nextFrame(t)
	if login.Type != protocol.TypeLoginRequest {
		t.Fatalf("second frame = %v, want LoginRequest", login.Type)
	}
	if login.Data["player_name"] != "tester" {
		t.Errorf("player_name = %v", login.Data["player_name"])
	}
	if !s.Connected() {
		t.Errorf("session should report connected")
	}
}

func TestLoginResponseAdoptsIDs(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(srv)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	srv.accept(t)
	srv.nextFrame(t) // hello
	srv.nextFrame(t) // login

	srv.send(t, protocol.TypeLoginResponse, map[string]any{
		"success":    true,
		"session_id": 7,
		"player_id":  42,
	})

	waitFor(t, "id adoption", func() bool { return s.SessionID() == 7 })
	if s.PlayerID() != 42 {
		t.Fatalf("player id = %d, want 42", s.PlayerID())
	}

	// The login response is still forwarded to the reconciler queue.
	select {
	case m := <-s.InQueue:
		if m.Type != protocol.TypeLoginResponse {
			t.Fatalf("forwarded = %v, want LoginResponse", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("login response never reached the inbound queue")
	}

	// Subsequent outgoing frames carry the adopted session id.
	if err := s.SendChat("hello", "global", ""); err != nil {
		t.Fatalf("chat: %v", err)
	}
	chat, _ := srv.nextFrame(t)
	if chat.Type != protocol.TypeChatMessage {
		t.Fatalf("frame = %v, want ChatMessage", chat.Type)
	}
	if chat.SessionID != 7 {
		t.Fatalf("session id on wire = %d, want 7", chat.SessionID)
	}
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listens here anymore

	s := NewSession(Options{Host: "127.0.0.1", Port: port, PlayerName: "tester"}, zap.NewNop())
	if err := s.Connect(); err == nil {
		t.Fatal("connect to dead port should fail")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v, want Disconnected", s.State())
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(srv)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	srv.accept(t)
	srv.nextFrame(t) // hello
	srv.nextFrame(t) // login

	// Server drops the connection; the loops wind the session down on
	// their own, with nobody calling Disconnect.
	srv.conn.Close()
	waitFor(t, "drop detection", func() bool { return s.State() == StateDisconnected })

	// An immediate reconnect reuses the session. The old loops' wind-down
	// must not close the fresh connection out from under it.
	srv.buf = nil
	if err := s.Connect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer s.Disconnect()
	srv.accept(t)

	hello, _ := srv.nextFrame(t)
	if hello.Type != protocol.TypeClientHello {
		t.Fatalf("first frame after reconnect = %v, want ClientHello", hello.Type)
	}
	srv.nextFrame(t) // login

	// Traffic still flows on the new connection and the state sticks.
	if err := s.SendChat("still here", "global", ""); err != nil {
		t.Fatalf("chat after reconnect: %v", err)
	}
	chat, _ := srv.nextFrame(t)
	if chat.Type != protocol.TypeChatMessage {
		t.Fatalf("frame = %v, want ChatMessage", chat.Type)
	}
	time.Sleep(50 * time.Millisecond)
	if !s.Connected() {
		t.Fatal("fresh connection was torn down")
	}
	if m := s.Metrics(); m.ReconnectAttempts != 1 {
		t.Errorf("reconnect attempts = %d, want 1", m.ReconnectAttempts)
	}
}

func TestBadFrameDoesNotKillConnection(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(srv)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	srv.accept(t)
	srv.nextFrame(t)
	srv.nextFrame(t)

	// Garbage that cannot even be framed, then a valid broadcast.
	if _, err := srv.conn.Write([]byte("this is not a frame at all\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	srv.send(t, protocol.TypeChatBroadcast, map[string]any{
		"sender": "srv", "message": "still alive",
	})

	select {
	case m := <-s.InQueue:
		if m.Type != protocol.TypeChatBroadcast {
			t.Fatalf("got %v, want ChatBroadcast", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after garbage never arrived")
	}
	if !s.Connected() {
		t.Fatal("one bad frame must not tear the connection down")
	}
}

func TestLargePayloadIsCompressed(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(srv)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	srv.accept(t)
	srv.nextFrame(t)
	srv.nextFrame(t)

	big := strings.Repeat("z", 4096)
	if err := s.SendChat(big, "global", ""); err != nil {
		t.Fatalf("chat: %v", err)
	}
	msg, flags := srv.nextFrame(t)
	if flags&protocol.FlagCompressed == 0 {
		t.Fatal("payload over threshold should carry the compressed flag")
	}
	if msg.Data["message"] != big {
		t.Fatal("compressed payload did not round-trip")
	}

	// Small payloads stay raw.
	if err := s.SendChat("hi", "global", ""); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, flags := srv.nextFrame(t); flags&protocol.FlagCompressed != 0 {
		t.Fatal("small payload should not be compressed")
	}
}

func TestDisconnectSendsLogout(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(srv)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	srv.accept(t)
	srv.nextFrame(t)
	srv.nextFrame(t)

	s.Disconnect()
	if s.Connected() {
		t.Fatal("session should not report connected after disconnect")
	}
	msg, _ := srv.nextFrame(t)
	if msg.Type != protocol.TypeLogoutNotify {
		t.Fatalf("frame = %v, want LogoutNotify", msg.Type)
	}
}

func TestMovementRateLimit(t *testing.T) {
	srv := newTestServer(t)
	s := NewSession(Options{
		Host:           "127.0.0.1",
		Port:           srv.port(),
		PlayerName:     "tester",
		MovementPerSec: 1, // a single update per second
	}, zap.NewNop())
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	srv.accept(t)
	srv.nextFrame(t)
	srv.nextFrame(t)

	for i := 0; i < 50; i++ {
		s.SendMovement([3]float64{float64(i), 0, 0}, [4]float64{0, 0, 0, 1}, [3]float64{})
	}
	s.Ping() // fence: everything allowed through is already queued

	moves := 0
	for {
		m, _ := srv.nextFrame(t)
		if m.Type == protocol.TypePing {
			break
		}
		if m.Type == protocol.TypeMovementUpdate {
			moves++
		}
	}
	if moves != 1 {
		t.Fatalf("movement frames on wire = %d, want 1", moves)
	}
}
