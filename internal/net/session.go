package net

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/mmogo/client/internal/net/protocol"
)

// ProtocolVersion is announced in the hello/login handshake.
const ProtocolVersion = "1.0.0"

// Options configure one transport session.
type Options struct {
	Host       string
	Port       int
	PlayerName string
	AuthToken  string
	Transport  string // "tcp" or "udp"

	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	JoinTimeout       time.Duration
	InQueueSize       int
	OutQueueSize      int
	CompressThreshold int     // payloads over this many bytes are zlib-compressed
	MovementPerSec    float64 // movement-update rate limit (0 = unlimited)
}

func (o *Options) fillDefaults() {
	if o.Transport == "" {
		o.Transport = "tcp"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = time.Second
	}
	if o.InQueueSize <= 0 {
		o.InQueueSize = 256
	}
	if o.OutQueueSize <= 0 {
		o.OutQueueSize = 256
	}
	if o.CompressThreshold <= 0 {
		o.CompressThreshold = 1024
	}
}

// Session owns one connection to the game server. Network I/O runs in a
// read/write goroutine pair; decoded records are handed to the reconciler
// through InQueue and never touch world state here. Reconnection is the
// caller's responsibility.
type Session struct {
	opts Options
	conn net.Conn

	state     atomic.Int32 // SessionState
	sessionID atomic.Uint32
	playerID  atomic.Int64
	seq       atomic.Uint64

	// InQueue carries decoded inbound records, in decode order, to the
	// reconciler. Single consumer.
	InQueue  chan *protocol.Message
	outQueue chan []byte

	closeCh   chan struct{}
	closed    atomic.Bool
	readDone  chan struct{}
	writeDone chan struct{}

	wmu sync.Mutex // serializes direct conn writes (logout vs writeLoop)

	moveLimiter *rate.Limiter
	onState     func(SessionState)
	stats       metrics

	log *zap.Logger
}

func NewSession(opts Options, log *zap.Logger) *Session {
	opts.fillDefaults()
	s := &Session{
		opts:    opts,
		InQueue: make(chan *protocol.Message, opts.InQueueSize),
		log:     log.With(zap.String("server", opts.Host+":"+strconv.Itoa(opts.Port))),
	}
	if opts.MovementPerSec > 0 {
		s.moveLimiter = rate.NewLimiter(rate.Limit(opts.MovementPerSec), 1)
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Connected reports whether the session is usable. Callers poll this (or
// register a state callback) to decide when to reconnect.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

func (s *Session) SessionID() uint32 { return s.sessionID.Load() }
func (s *Session) PlayerID() int64   { return s.playerID.Load() }

// Metrics returns a copy of the transfer counters.
func (s *Session) Metrics() Metrics { return s.stats.snapshot() }

// SetStateCallback registers a lifecycle observer. Set before Connect; the
// callback runs on whichever goroutine drives the transition.
func (s *Session) SetStateCallback(fn func(SessionState)) { s.onState = fn }

func (s *Session) transition(st SessionState) {
	s.state.Store(int32(st))
	if s.onState != nil {
		s.onState(st)
	}
}

// Connect dials the server, sends the hello/login handshake, and starts the
// read and write loops. On failure the session returns to Disconnected.
func (s *Session) Connect() error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connect: session is %s", s.State())
	}
	if s.onState != nil {
		s.onState(StateConnecting)
	}
	if n := s.stats.connectAttempts.Add(1); n > 1 {
		s.stats.reconnectAttempts.Add(1)
	}

	// After a server-side drop the loops shut the session down themselves
	// and nobody joined them. Wait here before reusing conn/closeCh/
	// outQueue, or a stale writeLoop's wind-down could tear the fresh
	// connection back down.
	s.join(s.readDone)
	s.join(s.writeDone)

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	conn, err := net.DialTimeout(s.opts.Transport, addr, s.opts.ConnectTimeout)
	if err != nil {
		s.transition(StateDisconnected)
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	s.conn = conn
	s.closeCh = make(chan struct{})
	s.readDone = make(chan struct{})
	s.writeDone = make(chan struct{})
	s.outQueue = make(chan []byte, s.opts.OutQueueSize)
	s.closed.Store(false)
	s.transition(StateConnected)

	go s.readLoop()
	go s.writeLoop()

	// Hello and login go out ahead of any queued intent.
	hello, err := protocol.BuildClientHello(s.opts.PlayerName, ProtocolVersion)
	if err != nil {
		s.Disconnect()
		return err
	}
	s.enqueue(hello)
	login, err := protocol.BuildLogin(s.opts.PlayerName, s.opts.AuthToken, ProtocolVersion)
	if err != nil {
		s.Disconnect()
		return err
	}
	s.enqueue(login)

	s.log.Info("已連線", zap.String("transport", s.opts.Transport))
	return nil
}

// Disconnect sends a best-effort logout, closes the socket to unblock the
// read loop, and joins both loops with a bounded wait.
func (s *Session) Disconnect() {
	if s.State() == StateConnected {
		s.sendLogoutDirect()
	}
	s.shutdown()
	s.join(s.readDone)
	s.join(s.writeDone)
	s.log.Info("連線已關閉")
}

// shutdown signals both loops and closes the socket. Safe to call from the
// loops themselves; it never waits.
func (s *Session) shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.transition(StateClosing)
	if s.closeCh != nil {
		close(s.closeCh)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.transition(StateDisconnected)
}

func (s *Session) join(done chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(s.opts.JoinTimeout):
		s.log.Warn("等待收發迴圈結束逾時")
	}
}

func (s *Session) sendLogoutDirect() {
	frame, err := protocol.Encode(&protocol.Message{
		Type:      protocol.TypeLogoutNotify,
		SessionID: s.sessionID.Load(),
		Data:      map[string]any{},
	})
	if err != nil {
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	s.conn.Write(append(frame, '\n'))
}

// ── outbound path ─────────────────────────────────────────────────

// enqueue stamps the message, frames it (compressing large payloads), and
// pushes it onto the outbound queue. It never blocks: a full queue drops
// the frame with a warning.
func (s *Session) enqueue(m *protocol.Message) {
	if s.State() != StateConnected {
		s.log.Warn("未連線，丟棄訊息", zap.Stringer("type", m.Type))
		return
	}
	m.SessionID = s.sessionID.Load()
	m.Sequence = s.seq.Add(1)
	m.Timestamp = time.Now()

	payload, err := json.Marshal(m.Data)
	if err != nil {
		s.log.Warn("訊息序列化失敗", zap.Stringer("type", m.Type), zap.Error(err))
		return
	}
	var flags uint16
	if len(payload) > s.opts.CompressThreshold {
		if c, cerr := protocol.CompressPayload(payload); cerr == nil {
			payload = c
			flags = protocol.FlagCompressed
		}
	}
	frame := protocol.EncodeFrame(m.Type, m.SessionID, flags, payload)
	frame = append(frame, '\n')

	select {
	case s.outQueue <- frame:
	default:
		s.log.Warn("輸出佇列已滿，丟棄訊息", zap.Stringer("type", m.Type))
	}
}

func (s *Session) writeLoop() {
	defer close(s.writeDone)
	defer s.shutdown()

	for {
		select {
		case frame := <-s.outQueue:
			if !s.writeFrame(frame) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeFrame(frame []byte) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if _, err := s.conn.Write(frame); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	s.stats.bytesSent.Add(uint64(len(frame)))
	s.stats.packetsSent.Add(1)
	return true
}

// ── inbound path ──────────────────────────────────────────────────

func (s *Session) readLoop() {
	defer close(s.readDone)
	defer s.shutdown()

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		n, err := s.conn.Read(chunk)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}
		s.stats.bytesReceived.Add(uint64(n))
		buf = append(buf, chunk[:n]...)
		buf = s.drainFrames(buf)
	}
}

// drainFrames decodes every complete frame at the front of buf and returns
// the unconsumed tail. A bad frame is skipped (resyncing past the next
// separator when even the header is unusable); the connection survives.
func (s *Session) drainFrames(buf []byte) []byte {
	for len(buf) > 0 {
		if buf[0] == '\n' {
			buf = buf[1:]
			continue
		}
		msg, consumed, err := protocol.Decode(buf)
		if errors.Is(err, protocol.ErrIncompleteHeader) || errors.Is(err, protocol.ErrIncompleteBody) {
			break
		}
		if err != nil {
			s.log.Warn("幀解碼失敗，略過", zap.Error(err))
			if consumed > 0 {
				buf = buf[consumed:]
				continue
			}
			if i := bytes.IndexByte(buf, '\n'); i >= 0 {
				buf = buf[i+1:]
				continue
			}
			if len(buf) > protocol.HeaderSize+protocol.MaxPayloadSize {
				s.log.Warn("緩衝區無法重新同步，清空")
				return nil
			}
			break
		}
		buf = buf[consumed:]
		s.stats.packetsReceived.Add(1)
		s.dispatch(msg)
	}
	return buf
}

// dispatch handles session-level records and forwards the rest, in decode
// order, to the reconciler's queue.
func (s *Session) dispatch(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeLoginResponse:
		lr := protocol.ParseLoginResponse(m)
		if lr.Success {
			s.sessionID.Store(lr.SessionID)
			s.playerID.Store(lr.PlayerID)
			s.log.Info("登入成功",
				zap.Uint32("session_id", lr.SessionID),
				zap.Int64("player_id", lr.PlayerID),
			)
		} else {
			s.log.Warn("登入被拒絕", zap.String("message", lr.Message))
		}
	case protocol.TypePong:
		if ms := protocol.ParsePong(m); ms > 0 {
			s.stats.recordLatency(time.Since(time.UnixMilli(ms)))
		}
		return // latency sample only, not forwarded
	}

	select {
	case s.InQueue <- m:
	case <-s.closeCh:
	}
}

// ── public intents ────────────────────────────────────────────────
//
// Thin wrappers: build a message via the protocol builders and enqueue it.
// They never block on the network and never touch world state.

// Login resends the credential handshake (Connect already sent one).
func (s *Session) Login() error {
	m, err := protocol.BuildLogin(s.opts.PlayerName, s.opts.AuthToken, ProtocolVersion)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

// Logout queues a logout notification without tearing the session down.
func (s *Session) Logout() {
	s.enqueue(protocol.BuildLogout())
}

// SendMovement reports the predicted player transform. Updates beyond the
// configured rate are dropped; the next allowed update carries the freshest
// transform anyway.
func (s *Session) SendMovement(pos [3]float64, rot [4]float64, vel [3]float64) {
	if s.moveLimiter != nil && !s.moveLimiter.Allow() {
		return
	}
	s.enqueue(protocol.BuildMovement(pos, rot, vel))
}

// SendChat NFC-normalizes the text before it leaves the client, so composed
// and decomposed input compare equal server-side.
func (s *Session) SendChat(message, channel, target string) error {
	m, err := protocol.BuildChat(norm.NFC.String(message), channel, target)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

func (s *Session) RequestChunk(chunkX, chunkZ int) {
	s.enqueue(protocol.BuildWorldRequest(chunkX, chunkZ, 0))
}

func (s *Session) SendInteraction(entityID int64, interactionType string, data map[string]any) error {
	m, err := protocol.BuildEntityInteraction(entityID, interactionType, data)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

func (s *Session) SendCombatAction(targetID int64, actionType, abilityID string, pos [3]float64) error {
	m, err := protocol.BuildCombatAction(targetID, actionType, abilityID, pos)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

func (s *Session) SendInventoryAction(action, itemID string, quantity int) error {
	m, err := protocol.BuildInventoryAction(action, itemID, quantity)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

func (s *Session) SendQuestAction(questID, action string) error {
	m, err := protocol.BuildQuestAction(questID, action)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

func (s *Session) SendTradeRequest(targetID int64, offer map[string]any) error {
	m, err := protocol.BuildTradeRequest(targetID, offer)
	if err != nil {
		return err
	}
	s.enqueue(m)
	return nil
}

// Ping queues a latency probe; the matching pong feeds the latency metric.
func (s *Session) Ping() {
	s.enqueue(protocol.BuildPing(time.Now().UnixMilli()))
}
