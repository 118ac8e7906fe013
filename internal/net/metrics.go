package net

import (
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time copy of the session's transfer counters.
type Metrics struct {
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	ConnectAttempts   uint32
	ReconnectAttempts uint32
	Latency           time.Duration
}

// metrics holds the live counters. The read/write loops bump them from
// their own goroutines, so everything is atomic.
type metrics struct {
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	packetsSent       atomic.Uint64
	packetsReceived   atomic.Uint64
	connectAttempts   atomic.Uint32
	reconnectAttempts atomic.Uint32
	latencyNanos      atomic.Int64
}

// recordLatency folds a new ping/pong sample into the smoothed latency
// (4:1 old-to-new exponential average).
func (m *metrics) recordLatency(sample time.Duration) {
	prev := m.latencyNanos.Load()
	if prev == 0 {
		m.latencyNanos.Store(int64(sample))
		return
	}
	m.latencyNanos.Store((prev*4 + int64(sample)) / 5)
}

func (m *metrics) snapshot() Metrics {
	return Metrics{
		BytesSent:         m.bytesSent.Load(),
		BytesReceived:     m.bytesReceived.Load(),
		PacketsSent:       m.packetsSent.Load(),
		PacketsReceived:   m.packetsReceived.Load(),
		ConnectAttempts:   m.connectAttempts.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		Latency:           time.Duration(m.latencyNanos.Load()),
	}
}
