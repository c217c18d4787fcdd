// Package metrics provides per-session counters for the controller.
//
// The Collector accumulates counters during a single client launch. It is a
// leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Spawn
	SpawnSuccess  int64 `json:"spawn_success"`
	SpawnFailure  int64 `json:"spawn_failure"`
	FallbackSpawn int64 `json:"fallback_spawn"`

	// Connect
	ConnectAttempts int64 `json:"connect_attempts"`
	ConnectSuccess  int64 `json:"connect_success"`
	ConnectFailure  int64 `json:"connect_failure"`
	TrustFailure    int64 `json:"trust_failure"`

	// Configuration protocol
	MessagesSent   int64 `json:"messages_sent"`
	MessagesElided int64 `json:"messages_elided"`
	BytesWritten   int64 `json:"bytes_written"`
	ShortWrites    int64 `json:"short_writes"`
	WriteFailures  int64 `json:"write_failures"`

	// Child lifetime
	ClientExits   int64            `json:"client_exits"`
	ExitsByResult map[string]int64 `json:"exits_by_result"`
	Terminations  int64            `json:"terminations"`

	// Dimensions (informational, set at construction)
	Transport string `json:"transport"`
	SessionID string `json:"session_id"`
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	spawnSuccess  int64
	spawnFailure  int64
	fallbackSpawn int64

	connectAttempts int64
	connectSuccess  int64
	connectFailure  int64
	trustFailure    int64

	messagesSent   int64
	messagesElided int64
	bytesWritten   int64
	shortWrites    int64
	writeFailures  int64

	clientExits   int64
	exitsByResult map[string]int64
	terminations  int64

	transport string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(transport, sessionID string) *Collector {
	return &Collector{
		exitsByResult: make(map[string]int64),
		transport:     transport,
		sessionID:     sessionID,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Spawn ---

// IncSpawnSuccess records a client process that started.
func (c *Collector) IncSpawnSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.spawnSuccess)
}

// IncSpawnFailure records a failed process creation (primary or fallback).
func (c *Collector) IncSpawnFailure() {
	if c == nil {
		return
	}
	c.inc(&c.spawnFailure)
}

// IncFallbackSpawn records that the fallback client had to be used.
func (c *Collector) IncFallbackSpawn() {
	if c == nil {
		return
	}
	c.inc(&c.fallbackSpawn)
}

// --- Connect ---

// IncConnectAttempt records one transport connect attempt.
func (c *Collector) IncConnectAttempt() {
	if c == nil {
		return
	}
	c.inc(&c.connectAttempts)
}

// IncConnectSuccess records an established transport.
func (c *Collector) IncConnectSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.connectSuccess)
}

// IncConnectFailure records an exhausted or aborted connect loop.
func (c *Collector) IncConnectFailure() {
	if c == nil {
		return
	}
	c.inc(&c.connectFailure)
}

// IncTrustFailure records an endpoint that failed the ownership check.
func (c *Collector) IncTrustFailure() {
	if c == nil {
		return
	}
	c.inc(&c.trustFailure)
}

// --- Configuration protocol ---

// AddMessageSent records one message written and its byte count.
func (c *Collector) AddMessageSent(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesSent++
	c.bytesWritten += int64(n)
	c.mu.Unlock()
}

// IncMessageElided records a message skipped because its payload was zero or empty.
func (c *Collector) IncMessageElided() {
	if c == nil {
		return
	}
	c.inc(&c.messagesElided)
}

// AddShortWrite records a write that moved fewer bytes than the message size.
func (c *Collector) AddShortWrite(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shortWrites++
	c.bytesWritten += int64(n)
	c.mu.Unlock()
}

// IncWriteFailure records a write that failed outright.
func (c *Collector) IncWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.writeFailures)
}

// --- Child lifetime ---

// IncClientExit records a client exit with its normalized result name.
func (c *Collector) IncClientExit(result string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.clientExits++
	c.exitsByResult[result]++
	c.mu.Unlock()
}

// IncTermination records a forced termination request.
func (c *Collector) IncTermination() {
	if c == nil {
		return
	}
	c.inc(&c.terminations)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	exits := make(map[string]int64, len(c.exitsByResult))
	for k, v := range c.exitsByResult {
		exits[k] = v
	}

	return Snapshot{
		SpawnSuccess:  c.spawnSuccess,
		SpawnFailure:  c.spawnFailure,
		FallbackSpawn: c.fallbackSpawn,

		ConnectAttempts: c.connectAttempts,
		ConnectSuccess:  c.connectSuccess,
		ConnectFailure:  c.connectFailure,
		TrustFailure:    c.trustFailure,

		MessagesSent:   c.messagesSent,
		MessagesElided: c.messagesElided,
		BytesWritten:   c.bytesWritten,
		ShortWrites:    c.shortWrites,
		WriteFailures:  c.writeFailures,

		ClientExits:   c.clientExits,
		ExitsByResult: exits,
		Terminations:  c.terminations,

		Transport: c.transport,
		SessionID: c.sessionID,
	}
}
