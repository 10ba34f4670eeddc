package terminal

import (
	"github.com/termweave/termweave/internal/channel"
	"github.com/termweave/termweave/internal/surface"
)

// Key identifies a session within this process. Keys are assigned
// monotonically and never reused for the lifetime of the manager, so UI
// bindings stay stable across removals.
type Key int

// Transport is the duplex channel a session owns. channel.Channel satisfies
// it; tests substitute fakes.
type Transport interface {
	On(event string, h channel.Handler)
	Once(event string, h channel.Handler)
	SendInput(data []byte) error
	SendResize(rows, cols int) error
	DestroySessions(ids []string) error
	RequestServerSessions() error
	Connected() bool
	SessionID() string
	Close() error
}

// Dialer constructs the transport for one session.
type Dialer func(cfg channel.Config) Transport

// Session is one logical terminal: a backend pseudo-terminal process paired
// with a client-side surface and channel. Surface and Channel are exclusively
// owned and disposed with the session.
type Session struct {
	Key       Key
	SessionID string // server-assigned; empty until announced
	Name      string
	Surface   surface.Surface
	Channel   Transport
	Active    bool
}

// Info is a read-only snapshot of a session for UI rendering.
type Info struct {
	Key       Key
	SessionID string
	Name      string
	Active    bool
	Connected bool
}
