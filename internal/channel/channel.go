// Package channel implements the per-session duplex transport: one websocket
// per terminal session, with an attach handshake, heartbeat liveness checks,
// and unlimited reconnection with jittered backoff. A session's backlog and
// process live on the backend, so the channel keeps retrying for as long as
// the session exists rather than giving up.
package channel

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termweave/termweave/internal/logging"
)

var log = logging.ForComponent(logging.CompChannel)

// ErrNotConnected is returned by send methods while the transport is down.
// Callers treat it as a soft failure; the next reconnect resumes the session.
var ErrNotConnected = errors.New("channel: not connected")

// State is the channel lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event types dispatched to handlers. The wire-level names (session_id,
// new_session, reconnected, output, server_sessions, sessions_destroyed) are
// the backend contract; the rest are synthetic lifecycle events.
const (
	EventConnect           = "connect"
	EventDisconnect        = "disconnect"
	EventConnectError      = "connect_error"
	EventReconnectFailed   = "reconnect_failed"
	EventSessionID         = "session_id"
	EventNewSession        = "new_session"
	EventReconnected       = "reconnected"
	EventOutput            = "output"
	EventServerSessions    = "server_sessions"
	EventSessionsDestroyed = "sessions_destroyed"
)

// ServerSession describes one live backend session.
type ServerSession struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Event is delivered to registered handlers.
type Event struct {
	Type      string
	SessionID string
	Data      []byte // decoded output bytes, or the replay buffer for reconnected
	Sessions  []ServerSession
	Reason    string // disconnect/connect-error detail
}

// Handler receives channel events. Handlers run on the channel's read
// goroutine; output events for one session are therefore delivered in
// transport order.
type Handler func(Event)

// Config configures a channel.
type Config struct {
	// URL is the websocket endpoint.
	URL string

	// SessionID is the known backend session to resume, or empty to
	// request a fresh one.
	SessionID string

	// Rows/Cols is the geometry declared in the attach handshake.
	Rows, Cols int

	// HeartbeatInterval between pings (default 60s).
	HeartbeatInterval time.Duration

	// StaleAfter is the pong-staleness threshold that triggers a liveness
	// warning. Observability only; the reconnect loop is trusted to
	// recover actual failures. Default 180s.
	StaleAfter time.Duration

	// BackoffMin/BackoffMax bound the reconnect delay (defaults 500ms/10s).
	BackoffMin time.Duration
	BackoffMax time.Duration

	// MaxAttempts caps consecutive failed dials. Zero means unlimited,
	// which is the deliberate default: a session's scrollback is worth
	// reconnecting indefinitely.
	MaxAttempts int

	// Dialer overrides the websocket dialer (tests).
	Dialer *websocket.Dialer
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 180 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// wireMessage is the JSON envelope exchanged with the backend.
type wireMessage struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Data       string          `json:"data,omitempty"`   // base64 raw bytes
	Buffer     string          `json:"buffer,omitempty"` // base64 replay backlog
	Rows       int             `json:"rows,omitempty"`
	Cols       int             `json:"cols,omitempty"`
	SessionIDs []string        `json:"session_ids,omitempty"`
	Sessions   []ServerSession `json:"sessions,omitempty"`
}

type handlerEntry struct {
	fn   Handler
	once bool
}

// Channel is one session's duplex transport.
type Channel struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	handlers  map[string][]*handlerEntry
	sessionID string
	state     State
	rows      int
	cols      int
	lastPong  time.Time

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial creates a channel and starts its connection loop. The returned channel
// is in StateConnecting; register handlers immediately after Dial to observe
// the first connect.
func Dial(cfg Config) *Channel {
	cfg.withDefaults()
	c := &Channel{
		cfg:       cfg,
		handlers:  make(map[string][]*handlerEntry),
		sessionID: cfg.SessionID,
		state:     StateConnecting,
		rows:      cfg.Rows,
		cols:      cfg.Cols,
		closed:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// On registers a handler for an event type.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], &handlerEntry{fn: h})
}

// Once registers a handler removed after its first invocation.
func (c *Channel) Once(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], &handlerEntry{fn: h, once: true})
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	entries := c.handlers[ev.Type]
	var fns []Handler
	kept := entries[:0]
	for _, e := range entries {
		fns = append(fns, e.fn)
		if !e.once {
			kept = append(kept, e)
		}
	}
	c.handlers[ev.Type] = kept
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// State returns the lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the transport is currently up.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// SessionID returns the backend session id, or empty if not yet announced.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close performs a clean client-initiated disconnect. No reconnection is
// attempted and no disconnect notice is emitted.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		}
	})
	c.wg.Wait()
	return nil
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Channel) run() {
	defer c.wg.Done()

	attempt := 0
	for {
		if c.isClosed() {
			return
		}

		conn, _, err := c.cfg.Dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			if c.isClosed() {
				return
			}
			attempt++
			c.dispatch(Event{Type: EventConnectError, Reason: err.Error()})
			if c.cfg.MaxAttempts > 0 && attempt >= c.cfg.MaxAttempts {
				c.setState(StateFailed)
				c.dispatch(Event{Type: EventReconnectFailed, Reason: err.Error()})
				return
			}
			delay := Backoff(attempt, c.cfg.BackoffMin, c.cfg.BackoffMax)
			select {
			case <-time.After(delay):
			case <-c.closed:
				return
			}
			continue
		}
		attempt = 0

		c.mu.Lock()
		// Close may have won the race while the dial was in flight; the
		// fresh socket must not come up or Close would block on it.
		if c.state == StateClosed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.state = StateConnected
		c.lastPong = time.Now()
		c.mu.Unlock()

		conn.SetPongHandler(func(string) error {
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
			return nil
		})

		// Attach handshake: pair this socket with the known backend
		// session (or request a fresh one) and declare geometry.
		if err := c.sendAttach(); err != nil {
			log.Warn("attach_failed", slog.String("error", err.Error()))
		}

		c.dispatch(Event{Type: EventConnect, SessionID: c.SessionID()})

		hbStop := make(chan struct{})
		c.wg.Add(1)
		go c.heartbeat(conn, hbStop)

		readErr := c.readPump(conn)
		close(hbStop)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		if c.isClosed() {
			return
		}

		c.setState(StateReconnecting)
		reason := ""
		if readErr != nil {
			reason = readErr.Error()
		}
		c.dispatch(Event{Type: EventDisconnect, SessionID: c.SessionID(), Reason: reason})
	}
}

func (c *Channel) readPump(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("bad_message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "session_id":
			c.mu.Lock()
			c.sessionID = msg.SessionID
			c.mu.Unlock()
			c.dispatch(Event{Type: EventSessionID, SessionID: msg.SessionID})

		case "new_session":
			c.mu.Lock()
			c.sessionID = msg.SessionID
			c.mu.Unlock()
			c.dispatch(Event{Type: EventNewSession, SessionID: msg.SessionID})

		case "reconnected":
			buf, err := base64.StdEncoding.DecodeString(msg.Buffer)
			if err != nil {
				log.Warn("bad_replay_buffer", slog.String("error", err.Error()))
				buf = nil
			}
			c.dispatch(Event{Type: EventReconnected, SessionID: c.SessionID(), Data: buf})

		case "output":
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				log.Warn("bad_output", slog.String("error", err.Error()))
				continue
			}
			logging.Aggregate(logging.CompChannel, "output", len(data))
			c.dispatch(Event{Type: EventOutput, SessionID: c.SessionID(), Data: data})

		case "server_sessions":
			c.dispatch(Event{Type: EventServerSessions, Sessions: msg.Sessions})

		case "sessions_destroyed":
			c.dispatch(Event{Type: EventSessionsDestroyed})

		default:
			log.Debug("unknown_message_type", slog.String("type", msg.Type))
		}
	}
}

func (c *Channel) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))

			c.mu.Lock()
			stale := time.Since(c.lastPong)
			sid := c.sessionID
			c.mu.Unlock()

			// Liveness observability only: the transport's reconnect
			// loop is responsible for actual recovery.
			if stale > c.cfg.StaleAfter {
				log.Warn("heartbeat_stale",
					slog.String("session_id", sid),
					slog.Duration("since_last_pong", stale))
			}
		case <-stop:
			return
		case <-c.closed:
			return
		}
	}
}

// sendAttach issues the attach handshake on the current socket.
func (c *Channel) sendAttach() error {
	c.mu.Lock()
	msg := wireMessage{
		Type:      "attach",
		SessionID: c.sessionID,
		Rows:      c.rows,
		Cols:      c.cols,
	}
	c.mu.Unlock()
	return c.writeJSON(msg)
}

// writeJSON serializes writes on the shared socket; gorilla connections allow
// one concurrent writer.
func (c *Channel) writeJSON(msg wireMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// SendInput forwards raw input bytes to the backend pty.
func (c *Channel) SendInput(data []byte) error {
	return c.writeJSON(wireMessage{
		Type: "input",
		Data: base64.StdEncoding.EncodeToString(data),
	})
}

// SendResize informs the backend of new geometry and records it for the next
// attach handshake.
func (c *Channel) SendResize(rows, cols int) error {
	c.mu.Lock()
	c.rows = rows
	c.cols = cols
	c.mu.Unlock()
	return c.writeJSON(wireMessage{Type: "resize", Rows: rows, Cols: cols})
}

// DestroySessions asks the backend to kill the given sessions.
func (c *Channel) DestroySessions(ids []string) error {
	return c.writeJSON(wireMessage{Type: "destroy_sessions", SessionIDs: ids})
}

// RequestServerSessions asks for the authoritative live session list; the
// answer arrives as a server_sessions event.
func (c *Channel) RequestServerSessions() error {
	return c.writeJSON(wireMessage{Type: "list_server_sessions"})
}

// Backoff returns the delay before reconnect attempt n (1-based):
// exponential growth from min capped at max, with ±50% jitter so many
// simultaneously-disconnected sessions do not reconnect in lockstep.
func Backoff(attempt int, min, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := min << uint(attempt-1)
	if d <= 0 || d > max {
		d = max
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
