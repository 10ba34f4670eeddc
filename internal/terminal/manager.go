// Package terminal owns the session collection: lifecycle, activation,
// resize propagation, input forwarding, typed-command injection, and the
// auto-scroll-pause policy. It is the composition point between surfaces,
// channels, and the persistent session registry.
package terminal

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/termweave/termweave/internal/channel"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/logging"
	"github.com/termweave/termweave/internal/registry"
	"github.com/termweave/termweave/internal/surface"
)

var log = logging.ForComponent(logging.CompTerminal)

// MaxSessions caps concurrent sessions. The 11th add is rejected with a
// user-visible notice and no state change.
const MaxSessions = 10

// ErrSessionLimit is returned when the session cap is reached.
var ErrSessionLimit = errors.New("terminal: session limit reached")

// ErrNoSession is returned for operations that need at least one session.
var ErrNoSession = errors.New("terminal: no session")

// Status is the aggregate connection state across all sessions.
type Status struct {
	Connected int
	Total     int
}

// String renders the status line shown in the panel chrome.
func (s Status) String() string {
	switch {
	case s.Total == 0 || s.Connected == 0:
		return "disconnected"
	case s.Connected == s.Total:
		return "connected"
	default:
		return fmt.Sprintf("%d of %d connected", s.Connected, s.Total)
	}
}

// Options configures a Manager.
type Options struct {
	// BackendURL is the websocket endpoint passed to each session channel.
	BackendURL string

	// Registry persists the session list. Required.
	Registry *registry.Registry

	// Dial constructs transports; defaults to channel.Dial.
	Dial Dialer

	// NewSurface constructs surfaces; defaults to surface.NewScreen.
	NewSurface func(rows, cols int) surface.Surface

	// Rows/Cols is the initial terminal geometry.
	Rows, Cols int

	// ResumeDelay before a scrolled-up terminal snaps back (default 5s).
	ResumeDelay time.Duration

	// Typing is the keystroke pacing for command injection.
	Typing config.TypingSettings

	// AutoExecutePrompt appends a carriage return after injected prompts.
	AutoExecutePrompt bool

	// Notify shows a transient user-visible notice (toast).
	Notify func(text string)

	// OnStatusChange fires when the aggregate connection status changes.
	OnStatusChange func(Status)

	// OnSessionsChanged fires after any structural change to the
	// collection (add/remove/switch/rename/identity).
	OnSessionsChanged func()
}

// outputSub is a hover-preview (or similar) observer of a foreign session's
// output stream. Subscriptions must be cancelled on teardown or the callback
// keeps retaining whatever it closes over.
type outputSub struct {
	fn func([]byte)
}

// Manager owns the collection of sessions. All exported methods are safe for
// concurrent use; channel callbacks arriving for an already-removed session
// are guarded no-ops, since transport timing can legitimately outlive a
// removal.
type Manager struct {
	opts Options

	mu           sync.Mutex
	sessions     map[Key]*Session
	order        []Key
	nextKey      Key
	activeKey    Key
	rows, cols   int
	resumeTimers map[Key]*time.Timer
	resizeTimer  *time.Timer
	subs         map[Key][]*outputSub
	lastStatus   Status
	closed       bool

	// scrollSeq counts scroll gestures; the write-defense timer bails
	// out when a gesture landed after the write it defends.
	scrollSeq atomic.Uint64

	typing        *typist
	resizeLimiter *rate.Limiter
}

// NewManager creates a manager. Call Initialize to recreate persisted
// sessions (or a fresh one) before use.
func NewManager(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = func(cfg channel.Config) Transport { return channel.Dial(cfg) }
	}
	if opts.NewSurface == nil {
		opts.NewSurface = func(rows, cols int) surface.Surface { return surface.NewScreen(rows, cols) }
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.ResumeDelay <= 0 {
		opts.ResumeDelay = 5 * time.Second
	}
	if opts.Typing.BaseDelayMs <= 0 {
		opts.Typing = config.Default().Typing
	}

	return &Manager{
		opts:         opts,
		sessions:     make(map[Key]*Session),
		nextKey:      1,
		rows:         opts.Rows,
		cols:         opts.Cols,
		resumeTimers: make(map[Key]*time.Timer),
		subs:         make(map[Key][]*outputSub),
		// Geometry updates reflect the latest size at emission time;
		// the limiter keeps rapid drags from flooding the backend.
		resizeLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 2),
	}
}

// Initialize recreates sessions persisted by a prior run, preserving their
// order, or creates a single fresh session when the registry is empty.
func (m *Manager) Initialize() {
	entries := m.opts.Registry.Entries()
	for _, e := range entries {
		if _, err := m.AddSession(e.SessionID, e.Name); err != nil {
			log.Warn("restore_failed",
				slog.String("session_id", e.SessionID),
				slog.String("error", err.Error()))
		}
	}
	if len(entries) == 0 {
		if _, err := m.AddSession("", ""); err != nil {
			log.Warn("initial_session_failed", slog.String("error", err.Error()))
		}
	}
}

// AddSession creates a session, optionally resuming a known backend session
// id. The new session becomes active unconditionally: the session you just
// opened is the one you are looking at.
func (m *Manager) AddSession(existingID, name string) (Key, error) {
	m.mu.Lock()
	if len(m.sessions) >= MaxSessions {
		m.mu.Unlock()
		if m.opts.Notify != nil {
			m.opts.Notify(fmt.Sprintf("Maximum of %d sessions reached", MaxSessions))
		}
		return 0, ErrSessionLimit
	}

	key := m.nextKey
	m.nextKey++

	if name == "" {
		name = m.defaultNameLocked()
	}

	sess := &Session{
		Key:       key,
		SessionID: existingID,
		Name:      name,
		Surface:   m.opts.NewSurface(m.rows, m.cols),
	}

	for _, other := range m.sessions {
		other.Active = false
	}
	sess.Active = true
	m.activeKey = key
	m.sessions[key] = sess
	m.order = append(m.order, key)
	rows, cols := m.rows, m.cols
	m.mu.Unlock()

	ch := m.opts.Dial(channel.Config{
		URL:       m.opts.BackendURL,
		SessionID: existingID,
		Rows:      rows,
		Cols:      cols,
	})

	m.mu.Lock()
	sess.Channel = ch
	m.mu.Unlock()

	// The channel learns the session by key, not by pointer: a removed
	// session's late events cannot resurrect its state.
	ch.On(channel.EventConnect, func(channel.Event) { m.statusChanged() })
	ch.On(channel.EventConnectError, func(channel.Event) { m.statusChanged() })
	ch.On(channel.EventSessionID, func(ev channel.Event) { m.sessionIdentified(key, ev.SessionID) })
	ch.On(channel.EventNewSession, func(ev channel.Event) { m.sessionIdentified(key, ev.SessionID) })
	ch.On(channel.EventOutput, func(ev channel.Event) { m.handleOutput(key, ev.Data) })
	ch.On(channel.EventReconnected, func(ev channel.Event) { m.handleResync(key, ev.Data) })
	ch.On(channel.EventDisconnect, func(ev channel.Event) { m.handleDisconnect(key, ev.Reason) })
	ch.On(channel.EventReconnectFailed, func(ev channel.Event) { m.handleReconnectFailed(key) })

	if existingID != "" {
		m.opts.Registry.Put(existingID, name)
	}

	log.Info("session_added",
		slog.Int("key", int(key)),
		slog.String("session_id", existingID),
		slog.String("name", name))

	m.sessionsChanged()
	m.statusChanged()
	return key, nil
}

// defaultNameLocked returns "Session N" for the smallest positive N not used
// by any live session. Caller holds m.mu.
func (m *Manager) defaultNameLocked() string {
	used := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		used[s.Name] = true
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("Session %d", n)
		if !used[candidate] {
			return candidate
		}
	}
}

// RemoveSession destroys a session. The backend process is destroyed before
// the channel disconnects, so a reachable tab never orphans its process. If
// the last session is removed, a fresh replacement is created immediately:
// the collection never settles at zero.
func (m *Manager) RemoveSession(key Key) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}

	delete(m.sessions, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if t, ok := m.resumeTimers[key]; ok {
		t.Stop()
		delete(m.resumeTimers, key)
	}
	delete(m.subs, key)

	wasActive := m.activeKey == key
	var nextActive Key
	if wasActive && len(m.order) > 0 {
		nextActive = m.order[0]
	}
	empty := len(m.sessions) == 0
	m.mu.Unlock()

	// Destroy-then-disconnect ordering.
	if sess.Channel != nil {
		if sess.SessionID != "" && sess.Channel.Connected() {
			if err := sess.Channel.DestroySessions([]string{sess.SessionID}); err != nil {
				log.Warn("destroy_request_failed",
					slog.String("session_id", sess.SessionID),
					slog.String("error", err.Error()))
			}
		}
		_ = sess.Channel.Close()
	}
	sess.Surface.Dispose()

	if sess.SessionID != "" {
		m.opts.Registry.Remove(sess.SessionID)
	}

	log.Info("session_removed", slog.Int("key", int(key)), slog.String("session_id", sess.SessionID))

	switch {
	case empty:
		if _, err := m.AddSession("", ""); err != nil {
			log.Warn("replacement_session_failed", slog.String("error", err.Error()))
		}
	case wasActive:
		m.SwitchSession(nextActive)
	default:
		m.sessionsChanged()
	}
	m.statusChanged()
}

// SwitchSession activates the target session. By the time this returns,
// exactly one session is active; the visual re-fit completes asynchronously.
// The viewport of the newly focused surface is preserved: activation must
// not move the user's reading position.
func (m *Manager) SwitchSession(key Key) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	for _, other := range m.sessions {
		other.Active = false
	}
	sess.Active = true
	m.activeKey = key
	surf := sess.Surface
	m.mu.Unlock()

	WithScrollLock(surf, func() {})
	m.Refit()
	m.sessionsChanged()
}

// RenameSession updates the display name and re-persists. Identity and
// activation are untouched.
func (m *Manager) RenameSession(key Key, newName string) {
	if newName == "" {
		return
	}
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.Name = newName
	sessionID := sess.SessionID
	m.mu.Unlock()

	if sessionID != "" {
		m.opts.Registry.Rename(sessionID, newName)
	}
	m.sessionsChanged()
}

// sessionIdentified records a backend-announced id and persists the entry.
// Persistence happens only once the id is known.
func (m *Manager) sessionIdentified(key Key, sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.SessionID = sessionID
	name := sess.Name
	m.mu.Unlock()

	m.opts.Registry.Put(sessionID, name)
	m.sessionsChanged()
}

// handleResync replays the server-provided backlog after a resume. A full
// reset-and-replay, not a splice: output buffered during the gap has no
// ordering guarantee otherwise.
func (m *Manager) handleResync(key Key, backlog []byte) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.Surface.Reset()
	if len(backlog) > 0 {
		_, _ = sess.Surface.Write(backlog)
	}
	sess.Surface.ScrollToBottom()
	m.Refit()
	m.statusChanged()
}

func (m *Manager) handleDisconnect(key Key, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if ok && reason != "" {
		// Recoverable transport drop: inline advisory, reconnection is
		// automatic.
		notice := "\r\n\x1b[33m[termweave] connection lost, reconnecting...\x1b[0m\r\n"
		_, _ = sess.Surface.Write([]byte(notice))
	}
	m.statusChanged()
}

func (m *Manager) handleReconnectFailed(key Key) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		notice := "\r\n\x1b[31m[termweave] connection could not be restored; please reload the workspace\x1b[0m\r\n"
		_, _ = sess.Surface.Write([]byte(notice))
	}
	m.statusChanged()
}

// HandleInput forwards terminal input to the session's channel. A cancel
// signal (Ctrl-C) while a typed-command simulation is running cancels the
// simulation instead of reaching the backend as literal input.
func (m *Manager) HandleInput(key Key, data []byte) {
	if bytes.ContainsRune(data, 0x03) && m.CancelTyping() {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok || sess.Channel == nil {
		return
	}
	if err := sess.Channel.SendInput(data); err != nil {
		log.Debug("input_dropped", slog.Int("key", int(key)), slog.String("error", err.Error()))
	}
}

// SetSize records new container geometry and schedules a debounced re-fit of
// the active session.
func (m *Manager) SetSize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	m.mu.Lock()
	m.rows = rows
	m.cols = cols
	if m.resizeTimer != nil {
		m.resizeTimer.Stop()
	}
	m.resizeTimer = time.AfterFunc(100*time.Millisecond, m.Refit)
	m.mu.Unlock()
}

// Refit re-fits the active session's surface and informs the backend of the
// geometry. Fitting is attempted now and again after a settle delay; a single
// immediate fit is unreliable while layout is still changing.
func (m *Manager) Refit() {
	m.refitOnce()
	time.AfterFunc(250*time.Millisecond, m.refitOnce)
}

func (m *Manager) refitOnce() {
	m.mu.Lock()
	sess, ok := m.sessions[m.activeKey]
	rows, cols := m.rows, m.cols
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.Surface.Resize(rows, cols)
	if sess.Channel != nil && sess.Channel.Connected() && m.resizeLimiter.Allow() {
		if err := sess.Channel.SendResize(rows, cols); err != nil {
			log.Debug("resize_dropped", slog.String("error", err.Error()))
		}
	}
}

// handleOutput writes a session's output under the scroll policy and fans it
// out to preview subscribers.
func (m *Manager) handleOutput(key Key, data []byte) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	var fns []func([]byte)
	for _, sub := range m.subs[key] {
		fns = append(fns, sub.fn)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.writeWithScrollPolicy(sess.Surface, data)

	for _, fn := range fns {
		fn(data)
	}
}

// SubscribeOutput registers an observer of a session's output stream (hover
// previews). The returned cancel function must be called on teardown; a
// leaked subscription keeps duplicating output into a stale observer.
func (m *Manager) SubscribeOutput(key Key, fn func([]byte)) (cancel func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[key]; !exists {
		return nil, false
	}
	sub := &outputSub{fn: fn}
	m.subs[key] = append(m.subs[key], sub)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[key]
		for i, s := range list {
			if s == sub {
				m.subs[key] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}, true
}

// SubscriberCount reports live output subscriptions for a session.
func (m *Manager) SubscriberCount(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[key])
}

// ScrollbackText returns the full scrollback of a session as lines, used to
// seed hover previews.
func (m *Manager) ScrollbackText(key Key) []string {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	n := sess.Surface.RowCount()
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, sess.Surface.RowText(i))
	}
	return lines
}

// Sessions returns an ordered snapshot of the collection.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.order))
	for _, key := range m.order {
		sess := m.sessions[key]
		connected := sess.Channel != nil && sess.Channel.Connected()
		out = append(out, Info{
			Key:       sess.Key,
			SessionID: sess.SessionID,
			Name:      sess.Name,
			Active:    sess.Active,
			Connected: connected,
		})
	}
	return out
}

// ActiveKey returns the active session's key (zero when empty).
func (m *Manager) ActiveKey() Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeKey
}

// ActiveSurface returns the active session's surface for rendering, or nil.
func (m *Manager) ActiveSurface() surface.Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[m.activeKey]; ok {
		return sess.Surface
	}
	return nil
}

// OwnedSessionIDs returns the set of backend ids owned by local sessions.
func (m *Manager) OwnedSessionIDs() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned := make(map[string]bool, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.SessionID != "" {
			owned[sess.SessionID] = true
		}
	}
	return owned
}

// Status derives the aggregate connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	st := Status{Total: len(m.sessions)}
	for _, sess := range m.sessions {
		if sess.Channel != nil && sess.Channel.Connected() {
			st.Connected++
		}
	}
	return st
}

func (m *Manager) statusChanged() {
	m.mu.Lock()
	st := m.statusLocked()
	changed := st != m.lastStatus
	m.lastStatus = st
	cb := m.opts.OnStatusChange
	m.mu.Unlock()
	if changed && cb != nil {
		cb(st)
	}
}

func (m *Manager) sessionsChanged() {
	if m.opts.OnSessionsChanged != nil {
		m.opts.OnSessionsChanged()
	}
}

// FetchServerSessions asks the backend (via the active session's channel) for
// the authoritative live session list. The callback receives nil and an error
// on timeout or when no channel is usable.
func (m *Manager) FetchServerSessions(timeout time.Duration, cb func([]channel.ServerSession, error)) {
	ch := m.activeChannel()
	if ch == nil {
		cb(nil, ErrNoSession)
		return
	}

	var once sync.Once
	timer := time.AfterFunc(timeout, func() {
		once.Do(func() { cb(nil, fmt.Errorf("terminal: server session list timed out")) })
	})
	ch.Once(channel.EventServerSessions, func(ev channel.Event) {
		timer.Stop()
		once.Do(func() { cb(ev.Sessions, nil) })
	})
	if err := ch.RequestServerSessions(); err != nil {
		timer.Stop()
		once.Do(func() { cb(nil, err) })
	}
}

// DestroyServerSessions asks the backend to kill the given sessions
// (orphan cleanup). The callback fires on acknowledgment or failure.
func (m *Manager) DestroyServerSessions(ids []string, cb func(error)) {
	ch := m.activeChannel()
	if ch == nil {
		cb(ErrNoSession)
		return
	}
	ch.Once(channel.EventSessionsDestroyed, func(channel.Event) { cb(nil) })
	if err := ch.DestroySessions(ids); err != nil {
		cb(err)
	}
}

func (m *Manager) activeChannel() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[m.activeKey]; ok {
		return sess.Channel
	}
	return nil
}

// Close shuts down every session without destroying backend processes, so a
// later run can resume them from the registry.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[Key]*Session)
	m.order = nil
	for key, t := range m.resumeTimers {
		t.Stop()
		delete(m.resumeTimers, key)
	}
	if m.resizeTimer != nil {
		m.resizeTimer.Stop()
	}
	m.mu.Unlock()

	m.CancelTyping()
	for _, sess := range sessions {
		if sess.Channel != nil {
			_ = sess.Channel.Close()
		}
		sess.Surface.Dispose()
	}
}
