package explorer

import (
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termweave/termweave/internal/channel"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/registry"
	"github.com/termweave/termweave/internal/terminal"
)

// stubTransport satisfies terminal.Transport without a backend.
type stubTransport struct {
	mu         sync.Mutex
	handlers   map[string][]channel.Handler
	onces      map[string][]channel.Handler
	destroyErr error
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		handlers: make(map[string][]channel.Handler),
		onces:    make(map[string][]channel.Handler),
	}
}

func (s *stubTransport) On(event string, h channel.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

func (s *stubTransport) Once(event string, h channel.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onces[event] = append(s.onces[event], h)
}

func (s *stubTransport) emit(ev channel.Event) {
	s.mu.Lock()
	hs := append([]channel.Handler(nil), s.handlers[ev.Type]...)
	hs = append(hs, s.onces[ev.Type]...)
	delete(s.onces, ev.Type)
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (s *stubTransport) SendInput([]byte) error    { return nil }
func (s *stubTransport) SendResize(int, int) error { return nil }

func (s *stubTransport) DestroySessions([]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyErr
}
func (s *stubTransport) RequestServerSessions() error  { return nil }
func (s *stubTransport) Connected() bool               { return true }
func (s *stubTransport) SessionID() string             { return "" }
func (s *stubTransport) Close() error                  { return nil }

// stubDialer hands out stub transports in dial order.
type stubDialer struct {
	mu         sync.Mutex
	transports []*stubTransport
}

func (d *stubDialer) dial(channel.Config) terminal.Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := newStubTransport()
	d.transports = append(d.transports, st)
	return st
}

func (d *stubDialer) transport(i int) *stubTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func newTestExplorer(t *testing.T) (*Explorer, *terminal.Manager, *stubDialer) {
	t.Helper()
	dialer := &stubDialer{}

	reg := registry.Open(t.TempDir())
	t.Cleanup(reg.Close)
	mgr := terminal.NewManager(terminal.Options{
		BackendURL: "ws://test.invalid/ws",
		Registry:   reg,
		Dial:       dialer.dial,
		Rows:       8,
		Cols:       60,
	})
	t.Cleanup(mgr.Close)

	ex := New(mgr, config.Default().Preview)
	ex.SetSize(30, 20)
	t.Cleanup(ex.Close)
	return ex, mgr, dialer
}

func keyMsg(s string) tea.KeyMsg {
	if len(s) == 1 {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	panic("unknown key " + s)
}

func TestPreviewSwitchLeavesNoSubscriptions(t *testing.T) {
	ex, mgr, _ := newTestExplorer(t)

	keyA, err := mgr.AddSession("", "")
	require.NoError(t, err)
	keyB, err := mgr.AddSession("", "")
	require.NoError(t, err)

	ex.openPreview(keyA)
	assert.Equal(t, keyA, ex.PreviewKey())
	assert.Equal(t, 1, mgr.SubscriberCount(keyA))

	// Moving the preview must release the old subscription, or A keeps
	// streaming into a surface nobody renders.
	ex.openPreview(keyB)
	assert.Equal(t, keyB, ex.PreviewKey())
	assert.Zero(t, mgr.SubscriberCount(keyA))
	assert.Equal(t, 1, mgr.SubscriberCount(keyB))

	ex.ClearHover()
	assert.Zero(t, mgr.SubscriberCount(keyB))
	assert.Zero(t, ex.PreviewKey())
}

func TestPreviewSeededWithScrollback(t *testing.T) {
	ex, mgr, dialer := newTestExplorer(t)

	key, err := mgr.AddSession("", "")
	require.NoError(t, err)
	dialer.transport(0).emit(channel.Event{Type: channel.EventOutput, Data: []byte("history line\r\n")})

	ex.openPreview(key)
	joined := ""
	for _, line := range ex.preview.surf.Viewport() {
		joined += line + "\n"
	}
	assert.Contains(t, joined, "history line")

	// Live output streams into the open preview.
	dialer.transport(0).emit(channel.Event{Type: channel.EventOutput, Data: []byte("fresh line\r\n")})
	joined = ""
	for _, line := range ex.preview.surf.Viewport() {
		joined += line + "\n"
	}
	assert.Contains(t, joined, "fresh line")
}

func TestHoverDelayIgnoresStaleTimer(t *testing.T) {
	ex, mgr, _ := newTestExplorer(t)

	keyA, _ := mgr.AddSession("", "")
	keyB, _ := mgr.AddSession("", "")

	cmdA := ex.SetHover(keyA)
	require.NotNil(t, cmdA)
	staleSeq := ex.hoverSeq

	// Hover moves before A's timer fires: A's delivery is stale.
	cmdB := ex.SetHover(keyB)
	require.NotNil(t, cmdB)

	ex.Update(hoverFiredMsg{key: keyA, seq: staleSeq})
	assert.Zero(t, ex.PreviewKey(), "stale hover opened a preview")

	ex.Update(hoverFiredMsg{key: keyB, seq: ex.hoverSeq})
	assert.Equal(t, keyB, ex.PreviewKey())
}

func TestOrphanDiff(t *testing.T) {
	server := []channel.ServerSession{
		{SessionID: "x"}, {SessionID: "y"}, {SessionID: "z"},
	}
	owned := map[string]bool{"x": true, "z": true}

	assert.Equal(t, []string{"y"}, diffOrphans(server, owned))
	assert.Empty(t, diffOrphans(nil, owned))
	assert.Equal(t, []string{"x", "y", "z"}, diffOrphans(server, nil))
}

func TestOrphanScanAndDestroy(t *testing.T) {
	ex, mgr, dialer := newTestExplorer(t)

	mgr.AddSession("", "")
	dialer.transport(0).emit(channel.Event{Type: channel.EventNewSession, SessionID: "mine"})

	// Answer the list request as soon as it arrives.
	go func() {
		time.Sleep(20 * time.Millisecond)
		dialer.transport(0).emit(channel.Event{Type: channel.EventServerSessions, Sessions: []channel.ServerSession{
			{SessionID: "mine"}, {SessionID: "stray-1"}, {SessionID: "stray-2"},
		}})
	}()

	msg := ex.ScanOrphans()()
	ex.Update(msg)
	assert.Equal(t, []string{"stray-1", "stray-2"}, ex.Orphans())

	// Cleanup clears the list once the backend acknowledges.
	go func() {
		time.Sleep(20 * time.Millisecond)
		dialer.transport(0).emit(channel.Event{Type: channel.EventSessionsDestroyed})
	}()
	cmd := ex.destroyOrphansCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"stray-1", "stray-2"}, ex.Orphans(), "cache survives until the ack")
	msg = cmd()
	ex.Update(msg)
	assert.Empty(t, ex.Orphans())

	assert.Nil(t, ex.destroyOrphansCmd(), "nothing left to destroy")
}

func TestFailedDestroyKeepsOrphanCache(t *testing.T) {
	ex, mgr, dialer := newTestExplorer(t)

	mgr.AddSession("", "")
	st := dialer.transport(0)
	st.mu.Lock()
	st.destroyErr = errors.New("transport down")
	st.mu.Unlock()

	ex.orphans = []string{"stray-1", "stray-2"}
	cmd := ex.destroyOrphansCmd()
	require.NotNil(t, cmd)
	ex.Update(cmd())

	// A failed destroy must not lose track of the orphans.
	assert.Equal(t, []string{"stray-1", "stray-2"}, ex.Orphans())
}

func TestFuzzyFilter(t *testing.T) {
	ex, mgr, _ := newTestExplorer(t)

	k1, _ := mgr.AddSession("", "")
	k2, _ := mgr.AddSession("", "")
	mgr.AddSession("", "")
	mgr.RenameSession(k1, "build server")
	mgr.RenameSession(k2, "database shell")

	ex.Update(keyMsg("/"))
	for _, r := range "dbs" {
		ex.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}

	rows := ex.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "database shell", rows[0].Name)

	// Escape clears the filter entirely.
	ex.Update(keyMsg("esc"))
	assert.Len(t, ex.Rows(), 3)
}

func TestRenameCommitAndRevert(t *testing.T) {
	ex, mgr, _ := newTestExplorer(t)

	mgr.AddSession("", "")
	info, ok := ex.Selected()
	require.True(t, ok)
	require.Equal(t, "Session 1", info.Name)

	ex.Update(keyMsg("r"))
	for _, r := range "deploy" {
		ex.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	ex.Update(keyMsg("enter"))

	info, _ = ex.Selected()
	assert.Equal(t, "Session 1deploy", info.Name)

	// Escape abandons the edit.
	ex.Update(keyMsg("r"))
	ex.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	ex.Update(keyMsg("esc"))
	info, _ = ex.Selected()
	assert.Equal(t, "Session 1deploy", info.Name)
}

func TestEnterActivatesSelection(t *testing.T) {
	ex, mgr, _ := newTestExplorer(t)

	k1, _ := mgr.AddSession("", "")
	mgr.AddSession("", "")

	ex.Update(keyMsg("up")) // cursor to first row
	ex.Update(keyMsg("enter"))
	assert.Equal(t, k1, mgr.ActiveKey())
}

func TestRemoveKeepsCursorInRange(t *testing.T) {
	ex, mgr, _ := newTestExplorer(t)

	mgr.AddSession("", "")
	mgr.AddSession("", "")

	ex.Update(keyMsg("down"))
	ex.Update(keyMsg("x"))

	require.Len(t, mgr.Sessions(), 1)
	_, ok := ex.Selected()
	assert.True(t, ok)
}
