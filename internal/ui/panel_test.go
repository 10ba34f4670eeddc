package ui

import (
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termweave/termweave/internal/channel"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/explorer"
	"github.com/termweave/termweave/internal/registry"
	"github.com/termweave/termweave/internal/terminal"
)

type noopTransport struct {
	mu     sync.Mutex
	inputs [][]byte
}

func (n *noopTransport) On(string, channel.Handler)       {}
func (n *noopTransport) Once(string, channel.Handler)     {}
func (n *noopTransport) SendResize(int, int) error        { return nil }
func (n *noopTransport) DestroySessions([]string) error   { return nil }
func (n *noopTransport) RequestServerSessions() error     { return nil }
func (n *noopTransport) Connected() bool                  { return true }
func (n *noopTransport) SessionID() string                { return "" }
func (n *noopTransport) Close() error                     { return nil }

func (n *noopTransport) SendInput(data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs = append(n.inputs, append([]byte(nil), data...))
	return nil
}

func newTestPanel(t *testing.T) (*Panel, *terminal.Manager, *noopTransport) {
	t.Helper()
	nt := &noopTransport{}
	reg := registry.Open(t.TempDir())
	t.Cleanup(reg.Close)

	mgr := terminal.NewManager(terminal.Options{
		BackendURL: "ws://test.invalid/ws",
		Registry:   reg,
		Dial:       func(channel.Config) terminal.Transport { return nt },
		Rows:       10,
		Cols:       80,
	})
	t.Cleanup(mgr.Close)
	_, err := mgr.AddSession("", "")
	require.NoError(t, err)

	ex := explorer.New(mgr, config.Default().Preview)
	t.Cleanup(ex.Close)

	p := NewPanel(mgr, ex, reg, config.Default().Panel)
	p.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return p, mgr, nt
}

func TestZenRestoresPreZenHeight(t *testing.T) {
	p, _, _ := newTestPanel(t)

	p.panelHeight = 20
	p.Update(tea.KeyMsg{Type: tea.KeyCtrlF})
	assert.True(t, p.zen)
	assert.Equal(t, 40, p.visibleHeight(), "zen takes the full window")

	// Escape leaves zen and the panel returns to its previous height.
	p.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, p.zen)
	assert.Equal(t, 20, p.panelHeight)
}

func TestCollapseShowsOnlyStatusBar(t *testing.T) {
	p, _, _ := newTestPanel(t)

	p.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	assert.True(t, p.collapsed)
	assert.Equal(t, 1, p.visibleHeight())

	view := p.View()
	assert.NotContains(t, view, "termweave", "collapsed panel hides the title")

	// Keystrokes while collapsed must not reach the terminal.
	p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})

	p.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	assert.False(t, p.collapsed)
}

func TestDragHeightClampedAndPersisted(t *testing.T) {
	p, _, _ := newTestPanel(t)

	top := p.height - p.visibleHeight()
	p.Update(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft, Y: top})
	assert.Equal(t, dragHeight, p.dragging)

	// Drag far above the window top: clamp at the max height.
	p.Update(tea.MouseMsg{Action: tea.MouseActionMotion, Y: -100})
	assert.Equal(t, p.cfg.MaxHeight, p.panelHeight)

	// Drag to the bottom: clamp at the min height.
	p.Update(tea.MouseMsg{Action: tea.MouseActionMotion, Y: p.height})
	assert.Equal(t, p.cfg.MinHeight, p.panelHeight)

	p.Update(tea.MouseMsg{Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	assert.Equal(t, dragNone, p.dragging)

	var saved int
	require.True(t, p.reg.GetPref(prefPanelHeight, &saved))
	assert.Equal(t, p.cfg.MinHeight, saved)
}

func TestPersistedGeometryWinsOverDefaults(t *testing.T) {
	reg := registry.Open(t.TempDir())
	t.Cleanup(reg.Close)
	reg.SetPref(prefPanelHeight, 22)
	reg.SetPref(prefExplorerWidth, 35)

	mgr := terminal.NewManager(terminal.Options{
		BackendURL: "ws://test.invalid/ws",
		Registry:   reg,
		Dial:       func(channel.Config) terminal.Transport { return &noopTransport{} },
	})
	t.Cleanup(mgr.Close)
	ex := explorer.New(mgr, config.Default().Preview)

	p := NewPanel(mgr, ex, reg, config.Default().Panel)
	assert.Equal(t, 22, p.panelHeight)
	assert.Equal(t, 35, p.explorerWidth)
}

func TestTerminalInputForwarded(t *testing.T) {
	p, _, nt := newTestPanel(t)

	p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")})
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})

	nt.mu.Lock()
	defer nt.mu.Unlock()
	require.Len(t, nt.inputs, 2)
	assert.Equal(t, "ls", string(nt.inputs[0]))
	assert.Equal(t, "\r", string(nt.inputs[1]))
}

func TestExplorerFocusStealsKeys(t *testing.T) {
	p, mgr, nt := newTestPanel(t)
	mgr.AddSession("", "")

	p.Update(tea.KeyMsg{Type: tea.KeyCtrlE})
	assert.Equal(t, focusExplorer, p.focus)

	// "x" removes the selected session instead of typing into the shell.
	before := len(mgr.Sessions())
	p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Len(t, mgr.Sessions(), before-1)

	nt.mu.Lock()
	defer nt.mu.Unlock()
	assert.Empty(t, nt.inputs)
}

func TestPromptOverlayStagesCommand(t *testing.T) {
	p, _, nt := newTestPanel(t)

	p.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	assert.True(t, p.prompting)

	for _, r := range "fix the tests" {
		p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, p.prompting)

	want := `copilot -p "fix the tests"`
	deadline := func() bool {
		nt.mu.Lock()
		defer nt.mu.Unlock()
		var got string
		for _, in := range nt.inputs {
			got += string(in)
		}
		return got == want
	}
	waitUntil(t, deadline, "typed prompt command")
}

func TestCopilotShortcutStagesWithoutSubmitting(t *testing.T) {
	p, _, nt := newTestPanel(t)

	p.Update(tea.KeyMsg{Type: tea.KeyCtrlT})

	waitUntil(t, func() bool {
		nt.mu.Lock()
		defer nt.mu.Unlock()
		var got string
		for _, in := range nt.inputs {
			got += string(in)
		}
		return got == "copilot"
	}, "staged copilot command")

	// Give the typist time to (wrongly) submit; nothing may follow.
	time.Sleep(150 * time.Millisecond)
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for _, in := range nt.inputs {
		assert.NotContains(t, string(in), "\r", "shortcut must stage, not run")
	}
}

func TestReconnectTriggersOrphanScan(t *testing.T) {
	p, _, _ := newTestPanel(t)

	// Simulate the backend having been away.
	p.lastConnected = 0
	_, cmd := p.Update(statusMsg{})
	assert.NotNil(t, cmd, "regaining the backend rescans for orphans")

	_, cmd = p.Update(statusMsg{})
	assert.Nil(t, cmd, "steady connected state does not rescan")
}

func TestPromptOverlayEscapeAbandons(t *testing.T) {
	p, _, nt := newTestPanel(t)

	p.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("whoops")})
	p.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, p.prompting)

	nt.mu.Lock()
	defer nt.mu.Unlock()
	assert.Empty(t, nt.inputs)
}

func TestToastSupersession(t *testing.T) {
	p, _, _ := newTestPanel(t)

	p.Notify("first")
	staleSeq := p.toastSeq
	p.Notify("second")

	// The first toast's expiry must not clear the second toast.
	p.Update(toastExpiredMsg{seq: staleSeq})
	assert.Equal(t, "second", p.toast)

	p.Update(toastExpiredMsg{seq: p.toastSeq})
	assert.Empty(t, p.toast)
}

func TestKeyToBytes(t *testing.T) {
	cases := []struct {
		msg  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("abc")}, "abc"},
		{tea.KeyMsg{Type: tea.KeyEnter}, "\r"},
		{tea.KeyMsg{Type: tea.KeyBackspace}, "\x7f"},
		{tea.KeyMsg{Type: tea.KeyUp}, "\x1b[A"},
		{tea.KeyMsg{Type: tea.KeyCtrlC}, "\x03"},
		{tea.KeyMsg{Type: tea.KeySpace}, " "},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, string(keyToBytes(tc.msg)))
	}
}

func TestApplySystemThemeSwitchesPalette(t *testing.T) {
	InitTheme("dark")

	assert.True(t, applySystemTheme(false))
	assert.Equal(t, ThemeLight, GetCurrentTheme())

	assert.False(t, applySystemTheme(false), "repeat event is a no-op")

	assert.True(t, applySystemTheme(true))
	assert.Equal(t, ThemeDark, GetCurrentTheme())
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	for i := 0; i < 600; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
