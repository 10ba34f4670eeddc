package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/termweave/termweave/internal/clipboard"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/explorer"
	"github.com/termweave/termweave/internal/registry"
	"github.com/termweave/termweave/internal/terminal"
)

// Preference keys persisted across runs.
const (
	prefPanelHeight   = "panel.height"
	prefExplorerWidth = "panel.explorer_width"
)

type focusArea int

const (
	focusTerminal focusArea = iota
	focusExplorer
)

type dragKind int

const (
	dragNone dragKind = iota
	dragHeight
	dragWidth
)

// toastExpiredMsg clears a transient notice.
type toastExpiredMsg struct{ seq int }

// statusMsg forces a re-render when connection status changes off the UI
// goroutine.
type statusMsg struct{}

// StatusChanged builds the message a status-change callback sends into the
// program to trigger a re-render.
func StatusChanged() tea.Msg {
	return statusMsg{}
}

// Panel is the root workspace model: explorer sidebar, terminal viewport,
// status bar, and the chrome around them.
type Panel struct {
	mgr *terminal.Manager
	ex  *explorer.Explorer
	reg *registry.Registry
	cfg config.PanelSettings

	width  int
	height int

	panelHeight   int // expanded height, excluding zen
	explorerWidth int
	collapsed     bool
	zen           bool
	preZenHeight  int

	focus     focusArea
	prompting bool
	prompt    textinput.Model

	toast    string
	toastSeq int

	lastConnected int

	dragging dragKind
}

// NewPanel wires the panel to its collaborators. Persisted geometry wins over
// configured defaults.
func NewPanel(mgr *terminal.Manager, ex *explorer.Explorer, reg *registry.Registry, cfg config.PanelSettings) *Panel {
	prompt := textinput.New()
	prompt.Placeholder = "Describe what the assistant should do..."
	prompt.CharLimit = 400

	p := &Panel{
		mgr:           mgr,
		ex:            ex,
		reg:           reg,
		cfg:           cfg,
		panelHeight:   cfg.DefaultHeight,
		explorerWidth: cfg.ExplorerWidth,
		prompt:        prompt,
	}

	p.lastConnected = mgr.Status().Connected

	var h, w int
	if reg.GetPref(prefPanelHeight, &h) {
		p.panelHeight = clampInt(h, cfg.MinHeight, cfg.MaxHeight)
	}
	if reg.GetPref(prefExplorerWidth, &w) {
		p.explorerWidth = clampInt(w, cfg.MinExplorerWidth, cfg.MaxExplorerWidth)
	}
	return p
}

// Init implements tea.Model.
func (p *Panel) Init() tea.Cmd {
	return nil
}

// Notify shows a transient toast in the status bar.
func (p *Panel) Notify(text string) tea.Cmd {
	p.toast = text
	p.toastSeq++
	seq := p.toastSeq
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}

// visibleHeight is the panel's current height in rows.
func (p *Panel) visibleHeight() int {
	switch {
	case p.collapsed:
		return 1
	case p.zen:
		return p.height
	default:
		return clampInt(p.panelHeight, p.cfg.MinHeight, min(p.cfg.MaxHeight, p.height))
	}
}

// terminalGeometry is the rows/cols available to the active surface.
func (p *Panel) terminalGeometry() (rows, cols int) {
	rows = p.visibleHeight() - 2 // title row + status bar
	cols = p.width - p.explorerWidth - 1
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return rows, cols
}

func (p *Panel) refit() {
	rows, cols := p.terminalGeometry()
	p.mgr.SetSize(rows, cols)
	p.ex.SetSize(p.explorerWidth, p.visibleHeight()-1)
}

// Update implements tea.Model.
func (p *Panel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		p.refit()
		return p, nil

	case toastExpiredMsg:
		if msg.seq == p.toastSeq {
			p.toast = ""
		}
		return p, nil

	case statusMsg:
		st := p.mgr.Status()
		recovered := p.lastConnected == 0 && st.Connected > 0
		p.lastConnected = st.Connected
		if recovered {
			// Sessions may have been orphaned while the backend was
			// unreachable; reconcile against its list.
			return p, p.ex.ScanOrphans()
		}
		return p, nil

	case tea.MouseMsg:
		return p.updateMouse(msg)

	case tea.KeyMsg:
		return p.updateKey(msg)
	}

	// Everything else (hover timers, orphan scans) belongs to the explorer.
	var cmd tea.Cmd
	p.ex, cmd = p.ex.Update(msg)
	return p, cmd
}

func (p *Panel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if p.prompting {
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(p.prompt.Value())
			p.prompting = false
			p.prompt.Blur()
			p.prompt.SetValue("")
			if text != "" {
				if err := p.mgr.SendPromptCommand(p.mgr.ActiveKey(), text); err != nil {
					return p, p.Notify("no session to send the prompt to")
				}
			}
			return p, nil
		case "esc":
			p.prompting = false
			p.prompt.Blur()
			p.prompt.SetValue("")
			return p, nil
		default:
			var cmd tea.Cmd
			p.prompt, cmd = p.prompt.Update(msg)
			return p, cmd
		}
	}

	switch msg.String() {
	case "ctrl+q":
		return p, tea.Quit

	case "ctrl+b":
		p.toggleCollapsed()
		return p, nil

	case "ctrl+f":
		p.toggleZen()
		return p, nil

	case "esc":
		if p.zen {
			p.toggleZen()
			return p, nil
		}

	case "ctrl+e":
		if p.focus == focusTerminal {
			p.focus = focusExplorer
		} else {
			p.focus = focusTerminal
		}
		return p, nil

	case "ctrl+g":
		p.prompting = true
		p.prompt.Focus()
		return p, textinput.Blink

	case "ctrl+t":
		// Stage the assistant CLI in the shell; never submits, so the
		// user can add arguments before running it.
		if err := p.mgr.SendWithTypingEffect(p.mgr.ActiveKey(), "copilot", false); err != nil {
			return p, p.Notify("no session to stage copilot in")
		}
		return p, nil

	case "ctrl+y":
		return p, p.copyScrollback()

	case "shift+up", "pgup":
		p.mgr.ScrollActive(-5)
		return p, nil

	case "shift+down", "pgdown":
		p.mgr.ScrollActive(5)
		return p, nil
	}

	if p.focus == focusExplorer {
		var cmd tea.Cmd
		p.ex, cmd = p.ex.Update(msg)
		return p, cmd
	}

	if data := keyToBytes(msg); len(data) > 0 && !p.collapsed {
		p.mgr.HandleInput(p.mgr.ActiveKey(), data)
	}
	return p, nil
}

func (p *Panel) updateMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		p.mgr.ScrollActive(-3)
		return p, nil
	case tea.MouseButtonWheelDown:
		p.mgr.ScrollActive(3)
		return p, nil
	}

	panelTop := p.height - p.visibleHeight()

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return p, nil
		}
		switch {
		case msg.Y == panelTop && !p.zen && !p.collapsed:
			p.dragging = dragHeight
		case msg.X == p.explorerWidth && msg.Y > panelTop:
			p.dragging = dragWidth
		case msg.X < p.explorerWidth && msg.Y > panelTop:
			row := msg.Y - panelTop - 1
			rows := p.ex.Rows()
			if row >= 0 && row < len(rows) {
				return p, p.ex.SetHover(rows[row].Key)
			}
			p.ex.ClearHover()
		}

	case tea.MouseActionMotion:
		switch p.dragging {
		case dragHeight:
			p.panelHeight = clampInt(p.height-msg.Y, p.cfg.MinHeight, p.cfg.MaxHeight)
			p.refit()
		case dragWidth:
			p.explorerWidth = clampInt(msg.X, p.cfg.MinExplorerWidth, p.cfg.MaxExplorerWidth)
			p.refit()
		}

	case tea.MouseActionRelease:
		switch p.dragging {
		case dragHeight:
			p.reg.SetPref(prefPanelHeight, p.panelHeight)
		case dragWidth:
			p.reg.SetPref(prefExplorerWidth, p.explorerWidth)
		}
		p.dragging = dragNone
	}
	return p, nil
}

// copyScrollback copies the active session's full scrollback to the system
// clipboard.
func (p *Panel) copyScrollback() tea.Cmd {
	lines := p.mgr.ScrollbackText(p.mgr.ActiveKey())
	text := strings.Join(lines, "\n")
	result, err := clipboard.Copy(text, supportsOSC52())
	if err != nil {
		return p.Notify(fmt.Sprintf("copy failed: %v", err))
	}
	return p.Notify(fmt.Sprintf("copied %d lines via %s", result.LineCount, result.Method))
}

// supportsOSC52 guesses whether the hosting terminal honors OSC 52. Modern
// xterm-compatible emulators and tmux do.
func supportsOSC52() bool {
	term := os.Getenv("TERM")
	return os.Getenv("TMUX") != "" ||
		strings.Contains(term, "xterm") ||
		strings.Contains(term, "kitty") ||
		os.Getenv("TERM_PROGRAM") != ""
}

// toggleCollapsed hides or restores the panel body. The re-fit runs after the
// restore so the backend sees the post-expand geometry, not the collapsed one.
func (p *Panel) toggleCollapsed() {
	p.collapsed = !p.collapsed
	if !p.collapsed {
		p.refit()
		p.mgr.Refit()
	}
}

// toggleZen switches full-height mode. The pre-zen height is restored on
// exit, including a height the user dragged to during this run.
func (p *Panel) toggleZen() {
	if p.zen {
		p.zen = false
		p.panelHeight = p.preZenHeight
	} else {
		p.preZenHeight = p.panelHeight
		p.zen = true
	}
	p.refit()
	p.mgr.Refit()
}

// View implements tea.Model.
func (p *Panel) View() string {
	if p.width == 0 {
		return ""
	}
	if p.collapsed {
		return p.statusBar()
	}

	title := TitleStyle.Render(" termweave ")
	if p.zen {
		title += DimStyle.Render(" (zen, esc to exit)")
	}

	rows, cols := p.terminalGeometry()
	termView := p.terminalView(rows, cols)
	sidebar := lipgloss.NewStyle().
		Width(p.explorerWidth).
		Height(rows).
		Render(p.ex.View())
	divider := DividerStyle.Render(strings.Repeat("│\n", rows-1) + "│")

	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, divider, termView)

	sections := []string{title, body, p.statusBar()}
	if p.prompting {
		sections = append(sections, PromptBoxStyle.Width(p.width-4).Render(p.prompt.View()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (p *Panel) terminalView(rows, cols int) string {
	surf := p.mgr.ActiveSurface()
	if surf == nil {
		return DimStyle.Render("no session")
	}
	lines := surf.Viewport()
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	return lipgloss.NewStyle().Width(cols).Render(strings.Join(lines, "\n"))
}

func (p *Panel) statusBar() string {
	st := p.mgr.Status()
	style := StatusBadStyle
	switch {
	case st.Total > 0 && st.Connected == st.Total:
		style = StatusOKStyle
	case st.Connected > 0:
		style = StatusWarnStyle
	}

	left := style.Render("● " + st.String())
	right := DimStyle.Render(fmt.Sprintf("%d sessions", st.Total))
	if p.toast != "" {
		right = ToastStyle.Render(p.toast)
	}

	gap := p.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return StatusBarStyle.Width(p.width).Render(left + strings.Repeat(" ", gap) + right)
}

// keyToBytes translates a key event into the byte sequence a terminal
// expects.
func keyToBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyRunes:
		return []byte(string(msg.Runes))
	case tea.KeySpace:
		return []byte(" ")
	case tea.KeyEnter:
		return []byte("\r")
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyTab:
		return []byte("\t")
	case tea.KeyEsc:
		return []byte{0x1b}
	case tea.KeyUp:
		return []byte("\x1b[A")
	case tea.KeyDown:
		return []byte("\x1b[B")
	case tea.KeyRight:
		return []byte("\x1b[C")
	case tea.KeyLeft:
		return []byte("\x1b[D")
	case tea.KeyHome:
		return []byte("\x1b[H")
	case tea.KeyEnd:
		return []byte("\x1b[F")
	case tea.KeyDelete:
		return []byte("\x1b[3~")
	case tea.KeyCtrlC:
		return []byte{0x03}
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeyCtrlZ:
		return []byte{0x1a}
	case tea.KeyCtrlL:
		return []byte{0x0c}
	case tea.KeyCtrlA:
		return []byte{0x01}
	case tea.KeyCtrlK:
		return []byte{0x0b}
	case tea.KeyCtrlU:
		return []byte{0x15}
	case tea.KeyCtrlW:
		return []byte{0x17}
	case tea.KeyCtrlR:
		return []byte{0x12}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
