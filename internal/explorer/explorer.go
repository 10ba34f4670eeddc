// Package explorer implements the session explorer sidebar: the ordered
// session list with activation, inline rename, fuzzy filtering, hover
// previews, and orphaned-session cleanup.
package explorer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/singleflight"

	"github.com/termweave/termweave/internal/channel"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/logging"
	"github.com/termweave/termweave/internal/surface"
	"github.com/termweave/termweave/internal/terminal"
)

var log = logging.ForComponent(logging.CompExplorer)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Reverse(true)

	activeMarkStyle = lipgloss.NewStyle().Bold(true)

	connectedDotStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})

	disconnectedDotStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "196"})

	orphanStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"}).
			Padding(0, 1)

	previewBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().Faint(true)
)

// hoverFiredMsg is delivered when the hover delay elapses.
type hoverFiredMsg struct {
	key terminal.Key
	seq int
}

// orphanListMsg carries the result of an orphan scan.
type orphanListMsg struct {
	orphans []string
	err     error
}

// orphansDestroyedMsg carries the result of an orphan cleanup request.
type orphansDestroyedMsg struct {
	err error
}

// preview is the live peek at one session's output.
type preview struct {
	key    terminal.Key
	surf   surface.Surface
	cancel func()
}

// Explorer is the session list component.
type Explorer struct {
	mgr *terminal.Manager
	cfg config.PreviewSettings

	cursor int
	width  int
	height int

	filter    textinput.Model
	filtering bool

	rename      textinput.Model
	renamingKey terminal.Key

	hoverKey terminal.Key
	hoverSeq int
	preview  *preview

	sf      singleflight.Group
	orphans []string
}

// New creates an explorer bound to the manager.
func New(mgr *terminal.Manager, cfg config.PreviewSettings) *Explorer {
	filter := textinput.New()
	filter.Placeholder = "Filter sessions..."
	filter.CharLimit = 60
	filter.Width = 24

	rename := textinput.New()
	rename.CharLimit = 60
	rename.Width = 24

	return &Explorer{
		mgr:    mgr,
		cfg:    cfg,
		filter: filter,
		rename: rename,
	}
}

// SetSize sets the explorer dimensions.
func (e *Explorer) SetSize(width, height int) {
	e.width = width
	e.height = height
	e.filter.Width = width - 4
	e.rename.Width = width - 6
}

// Rows returns the sessions currently shown, honoring the fuzzy filter.
func (e *Explorer) Rows() []terminal.Info {
	all := e.mgr.Sessions()
	query := strings.TrimSpace(e.filter.Value())
	if !e.filtering || query == "" {
		return all
	}

	names := make([]string, len(all))
	for i, info := range all {
		names[i] = info.Name
	}
	matches := fuzzy.Find(query, names)
	out := make([]terminal.Info, 0, len(matches))
	for _, match := range matches {
		out = append(out, all[match.Index])
	}
	return out
}

// Selected returns the session under the cursor.
func (e *Explorer) Selected() (terminal.Info, bool) {
	rows := e.Rows()
	if len(rows) == 0 {
		return terminal.Info{}, false
	}
	if e.cursor >= len(rows) {
		e.cursor = len(rows) - 1
	}
	return rows[e.cursor], true
}

// Update handles key input for the explorer.
func (e *Explorer) Update(msg tea.Msg) (*Explorer, tea.Cmd) {
	switch msg := msg.(type) {
	case hoverFiredMsg:
		// The hover may have moved on while the timer ran.
		if msg.seq == e.hoverSeq && msg.key == e.hoverKey {
			e.openPreview(msg.key)
		}
		return e, nil

	case orphanListMsg:
		if msg.err != nil {
			log.Warn("orphan_scan_failed", slog.String("error", msg.err.Error()))
			return e, nil
		}
		e.orphans = msg.orphans
		return e, nil

	case orphansDestroyedMsg:
		if msg.err != nil {
			log.Warn("orphan_cleanup_failed", slog.String("error", msg.err.Error()))
			return e, nil
		}
		e.orphans = nil
		return e, nil

	case tea.KeyMsg:
		return e.updateKey(msg)
	}
	return e, nil
}

func (e *Explorer) updateKey(msg tea.KeyMsg) (*Explorer, tea.Cmd) {
	if e.renamingKey != 0 {
		switch msg.String() {
		case "enter":
			e.mgr.RenameSession(e.renamingKey, strings.TrimSpace(e.rename.Value()))
			e.stopRename()
		case "esc":
			// Revert: the session keeps its previous name.
			e.stopRename()
		default:
			var cmd tea.Cmd
			e.rename, cmd = e.rename.Update(msg)
			return e, cmd
		}
		return e, nil
	}

	if e.filtering {
		switch msg.String() {
		case "enter":
			e.filtering = e.filter.Value() != ""
			e.filter.Blur()
			return e, nil
		case "esc":
			e.filtering = false
			e.filter.SetValue("")
			e.filter.Blur()
			return e, nil
		default:
			var cmd tea.Cmd
			e.filter, cmd = e.filter.Update(msg)
			e.cursor = 0
			return e, cmd
		}
	}

	switch msg.String() {
	case "up", "k":
		if e.cursor > 0 {
			e.cursor--
		}
	case "down", "j":
		if e.cursor < len(e.Rows())-1 {
			e.cursor++
		}
	case "enter":
		if info, ok := e.Selected(); ok {
			e.mgr.SwitchSession(info.Key)
		}
	case "n":
		if _, err := e.mgr.AddSession("", ""); err != nil {
			log.Info("add_rejected", slog.String("error", err.Error()))
		}
	case "x":
		if info, ok := e.Selected(); ok {
			e.ClearHover()
			e.mgr.RemoveSession(info.Key)
			if e.cursor >= len(e.Rows()) && e.cursor > 0 {
				e.cursor--
			}
		}
	case "r":
		if info, ok := e.Selected(); ok {
			e.startRename(info)
		}
	case "/":
		e.filtering = true
		e.filter.SetValue("")
		e.filter.Focus()
		return e, textinput.Blink
	case "o":
		return e, e.ScanOrphans()
	case "D":
		return e, e.destroyOrphansCmd()
	}
	return e, nil
}

func (e *Explorer) startRename(info terminal.Info) {
	e.renamingKey = info.Key
	e.rename.SetValue(info.Name)
	e.rename.CursorEnd()
	e.rename.Focus()
}

func (e *Explorer) stopRename() {
	e.renamingKey = 0
	e.rename.Blur()
	e.rename.SetValue("")
}

// SetHover notes the pointer resting on a session row. The preview opens only
// after the hover delay, so sweeping the pointer across the list does not
// flash a preview per row.
func (e *Explorer) SetHover(key terminal.Key) tea.Cmd {
	if key == e.hoverKey {
		return nil
	}
	e.hoverKey = key
	e.hoverSeq++
	if e.preview != nil && e.preview.key != key {
		e.closePreview()
	}

	seq := e.hoverSeq
	delay := time.Duration(e.cfg.HoverDelayMs) * time.Millisecond
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return hoverFiredMsg{key: key, seq: seq}
	})
}

// ClearHover ends any hover and tears down the preview.
func (e *Explorer) ClearHover() {
	e.hoverKey = 0
	e.hoverSeq++
	e.closePreview()
}

// openPreview opens the live preview for a session: the full scrollback is
// seeded first, then output streams in through a subscription. Only one
// preview exists at a time.
func (e *Explorer) openPreview(key terminal.Key) {
	e.closePreview()

	surf := surface.NewScreen(e.cfg.Rows, e.cfg.Cols)
	for _, line := range e.mgr.ScrollbackText(key) {
		_, _ = surf.Write([]byte(line + "\r\n"))
	}

	cancel, ok := e.mgr.SubscribeOutput(key, func(data []byte) {
		_, _ = surf.Write(data)
	})
	if !ok {
		surf.Dispose()
		return
	}
	e.preview = &preview{key: key, surf: surf, cancel: cancel}
}

// closePreview tears the preview down and releases its output subscription.
// A subscription left behind would keep feeding a surface nobody renders.
func (e *Explorer) closePreview() {
	if e.preview == nil {
		return
	}
	e.preview.cancel()
	e.preview.surf.Dispose()
	e.preview = nil
}

// PreviewKey returns the session currently previewed (zero when none).
func (e *Explorer) PreviewKey() terminal.Key {
	if e.preview == nil {
		return 0
	}
	return e.preview.key
}

// ScanOrphans asks the backend for its live session list and diffs it
// against locally owned ids. Runs on demand ("o") and from the panel when
// the connection comes back, since sessions may have been orphaned while the
// backend was unreachable. Concurrent scans collapse into one request.
func (e *Explorer) ScanOrphans() tea.Cmd {
	return func() tea.Msg {
		v, err, _ := e.sf.Do("orphan-scan", func() (any, error) {
			result := make(chan orphanListMsg, 1)
			e.mgr.FetchServerSessions(3*time.Second, func(sessions []channel.ServerSession, err error) {
				if err != nil {
					result <- orphanListMsg{err: err}
					return
				}
				result <- orphanListMsg{orphans: diffOrphans(sessions, e.mgr.OwnedSessionIDs())}
			})
			return <-result, nil
		})
		if err != nil {
			return orphanListMsg{err: err}
		}
		return v.(orphanListMsg)
	}
}

// diffOrphans returns server session ids no local session owns, preserving
// server order.
func diffOrphans(server []channel.ServerSession, owned map[string]bool) []string {
	var orphans []string
	for _, s := range server {
		if !owned[s.SessionID] {
			orphans = append(orphans, s.SessionID)
		}
	}
	return orphans
}

// destroyOrphansCmd requests cleanup of every known orphan. The cached list
// clears only when the backend acknowledges; a failed request leaves it
// intact so the next attempt still has something to destroy.
func (e *Explorer) destroyOrphansCmd() tea.Cmd {
	ids := append([]string(nil), e.orphans...)
	if len(ids) == 0 {
		return nil
	}

	return func() tea.Msg {
		result := make(chan orphansDestroyedMsg, 1)
		e.mgr.DestroyServerSessions(ids, func(err error) {
			result <- orphansDestroyedMsg{err: err}
		})
		return <-result
	}
}

// Orphans returns the last scan's orphaned session ids.
func (e *Explorer) Orphans() []string {
	return e.orphans
}

// Close releases the preview subscription.
func (e *Explorer) Close() {
	e.closePreview()
}

// View renders the explorer sidebar.
func (e *Explorer) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sessions"))
	b.WriteString("\n")

	if e.filtering {
		b.WriteString(rowStyle.Render(e.filter.View()))
		b.WriteString("\n")
	}

	rows := e.Rows()
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  no matches"))
		b.WriteString("\n")
	}
	for i, info := range rows {
		b.WriteString(e.renderRow(i, info))
		b.WriteString("\n")
	}

	if len(e.orphans) > 0 {
		b.WriteString("\n")
		b.WriteString(orphanStyle.Render(fmt.Sprintf("%d orphaned (D to clean up)", len(e.orphans))))
		b.WriteString("\n")
	}

	if e.preview != nil {
		b.WriteString("\n")
		b.WriteString(e.renderPreview())
	}
	return b.String()
}

func (e *Explorer) renderRow(i int, info terminal.Info) string {
	if e.renamingKey == info.Key {
		return rowStyle.Render(e.rename.View())
	}

	dot := disconnectedDotStyle.Render("○")
	if info.Connected {
		dot = connectedDotStyle.Render("●")
	}
	mark := "  "
	if info.Active {
		mark = activeMarkStyle.Render("▸ ")
	}
	line := fmt.Sprintf("%s%s %s", mark, dot, info.Name)

	if i == e.cursor {
		return selectedRowStyle.Render(line)
	}
	return rowStyle.Render(line)
}

func (e *Explorer) renderPreview() string {
	lines := e.preview.surf.Viewport()
	return previewBoxStyle.Width(e.width - 2).Render(strings.Join(lines, "\n"))
}
