package surface

import (
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/vito/midterm"
)

// Screen is the midterm-backed Surface implementation. The underlying
// terminal grows vertically (append-only scrollback) while the viewport stays
// a fixed rows×cols window over it.
type Screen struct {
	mu       sync.Mutex
	vt       *midterm.Terminal
	rows     int
	cols     int
	viewport int // top row of the visible window
	disposed bool
}

// NewScreen creates a screen with the given viewport geometry.
func NewScreen(rows, cols int) *Screen {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	s := &Screen{rows: rows, cols: cols}
	s.vt = newScrollbackTerminal(rows, cols)
	return s
}

func newScrollbackTerminal(rows, cols int) *midterm.Terminal {
	vt := midterm.NewTerminal(rows, cols)
	vt.AutoResizeY = true
	vt.AppendOnly = true
	return vt
}

func (s *Screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return len(p), nil
	}
	n, err := s.vt.Write(p)
	// Terminal renderers snap to the tail on output; the manager's scroll
	// policy compensates when the user is reading history.
	s.viewport = s.baseRowLocked()
	return n, err
}

func (s *Screen) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.vt = newScrollbackTerminal(s.rows, s.cols)
	s.viewport = 0
}

func (s *Screen) Resize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	atBottom := s.viewport >= s.baseRowLocked()
	s.rows = rows
	s.cols = cols
	height := s.vt.Height
	if height < rows {
		height = rows
	}
	s.vt.Resize(height, cols)
	if atBottom {
		s.viewport = s.baseRowLocked()
	} else {
		s.viewport = clamp(s.viewport, 0, s.baseRowLocked())
	}
}

func (s *Screen) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// baseRowLocked derives the bottom-most viewport top from the cursor row, not
// the content length: AutoResizeY can inflate Content past real output.
func (s *Screen) baseRowLocked() int {
	base := s.vt.Cursor.Y - s.rows + 1
	if base < 0 {
		base = 0
	}
	return base
}

func (s *Screen) ScrollToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = s.baseRowLocked()
}

func (s *Screen) ScrollLines(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = clamp(s.viewport+delta, 0, s.baseRowLocked())
}

func (s *Screen) SetViewportRow(row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = clamp(row, 0, s.baseRowLocked())
}

func (s *Screen) ViewportRow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Screen) BaseRow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseRowLocked()
}

func (s *Screen) AtBottom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport >= s.baseRowLocked()
}

func (s *Screen) RowText(row int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowTextLocked(row)
}

func (s *Screen) rowTextLocked(row int) string {
	if row < 0 || row >= len(s.vt.Content) {
		return ""
	}
	text := strings.TrimRight(string(s.vt.Content[row]), " \x00")
	return runewidth.Truncate(text, s.cols, "")
}

func (s *Screen) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.vt.Cursor.Y + 1
	if n > len(s.vt.Content) {
		n = len(s.vt.Content)
	}
	return n
}

func (s *Screen) Viewport() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, s.rows)
	for i := 0; i < s.rows; i++ {
		out[i] = s.rowTextLocked(s.viewport + i)
	}
	return out
}

func (s *Screen) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
