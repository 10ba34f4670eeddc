// Package surface provides the terminal surface a session renders into: a
// virtual screen with scrollback, a movable viewport, and row inspection.
package surface

// Surface is the rendering target owned by exactly one session. Rows are
// indexed from the top of the scrollback; the viewport is Rows() rows tall
// starting at ViewportRow(). Writing auto-scrolls the viewport to the bottom,
// mirroring how terminal renderers behave; callers that want to defend a
// reading position save and restore ViewportRow around writes.
type Surface interface {
	Write(p []byte) (int, error)

	// Reset clears all content and scrollback. Used before replaying a
	// server-provided backlog after a resume.
	Reset()

	Resize(rows, cols int)
	Size() (rows, cols int)

	// ScrollToBottom moves the viewport to the live tail.
	ScrollToBottom()
	// ScrollLines moves the viewport by delta rows (negative = up).
	ScrollLines(delta int)
	// SetViewportRow moves the viewport top to row, clamped to [0, BaseRow].
	SetViewportRow(row int)

	// ViewportRow is the row index at the top of the viewport.
	ViewportRow() int
	// BaseRow is the viewport top when scrolled fully to the bottom.
	BaseRow() int
	// AtBottom reports whether the viewport is at the live tail.
	AtBottom() bool

	// RowText returns the trimmed text of one scrollback row.
	RowText(row int) string
	// RowCount is the number of rows with content.
	RowCount() int
	// Viewport returns the visible rows as text.
	Viewport() []string

	// Dispose releases the surface. Further writes are dropped.
	Dispose()
}
