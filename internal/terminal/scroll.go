package terminal

import (
	"time"

	"github.com/termweave/termweave/internal/surface"
)

// WithScrollLock runs fn and restores the surface's viewport afterwards when
// the viewport was not at the live tail. Operations like activation or
// re-fitting must not move a reading position the user chose.
func WithScrollLock(surf surface.Surface, fn func()) {
	atBottom := surf.AtBottom()
	row := surf.ViewportRow()
	fn()
	if atBottom {
		surf.ScrollToBottom()
		return
	}
	surf.SetViewportRow(row)
}

// writeWithScrollPolicy writes output honoring the pause policy: at the live
// tail the viewport follows the output, but a scrolled-up viewport holds its
// position. The surface itself snaps to bottom on write, so the position is
// restored after, and once more a frame later for renderers that re-snap
// asynchronously.
func (m *Manager) writeWithScrollPolicy(surf surface.Surface, data []byte) {
	if surf.AtBottom() {
		_, _ = surf.Write(data)
		return
	}
	row := surf.ViewportRow()
	seq := m.scrollSeq.Load()
	_, _ = surf.Write(data)
	surf.SetViewportRow(row)
	time.AfterFunc(16*time.Millisecond, func() {
		// A gesture since the write means the user picked a new
		// position; being at the bottom is then their choice, not a
		// renderer re-snap.
		if m.scrollSeq.Load() != seq {
			return
		}
		if !surf.AtBottom() {
			return
		}
		surf.SetViewportRow(row)
	})
}

// Scroll moves a session's viewport by delta rows (negative = up). Any
// movement away from the tail arms the resume timer; each new gesture
// supersedes the previous timer, so the countdown measures idle time since
// the LAST gesture, not the first.
func (m *Manager) Scroll(key Key, delta int) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.scrollSeq.Add(1)
	sess.Surface.ScrollLines(delta)

	if sess.Surface.AtBottom() {
		m.cancelResume(key)
		return
	}
	m.armResume(key)
}

// ScrollActive scrolls the active session.
func (m *Manager) ScrollActive(delta int) {
	m.Scroll(m.ActiveKey(), delta)
}

// ScrollToBottom snaps a session to its live tail and cancels any pending
// resume.
func (m *Manager) ScrollToBottom(key Key) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.scrollSeq.Add(1)
	sess.Surface.ScrollToBottom()
	m.cancelResume(key)
}

func (m *Manager) armResume(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.resumeTimers[key]; ok {
		prev.Stop()
	}
	m.resumeTimers[key] = time.AfterFunc(m.opts.ResumeDelay, func() {
		m.mu.Lock()
		sess, ok := m.sessions[key]
		delete(m.resumeTimers, key)
		m.mu.Unlock()
		if ok {
			sess.Surface.ScrollToBottom()
		}
	})
}

func (m *Manager) cancelResume(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.resumeTimers[key]; ok {
		t.Stop()
		delete(m.resumeTimers, key)
	}
}
