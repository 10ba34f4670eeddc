package terminal

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/termweave/termweave/internal/surface"
)

// typist is one in-flight typed-command simulation. Cancellation is a flag
// checked before every character, so a cancel takes effect mid-word rather
// than after the whole command lands.
type typist struct {
	cancelled atomic.Bool
	done      chan struct{}
}

func (t *typist) cancel() { t.cancelled.Store(true) }

// SendWithTypingEffect injects text into a session as paced keystrokes.
// The downstream CLI treats a bulk paste differently from typed input, so
// each character is sent separately with a small randomized delay. When
// execute is true a carriage return follows after a settle pause.
//
// At most one simulation runs per process; starting a new one cancels any
// simulation still in flight.
func (m *Manager) SendWithTypingEffect(key Key, text string, execute bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok || sess.Channel == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	ch := sess.Channel
	if m.typing != nil {
		m.typing.cancel()
	}
	task := &typist{done: make(chan struct{})}
	m.typing = task
	cfg := m.opts.Typing
	m.mu.Unlock()

	go func() {
		defer func() {
			close(task.done)
			m.mu.Lock()
			if m.typing == task {
				m.typing = nil
			}
			m.mu.Unlock()
		}()

		for _, r := range text {
			if task.cancelled.Load() {
				log.Info("typing_cancelled", slog.Int("key", int(key)))
				return
			}
			if err := ch.SendInput([]byte(string(r))); err != nil {
				log.Warn("typing_send_failed", slog.String("error", err.Error()))
				return
			}
			delay := time.Duration(cfg.BaseDelayMs) * time.Millisecond
			if cfg.JitterMs > 0 {
				delay += time.Duration(rand.Intn(cfg.JitterMs)) * time.Millisecond
			}
			time.Sleep(delay)
		}

		if execute {
			time.Sleep(time.Duration(cfg.SubmitSettleMs) * time.Millisecond)
			if task.cancelled.Load() {
				log.Info("typing_cancelled", slog.Int("key", int(key)))
				return
			}
			if err := ch.SendInput([]byte("\r")); err != nil {
				log.Warn("typing_submit_failed", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}

// SendPromptCommand types a full copilot invocation carrying the prompt.
// Execution follows the auto-execute flag; when off, the command is staged
// at the shell and the user submits it themselves.
func (m *Manager) SendPromptCommand(key Key, prompt string) error {
	m.promptReadyHint(key)
	cmd := fmt.Sprintf("copilot -p %q", prompt)
	return m.SendWithTypingEffect(key, cmd, m.opts.AutoExecutePrompt)
}

// SendRefineCommand types follow-up text into a session where an interactive
// CLI is already waiting for input, so no command wrapper is added.
func (m *Manager) SendRefineCommand(key Key, text string) error {
	return m.SendWithTypingEffect(key, text, m.opts.AutoExecutePrompt)
}

// CancelTyping cancels any in-flight typing simulation. Returns whether a
// simulation was running.
func (m *Manager) CancelTyping() bool {
	m.mu.Lock()
	task := m.typing
	m.typing = nil
	m.mu.Unlock()
	if task == nil {
		return false
	}
	task.cancel()
	return true
}

// TypingActive reports whether a typing simulation is in flight.
func (m *Manager) TypingActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing != nil
}

// promptReadyHint scans the session's last populated row for a shell prompt
// shape. Best effort and log-only: injection proceeds either way, since a
// reliable readiness signal does not exist for arbitrary shells.
func (m *Manager) promptReadyHint(key Key) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	if !looksLikePrompt(sess.Surface) {
		log.Debug("prompt_not_detected", slog.Int("key", int(key)))
	}
}

func looksLikePrompt(surf surface.Surface) bool {
	for row := surf.RowCount() - 1; row >= 0; row-- {
		text := strings.TrimSpace(surf.RowText(row))
		if text == "" {
			continue
		}
		for _, marker := range []string{"$", "%", ">", "❯"} {
			if strings.HasSuffix(text, marker) {
				return true
			}
		}
		return false
	}
	return false
}
