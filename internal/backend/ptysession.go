// Package backend implements the development terminal backend: pty-backed
// shell sessions exposed over the workspace websocket protocol.
package backend

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/termweave/termweave/internal/logging"
)

var log = logging.ForComponent(logging.CompBackend)

// OutputSink receives a session's pty output. Sinks must not block; slow
// consumers drop frames rather than stalling the read pump.
type OutputSink func(sessionID string, data []byte)

// PtySession is one shell process behind a pseudo-terminal. It outlives any
// single websocket connection: a detached session keeps running and buffering
// output until a client resumes it or destroys it.
type PtySession struct {
	ID        string
	Command   string
	CreatedAt time.Time

	mu      sync.Mutex
	ptmx    *os.File
	cmd     *exec.Cmd
	backlog *Backlog
	sink    OutputSink
	done    chan struct{}
	closed  bool
}

// StartPtySession spawns the shell under a pty with the given geometry.
func StartPtySession(shell string, rows, cols int) (*PtySession, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("backend: start pty: %w", err)
	}

	s := &PtySession{
		ID:        uuid.NewString(),
		Command:   shell,
		CreatedAt: time.Now(),
		ptmx:      ptmx,
		cmd:       cmd,
		backlog:   NewBacklog(DefaultBacklogSize),
		done:      make(chan struct{}),
	}
	go s.readPump()

	log.Info("session_started",
		slog.String("session_id", s.ID),
		slog.String("shell", shell),
		slog.Int("pid", cmd.Process.Pid))
	return s, nil
}

// readPump copies pty output into the backlog and the attached sink. It exits
// when the process ends or the pty is closed.
func (s *PtySession) readPump() {
	defer close(s.done)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.backlog.Append(chunk)
			logging.Aggregate(logging.CompBackend, "pty_output", n)
			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()
			if sink != nil {
				sink(s.ID, chunk)
			}
		}
		if err != nil {
			log.Debug("read_pump_done",
				slog.String("session_id", s.ID),
				slog.String("reason", err.Error()))
			return
		}
	}
}

// Attach routes future output to sink. Any previous sink is replaced: a
// session streams to at most one client, and a newer attach supersedes an
// older one.
func (s *PtySession) Attach(sink OutputSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Detach stops routing output; the session keeps running and buffering.
func (s *PtySession) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
}

// Backlog returns the replay buffer for a resuming client.
func (s *PtySession) Backlog() []byte {
	return s.backlog.Bytes()
}

// Write sends input to the shell.
func (s *PtySession) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("backend: session %s closed", s.ID)
	}
	_, err := s.ptmx.Write(p)
	return err
}

// Resize updates the pty geometry so the shell relayouts.
func (s *PtySession) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Destroy terminates the process and releases the pty. Idempotent.
func (s *PtySession) Destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.sink = nil
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.ptmx.Close()

	// Reap, but never hang on a process stuck in the kernel.
	waitDone := make(chan struct{})
	go func() {
		_, _ = s.cmd.Process.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
	}

	log.Info("session_destroyed", slog.String("session_id", s.ID))
}
