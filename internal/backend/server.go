package backend

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// message is the JSON envelope spoken on the websocket. Raw terminal bytes
// travel base64-encoded so the envelope stays valid JSON regardless of what
// the shell emits.
type message struct {
	Type       string        `json:"type"`
	SessionID  string        `json:"session_id,omitempty"`
	Data       string        `json:"data,omitempty"`
	Buffer     string        `json:"buffer,omitempty"`
	Rows       int           `json:"rows,omitempty"`
	Cols       int           `json:"cols,omitempty"`
	SessionIDs []string      `json:"session_ids,omitempty"`
	Sessions   []sessionInfo `json:"sessions,omitempty"`
}

type sessionInfo struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Config configures the backend server.
type Config struct {
	// Shell to spawn per session; defaults to $SHELL then /bin/sh.
	Shell string

	// AllowedOrigins for browser clients. Empty allows any origin, which
	// is acceptable for a loopback development backend only.
	AllowedOrigins []string

	// AutoExecutePrompt is the value served on the /flags endpoint.
	AutoExecutePrompt bool
}

// Server owns the live pty sessions and the HTTP surface in front of them.
// Sessions survive websocket disconnects; they die only on destroy_sessions
// or server shutdown.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*PtySession
}

// NewServer creates a backend server.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.AllowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
		sessions: make(map[string]*PtySession),
	}
}

// Router builds the HTTP surface: the websocket endpoint, the feature flags
// endpoint, and a health probe.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/ws", s.handleWS)
	r.Get("/flags", s.handleFlags)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) handleFlags(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{
		"autoExecutePrompt": s.cfg.AutoExecutePrompt,
	})
}

// wsWriter serializes writes to one websocket connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(msg message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(msg)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	writer := &wsWriter{conn: conn}
	var attached *PtySession
	defer func() {
		if attached != nil {
			attached.Detach()
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "attach":
			if attached != nil {
				attached.Detach()
			}
			sess, resumed, err := s.attachSession(msg)
			if err != nil {
				log.Warn("attach_failed", slog.String("error", err.Error()))
				return
			}
			attached = sess
			sess.Attach(func(id string, data []byte) {
				_ = writer.send(message{
					Type: "output",
					Data: base64.StdEncoding.EncodeToString(data),
				})
			})
			if resumed {
				_ = writer.send(message{Type: "session_id", SessionID: sess.ID})
				_ = writer.send(message{
					Type:   "reconnected",
					Buffer: base64.StdEncoding.EncodeToString(sess.Backlog()),
				})
			} else {
				_ = writer.send(message{Type: "new_session", SessionID: sess.ID})
			}

		case "input":
			if attached == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				log.Warn("bad_input_encoding", slog.String("error", err.Error()))
				continue
			}
			if err := attached.Write(data); err != nil {
				log.Warn("input_write_failed", slog.String("error", err.Error()))
			}

		case "resize":
			if attached == nil {
				continue
			}
			if err := attached.Resize(msg.Rows, msg.Cols); err != nil {
				log.Warn("resize_failed", slog.String("error", err.Error()))
			}

		case "destroy_sessions":
			s.destroySessions(msg.SessionIDs)
			_ = writer.send(message{Type: "sessions_destroyed", SessionIDs: msg.SessionIDs})

		case "list_server_sessions":
			_ = writer.send(message{Type: "server_sessions", Sessions: s.listSessions()})

		default:
			log.Debug("unknown_message_type", slog.String("type", msg.Type))
		}
	}
}

// attachSession resumes a known session or spawns a fresh one. An unknown id
// spawns fresh: the process the client remembers is gone, so it gets a new
// one under a new identity rather than a silent mismatch.
func (s *Server) attachSession(msg message) (*PtySession, bool, error) {
	if msg.SessionID != "" {
		s.mu.Lock()
		sess, ok := s.sessions[msg.SessionID]
		s.mu.Unlock()
		if ok {
			if err := sess.Resize(msg.Rows, msg.Cols); err != nil {
				log.Warn("resume_resize_failed", slog.String("error", err.Error()))
			}
			return sess, true, nil
		}
		log.Info("resume_unknown_session", slog.String("session_id", msg.SessionID))
	}

	sess, err := StartPtySession(s.cfg.Shell, msg.Rows, msg.Cols)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, false, nil
}

func (s *Server) destroySessions(ids []string) {
	for _, id := range ids {
		s.mu.Lock()
		sess, ok := s.sessions[id]
		delete(s.sessions, id)
		s.mu.Unlock()
		if ok {
			sess.Destroy()
		}
	}
}

func (s *Server) listSessions() []sessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sessionInfo{
			SessionID: sess.ID,
			Name:      sess.Command,
			CreatedAt: sess.CreatedAt,
		})
	}
	return out
}

// SessionCount reports live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close destroys every session. Called on server shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*PtySession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*PtySession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Destroy()
	}
}
