// Package registry keeps the durable record of which backend sessions this
// workspace owns: an ordered list of server-assigned session ids and their
// display names, plus a small key/value store for UI preferences.
//
// Storage failures never propagate to callers. If the database cannot be
// opened or written, the registry degrades to in-memory behavior for the rest
// of the process lifetime and the workspace keeps working without persistence.
package registry

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/termweave/termweave/internal/logging"
	"github.com/termweave/termweave/internal/statedb"
)

var log = logging.ForComponent(logging.CompRegistry)

// Entry is one persisted session: id plus display name.
type Entry struct {
	SessionID string
	Name      string
}

// Registry persists the ordered session list. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	db      *statedb.StateDB // nil when degraded to memory-only
	entries []Entry          // authoritative in-process copy
	prefs   map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads the registry from the database at dbPath. An unopenable or
// unmigratable database degrades to an empty in-memory registry.
func Open(dbPath string) *Registry {
	r := &Registry{prefs: make(map[string]string)}

	db, err := statedb.Open(dbPath)
	if err != nil {
		log.Warn("open_failed_degrading_to_memory", slog.String("error", err.Error()))
		return r
	}
	if err := db.Migrate(); err != nil {
		log.Warn("migrate_failed_degrading_to_memory", slog.String("error", err.Error()))
		_ = db.Close()
		return r
	}
	r.db = db

	rows, err := db.ListSessions()
	if err != nil {
		log.Warn("load_failed", slog.String("error", err.Error()))
		return r
	}
	for _, row := range rows {
		r.entries = append(r.entries, Entry{SessionID: row.SessionID, Name: row.Name})
	}
	return r
}

// Close stops the change watcher and closes the database.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		close(r.done)
		_ = r.watcher.Close()
		r.watcher = nil
	}
	if r.db != nil {
		_ = r.db.Close()
		r.db = nil
	}
}

// Entries returns a copy of the ordered session list.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Put appends a session entry, or updates its name if the id is already
// registered. Order of existing entries is preserved.
func (r *Registry) Put(sessionID, name string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].SessionID == sessionID {
			r.entries[i].Name = name
			r.flushLocked()
			return
		}
	}
	r.entries = append(r.entries, Entry{SessionID: sessionID, Name: name})
	r.flushLocked()
}

// Remove deletes a session entry. Unknown ids are a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].SessionID == sessionID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			if r.db != nil {
				if err := r.db.DeleteSession(sessionID); err != nil {
					log.Warn("remove_failed", slog.String("error", err.Error()))
				}
			}
			return
		}
	}
}

// Rename updates the display name for a registered id. Unknown ids are a
// no-op: the session's id may not have been announced yet.
func (r *Registry) Rename(sessionID, name string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].SessionID == sessionID {
			r.entries[i].Name = name
			if r.db != nil {
				if err := r.db.RenameSession(sessionID, name); err != nil {
					log.Warn("rename_failed", slog.String("error", err.Error()))
				}
			}
			return
		}
	}
}

// flushLocked rewrites the whole ordered list. Removals and renames use the
// targeted statements instead; this path is for appends and id updates, where
// positions shift. Caller holds r.mu.
func (r *Registry) flushLocked() {
	if r.db == nil {
		return
	}
	rows := make([]statedb.SessionRow, len(r.entries))
	for i, e := range r.entries {
		rows[i] = statedb.SessionRow{SessionID: e.SessionID, Name: e.Name}
	}
	if err := r.db.ReplaceSessions(rows); err != nil {
		log.Warn("flush_failed", slog.String("error", err.Error()))
	}
}

// SetPref stores a JSON-serializable preference value.
func (r *Registry) SetPref(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn("pref_marshal_failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[key] = string(data)
	if r.db != nil {
		if err := r.db.SetPref(key, string(data)); err != nil {
			log.Warn("pref_write_failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

// GetPref loads a preference into out and reports whether it was found.
func (r *Registry) GetPref(key string, out any) bool {
	r.mu.Lock()
	raw, ok := r.prefs[key]
	db := r.db
	r.mu.Unlock()

	if !ok && db != nil {
		v, found, err := db.GetPref(key)
		if err != nil {
			log.Warn("pref_read_failed", slog.String("key", key), slog.String("error", err.Error()))
			return false
		}
		if !found {
			return false
		}
		raw, ok = v, true
		r.mu.Lock()
		r.prefs[key] = v
		r.mu.Unlock()
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Warn("pref_unmarshal_failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Watch invokes onChange whenever another process writes the registry
// database. Used to reconcile the session list across workspace instances.
// No-op when degraded to memory.
func (r *Registry) Watch(onChange func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil || r.watcher != nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("watch_unavailable", slog.String("error", err.Error()))
		return
	}
	if err := watcher.Add(r.db.Path()); err != nil {
		log.Warn("watch_add_failed", slog.String("error", err.Error()))
		_ = watcher.Close()
		return
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-r.done:
				return
			}
		}
	}()
}
