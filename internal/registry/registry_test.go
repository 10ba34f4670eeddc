package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	r := Open(path)
	r.Put("abc", "Work")
	r.Put("def", "Scratch")
	r.Rename("abc", "Deep Work")
	r.Close()

	// Reopen: the ordered id list and names must survive.
	r2 := Open(path)
	defer r2.Close()

	entries := r2.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "abc", entries[0].SessionID)
	assert.Equal(t, "Deep Work", entries[0].Name)
	assert.Equal(t, "def", entries[1].SessionID)
	assert.Equal(t, "Scratch", entries[1].Name)
}

func TestPutUpdatesExistingInPlace(t *testing.T) {
	r := Open(filepath.Join(t.TempDir(), "state.db"))
	defer r.Close()

	r.Put("a", "One")
	r.Put("b", "Two")
	r.Put("a", "Uno")

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].SessionID)
	assert.Equal(t, "Uno", entries[0].Name)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	r := Open(path)

	r.Put("a", "One")
	r.Put("b", "Two")
	r.Remove("a")
	r.Remove("missing") // no-op

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].SessionID)
	r.Close()

	// The removal must be durable, not just in-process.
	r2 := Open(path)
	defer r2.Close()
	entries = r2.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].SessionID)
}

func TestEmptyIDIgnored(t *testing.T) {
	r := Open(filepath.Join(t.TempDir(), "state.db"))
	defer r.Close()

	r.Put("", "Nameless")
	assert.Empty(t, r.Entries())
}

func TestDegradesToMemoryWhenUnopenable(t *testing.T) {
	// A directory path cannot be opened as a database file; the registry
	// must still work in memory without surfacing an error.
	r := Open(t.TempDir())
	defer r.Close()

	r.Put("abc", "Work")
	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].SessionID)
}

func TestPrefsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	r := Open(path)
	r.SetPref("explorer_width", 240)
	r.SetPref("explorer_collapsed", true)
	r.Close()

	r2 := Open(path)
	defer r2.Close()

	var width int
	require.True(t, r2.GetPref("explorer_width", &width))
	assert.Equal(t, 240, width)

	var collapsed bool
	require.True(t, r2.GetPref("explorer_collapsed", &collapsed))
	assert.True(t, collapsed)

	var missing int
	assert.False(t, r2.GetPref("panel_height", &missing))
}
