package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.False(t, cfg.Typing.AutoExecutePrompt)
	assert.Equal(t, 30, cfg.Typing.BaseDelayMs)
	assert.Equal(t, 5, cfg.Scroll.ResumeDelaySecs)
	assert.Equal(t, 500, cfg.Preview.HoverDelayMs)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[backend]
url = "ws://example.test/ws"

[typing]
auto_execute_prompt = true
base_delay_ms = 10

[panel]
min_height = 4
max_height = 40
default_height = 12
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, UserConfigFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ws://example.test/ws", cfg.Backend.URL)
	assert.True(t, cfg.Typing.AutoExecutePrompt)
	assert.Equal(t, 10, cfg.Typing.BaseDelayMs)
	assert.Equal(t, 4, cfg.Panel.MinHeight)
	// Omitted fields keep defaults
	assert.Equal(t, 50, cfg.Typing.JitterMs)
}

func TestNormalizeRejectsNonsense(t *testing.T) {
	dir := t.TempDir()
	content := `
[typing]
base_delay_ms = -5

[scroll]
resume_delay_secs = 0

[panel]
min_height = 10
max_height = 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, UserConfigFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Typing.BaseDelayMs)
	assert.Equal(t, 5, cfg.Scroll.ResumeDelaySecs)
	assert.GreaterOrEqual(t, cfg.Panel.MaxHeight, cfg.Panel.MinHeight)
}

func TestLoadBadTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, UserConfigFileName), []byte("{{not toml"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestFetchRemoteFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"autoExecutePrompt": true}`))
	}))
	defer srv.Close()

	flags := FetchRemoteFlags(srv.URL, false)
	assert.True(t, flags.AutoExecutePrompt)
}

func TestFetchRemoteFlagsFallback(t *testing.T) {
	// Unreachable endpoint: local default wins.
	flags := FetchRemoteFlags("http://127.0.0.1:1/flags", true)
	assert.True(t, flags.AutoExecutePrompt)

	// Empty URL: local default wins.
	flags = FetchRemoteFlags("", false)
	assert.False(t, flags.AutoExecutePrompt)

	// Bad status: local default wins.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	flags = FetchRemoteFlags(srv.URL, true)
	assert.True(t, flags.AutoExecutePrompt)
}
