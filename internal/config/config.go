// Package config loads user-facing configuration: a TOML file in the profile
// directory plus a best-effort remote flags endpoint polled once at startup.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/termweave/termweave/internal/logging"
)

var log = logging.ForComponent(logging.CompConfig)

// UserConfigFileName is the TOML config file for user preferences.
const UserConfigFileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format.
type UserConfig struct {
	// Backend defines how the workspace reaches the terminal backend.
	Backend BackendSettings `toml:"backend"`

	// Typing defines typed-command injection pacing.
	Typing TypingSettings `toml:"typing"`

	// Panel defines terminal panel geometry limits.
	Panel PanelSettings `toml:"panel"`

	// Scroll defines auto-scroll pause behavior.
	Scroll ScrollSettings `toml:"scroll"`

	// Preview defines hover-preview behavior in the session explorer.
	Preview PreviewSettings `toml:"preview"`

	// Logs defines log management settings.
	Logs LogSettings `toml:"logs"`
}

// BackendSettings defines the backend connection.
type BackendSettings struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:7681/ws
	URL string `toml:"url"`

	// FlagsURL is an optional HTTP endpoint returning remote feature flags.
	FlagsURL string `toml:"flags_url"`
}

// TypingSettings defines simulated keystroke pacing for command injection.
// The downstream CLI can behave differently when input arrives as one paste
// versus incremental keystrokes, so commands are typed character by character.
type TypingSettings struct {
	// AutoExecutePrompt appends a carriage return after a typed prompt.
	// Overridden by the remote flags endpoint when reachable.
	AutoExecutePrompt bool `toml:"auto_execute_prompt"`

	// BaseDelayMs is the fixed per-character delay (default: 30).
	BaseDelayMs int `toml:"base_delay_ms"`

	// JitterMs is the maximum random extra delay per character (default: 50).
	JitterMs int `toml:"jitter_ms"`

	// SubmitSettleMs is the pause before the trailing carriage return
	// (default: 100).
	SubmitSettleMs int `toml:"submit_settle_ms"`
}

// PanelSettings defines panel geometry limits.
type PanelSettings struct {
	MinHeight        int `toml:"min_height"`         // default: 6
	MaxHeight        int `toml:"max_height"`         // default: 60
	DefaultHeight    int `toml:"default_height"`     // default: 16
	MinExplorerWidth int `toml:"min_explorer_width"` // default: 16
	MaxExplorerWidth int `toml:"max_explorer_width"` // default: 60
	ExplorerWidth    int `toml:"explorer_width"`     // default: 28
}

// ScrollSettings defines the auto-scroll pause policy.
type ScrollSettings struct {
	// ResumeDelaySecs is how long after the last upward scroll gesture the
	// terminal snaps back to its live tail (default: 5).
	ResumeDelaySecs int `toml:"resume_delay_secs"`
}

// PreviewSettings defines explorer hover previews.
type PreviewSettings struct {
	// HoverDelayMs before a preview opens (default: 500).
	HoverDelayMs int `toml:"hover_delay_ms"`

	// Rows/Cols of the preview surface (defaults: 12, 60).
	Rows int `toml:"rows"`
	Cols int `toml:"cols"`
}

// LogSettings defines log file management.
type LogSettings struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *UserConfig {
	return &UserConfig{
		Backend: BackendSettings{
			URL: "ws://127.0.0.1:7681/ws",
		},
		Typing: TypingSettings{
			AutoExecutePrompt: false,
			BaseDelayMs:       30,
			JitterMs:          50,
			SubmitSettleMs:    100,
		},
		Panel: PanelSettings{
			MinHeight:        6,
			MaxHeight:        60,
			DefaultHeight:    16,
			MinExplorerWidth: 16,
			MaxExplorerWidth: 60,
			ExplorerWidth:    28,
		},
		Scroll: ScrollSettings{
			ResumeDelaySecs: 5,
		},
		Preview: PreviewSettings{
			HoverDelayMs: 500,
			Rows:         12,
			Cols:         60,
		},
		Logs: LogSettings{
			Level: "info",
		},
	}
}

// Load reads config.toml from dir, filling omitted fields with defaults.
// A missing file returns defaults without error.
func Load(dir string) (*UserConfig, error) {
	cfg := Default()

	path := filepath.Join(dir, UserConfigFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize clamps nonsensical values back to defaults.
func (c *UserConfig) normalize() {
	d := Default()
	if c.Typing.BaseDelayMs <= 0 {
		c.Typing.BaseDelayMs = d.Typing.BaseDelayMs
	}
	if c.Typing.JitterMs < 0 {
		c.Typing.JitterMs = d.Typing.JitterMs
	}
	if c.Typing.SubmitSettleMs <= 0 {
		c.Typing.SubmitSettleMs = d.Typing.SubmitSettleMs
	}
	if c.Scroll.ResumeDelaySecs <= 0 {
		c.Scroll.ResumeDelaySecs = d.Scroll.ResumeDelaySecs
	}
	if c.Preview.HoverDelayMs <= 0 {
		c.Preview.HoverDelayMs = d.Preview.HoverDelayMs
	}
	if c.Preview.Rows <= 0 {
		c.Preview.Rows = d.Preview.Rows
	}
	if c.Preview.Cols <= 0 {
		c.Preview.Cols = d.Preview.Cols
	}
	if c.Panel.MinHeight <= 0 {
		c.Panel.MinHeight = d.Panel.MinHeight
	}
	if c.Panel.MaxHeight < c.Panel.MinHeight {
		c.Panel.MaxHeight = d.Panel.MaxHeight
	}
	if c.Panel.DefaultHeight < c.Panel.MinHeight || c.Panel.DefaultHeight > c.Panel.MaxHeight {
		c.Panel.DefaultHeight = d.Panel.DefaultHeight
	}
	if c.Panel.MinExplorerWidth <= 0 {
		c.Panel.MinExplorerWidth = d.Panel.MinExplorerWidth
	}
	if c.Panel.MaxExplorerWidth < c.Panel.MinExplorerWidth {
		c.Panel.MaxExplorerWidth = d.Panel.MaxExplorerWidth
	}
	if c.Panel.ExplorerWidth < c.Panel.MinExplorerWidth || c.Panel.ExplorerWidth > c.Panel.MaxExplorerWidth {
		c.Panel.ExplorerWidth = d.Panel.ExplorerWidth
	}
}

// RemoteFlags are startup feature flags served by the backend.
type RemoteFlags struct {
	AutoExecutePrompt bool `json:"autoExecutePrompt"`
}

// FetchRemoteFlags polls the flags endpoint once. Any failure falls back to
// the local config value: the endpoint is advisory, never required.
func FetchRemoteFlags(url string, fallback bool) RemoteFlags {
	flags := RemoteFlags{AutoExecutePrompt: fallback}
	if url == "" {
		return flags
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Warn("remote_flags_unreachable", slog.String("url", url), slog.String("error", err.Error()))
		return flags
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("remote_flags_bad_status", slog.String("url", url), slog.Int("status", resp.StatusCode))
		return flags
	}

	if err := json.NewDecoder(resp.Body).Decode(&flags); err != nil {
		log.Warn("remote_flags_decode_failed", slog.String("error", err.Error()))
		return RemoteFlags{AutoExecutePrompt: fallback}
	}
	return flags
}
