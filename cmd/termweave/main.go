// Command termweave is the terminal workspace client: a multi-session
// terminal panel with a session explorer, backed by a websocket terminal
// backend.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/explorer"
	"github.com/termweave/termweave/internal/logging"
	"github.com/termweave/termweave/internal/platform"
	"github.com/termweave/termweave/internal/registry"
	"github.com/termweave/termweave/internal/terminal"
	"github.com/termweave/termweave/internal/ui"
)

const Version = "0.3.0"

func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color output based on terminal
// capabilities. Prefers TrueColor, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// TERMWEAVE_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("TERMWEAVE_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if os.Getenv("COLORTERM") != "" || strings.Contains(os.Getenv("TERM"), "256color") {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func defaultProfileDir() string {
	if dir := os.Getenv("TERMWEAVE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termweave"
	}
	return filepath.Join(home, ".termweave")
}

func main() {
	var (
		profileDir = flag.String("profile", defaultProfileDir(), "profile directory for config, logs, and state")
		backendURL = flag.String("backend", "", "websocket backend URL (overrides config)")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error")
		theme      = flag.String("theme", "", "color theme: dark, light (default: detect)")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("termweave v%s\n", Version)
		return
	}

	if err := run(*profileDir, *backendURL, *logLevel, *theme); err != nil {
		fmt.Fprintf(os.Stderr, "termweave: %v\n", err)
		os.Exit(1)
	}
}

func run(profileDir, backendURL, logLevel, theme string) error {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cfg, err := config.Load(profileDir)
	if err != nil {
		return err
	}
	if backendURL != "" {
		cfg.Backend.URL = backendURL
	}
	if logLevel != "" {
		cfg.Logs.Level = logLevel
	}

	logging.Init(logging.Config{
		LogDir:     profileDir,
		Level:      cfg.Logs.Level,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		MaxAgeDays: cfg.Logs.MaxAgeDays,
	})
	defer logging.Shutdown()

	autoTheme := theme == ""
	if autoTheme {
		theme = ui.DetectTheme()
	}
	ui.InitTheme(theme)

	flags := config.FetchRemoteFlags(cfg.Backend.FlagsURL, cfg.Typing.AutoExecutePrompt)

	reg := registry.Open(filepath.Join(profileDir, "state.db"))
	defer reg.Close()
	if warn := platform.CheckFsnotifySupport(profileDir); warn != "" {
		logging.Logger().Warn("registry_watch_degraded", slog.String("detail", warn))
	}

	rows, cols := 24, 80
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}

	var program *tea.Program

	mgr := terminal.NewManager(terminal.Options{
		BackendURL:        cfg.Backend.URL,
		Registry:          reg,
		Rows:              rows,
		Cols:              cols,
		ResumeDelay:       time.Duration(cfg.Scroll.ResumeDelaySecs) * time.Second,
		Typing:            cfg.Typing,
		AutoExecutePrompt: flags.AutoExecutePrompt,
		OnStatusChange: func(terminal.Status) {
			if program != nil {
				program.Send(ui.StatusChanged())
			}
		},
		OnSessionsChanged: func() {
			if program != nil {
				program.Send(ui.StatusChanged())
			}
		},
	})
	defer mgr.Close()

	ex := explorer.New(mgr, cfg.Preview)
	defer ex.Close()

	panel := ui.NewPanel(mgr, ex, reg, cfg.Panel)

	program = tea.NewProgram(panel,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Another workspace instance writing the registry triggers a refresh.
	reg.Watch(func() {
		if program != nil {
			program.Send(ui.StatusChanged())
		}
	})

	// Track OS appearance changes unless a theme was forced.
	if autoTheme {
		stop, err := ui.WatchSystemTheme(func() { program.Send(ui.StatusChanged()) })
		if err != nil {
			logging.Logger().Debug("theme_watch_unavailable", slog.String("error", err.Error()))
		} else {
			defer stop()
		}
	}

	// Sessions dial once the program can render their state.
	go mgr.Initialize()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
