package ui

import (
	"context"
	"log/slog"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/termweave/termweave/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompPanel)

// WatchSystemTheme follows OS appearance changes while the workspace runs,
// switching the active palette and invoking notify so the UI re-renders in
// the new colors. Returns a stop function, or an error when the platform
// exposes no appearance events (headless hosts, unsupported desktops).
func WatchSystemTheme(notify func()) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		for {
			select {
			case isDark, ok := <-events:
				if !ok {
					return
				}
				if applySystemTheme(isDark) {
					notify()
				}
			case err, ok := <-errs:
				if ok && err != nil {
					uiLog.Warn("theme_watch_error", slog.String("error", err.Error()))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel, nil
}

// applySystemTheme matches the palette to the OS appearance and reports
// whether anything changed. Repeated events for the current appearance are
// no-ops so the UI is not re-rendered for nothing.
func applySystemTheme(isDark bool) bool {
	want := ThemeLight
	if isDark {
		want = ThemeDark
	}
	if GetCurrentTheme() == want {
		return false
	}
	InitTheme(string(want))
	uiLog.Info("theme_switched", slog.String("theme", string(want)))
	return true
}
