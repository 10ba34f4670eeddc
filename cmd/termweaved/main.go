// Command termweaved is the development terminal backend: it serves
// pty-backed shell sessions over the workspace websocket protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/termweave/termweave/internal/backend"
	"github.com/termweave/termweave/internal/logging"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:7681", "listen address")
		shell       = flag.String("shell", "", "shell to spawn per session (default: $SHELL)")
		origins     = flag.String("origins", "", "comma-separated allowed origins (default: any)")
		autoExecute = flag.Bool("auto-execute-prompt", false, "serve autoExecutePrompt=true on /flags")
		logDir      = flag.String("log-dir", "", "log directory (default: profile dir)")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	if *logDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			*logDir = filepath.Join(home, ".termweave")
		} else {
			*logDir = "."
		}
	}
	_ = os.MkdirAll(*logDir, 0o755)
	logging.Init(logging.Config{LogDir: *logDir, Level: *logLevel})
	defer logging.Shutdown()

	var allowed []string
	if *origins != "" {
		for _, o := range strings.Split(*origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowed = append(allowed, o)
			}
		}
	}

	srv := backend.NewServer(backend.Config{
		Shell:             *shell,
		AllowedOrigins:    allowed,
		AutoExecutePrompt: *autoExecute,
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := logging.Logger()
	errCh := make(chan error, 1)
	go func() {
		log.Info("backend_listening", slog.String("addr", *addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "termweaved: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("shutting_down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}
}
