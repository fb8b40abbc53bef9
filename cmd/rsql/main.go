// Command rsql is an interactive shell against the backend SQL websocket
// API. It drives the same session core the web console uses: commands are
// split into statements, executed over one connection, and accumulated
// into a session log.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/rillstream/console/internal/cmdcache"
	"github.com/rillstream/console/internal/protocol"
	"github.com/rillstream/console/internal/session"
	"github.com/rillstream/console/internal/suggest"
	"github.com/rillstream/console/internal/transport"
)

// version and build are injected at link time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.build=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	build   = "unknown"
)

func main() {
	cfg := GetConfig()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// --- Command cache ----------------------------------------------------
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		homedir, err := os.UserHomeDir()
		if err != nil {
			log.WithError(err).Fatal("failed to resolve home directory")
		}
		cacheDir = filepath.Join(homedir, ".rsql")
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		log.WithError(err).Fatal("failed to create cache directory")
	}
	db, err := cmdcache.NewDB(filepath.Join(cacheDir, "commands.db"))
	if err != nil {
		log.WithError(err).Fatal("failed to open command cache")
	}
	recorder := cmdcache.NewRecorder(db, log)
	scope := cmdcache.Scope{Organization: cfg.Organization, Region: cfg.Region}

	// --- Suggestions ------------------------------------------------------
	suggestions := suggest.NewService(log,
		suggest.NewHistoryProvider(recorder, scope), // recall (highest priority)
		suggest.NewKeywordProvider(),                // static SQL keywords
	)

	// --- Session ----------------------------------------------------------
	dial := func(ctx context.Context) (session.Transport, error) {
		return transport.Dial(ctx, transport.Config{
			URL:       cfg.ConsoleURL,
			CancelURL: cfg.CancelURL,
			Log:       log,
		})
	}

	mgr := session.NewManager(log)
	ctx := context.Background()
	sess, err := mgr.Create(ctx, dial, session.Options{
		Params: protocol.SessionParams{
			ApplicationName: cfg.AppName,
			Cluster:         cfg.Cluster,
			Database:        cfg.Database,
		},
		Scope:    scope,
		Recorder: recorder,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect")
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	if interactive {
		fmt.Printf("rsql %s (%s) - type \\help for help, \\q to quit\n", version, build)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runShell(ctx, sess, suggestions, interactive, sigCh)

	// --- Shutdown ---------------------------------------------------------
	if err := mgr.Close(); err != nil {
		log.WithError(err).Warn("session close error")
	}
	if err := recorder.Close(); err != nil {
		log.WithError(err).Warn("recorder close error")
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("cache close error")
	}
}

func runShell(ctx context.Context, sess *session.Session, suggestions *suggest.Service, interactive bool, sigCh chan os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for {
		if interactive {
			fmt.Print("sql> ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == `\q` || line == `\quit`:
			return

		case strings.HasPrefix(line, `\suggest `):
			input := strings.TrimPrefix(line, `\suggest `)
			for _, s := range suggestions.GetSuggestions(ctx, input, len(input)) {
				fmt.Printf("  %-10s %s\n", s.Source, s.Text)
			}
			continue

		case line == `\reconnect`:
			if err := sess.Reconnect(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "reconnect failed: %v\n", err)
			} else {
				fmt.Println("reconnected")
			}
			continue
		}

		id, err := sess.Submit(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		waitAndRender(ctx, sess, id, sigCh)

		if !sess.Connected() {
			fmt.Fprintln(os.Stderr, "connection lost; use \\reconnect to continue")
		}
	}
}

// waitAndRender blocks until the submitted command has run to completion
// (or the connection died), forwarding SIGINT as an out-of-band cancel.
func waitAndRender(ctx context.Context, sess *session.Session, historyID string, sigCh chan os.Signal) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			cancelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := sess.Cancel(cancelCtx); err != nil {
				fmt.Fprintf(os.Stderr, "cancel failed: %v\n", err)
			}
			cancel()

		case <-ticker.C:
			if item, ok := sess.History().Get(historyID); ok {
				if done, out := commandSettled(sess, item); done {
					render(os.Stdout, out, sess.Display())
					return
				}
			}
			if !sess.Connected() {
				return
			}
		}
	}
}
