// tablechat is the interactive chat heads client. It runs the sync
// engine in-process and renders it with tview.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mvalente/tablechat/internal/app"
	"github.com/mvalente/tablechat/internal/config"
	"github.com/mvalente/tablechat/internal/logging"
	"github.com/mvalente/tablechat/internal/session"
	"github.com/mvalente/tablechat/internal/tui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		cfg = config.Default()
		err = config.Save(session.ConfigPath(), cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to the file only.
	logger, err := logging.Quiet(session.LogPath(sessionName), sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	engine, err := app.NewEngine(sessionName, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "engine start: %v\n", err)
		os.Exit(1)
	}
	defer engine.Stop()

	ui := tui.New(engine, sessionName)
	if err := ui.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	ui.Stop()
}
