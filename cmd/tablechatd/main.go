// tablechatd runs the headless sync engine: polling, push ingestion and
// the offline cache, with an optional Prometheus listener. Useful on a
// box where the TUI runs elsewhere or not at all.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mvalente/tablechat/internal/app"
	"github.com/mvalente/tablechat/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{SessionName: sessionName}),
	).Run()
}
