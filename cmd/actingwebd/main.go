// Package main is the entry point for the ActingWeb reference daemon:
// a chi-based HTTP server wiring pkg/handlers behind the library's
// composition root. Grounded on the teacher's cmd/thv/main.go
// (stacklok-toolhive): main() does nothing but hand off to the
// cobra root command built in app.
package main

import (
	"fmt"
	"os"

	"github.com/actingweb/aw/cmd/actingwebd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "actingwebd: %v\n", err)
		os.Exit(1)
	}
}
