package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/matheus3301/wppcal/internal/daemon"
	"github.com/matheus3301/wppcal/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides default_profile)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name}),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app.Run()
}
