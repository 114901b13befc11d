// eventsphere is the command-line client for the EventSphere API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanmathew190/EventManagementSystem/internal/cli"
	"github.com/alanmathew190/EventManagementSystem/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	app, err := cli.New(ctx, cfg, cli.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, "eventsphere:", err)
		return 1
	}
	defer app.Close(ctx)
	return app.Run(ctx, os.Args[1:])
}
