package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avoronov/lastvault/internal/cli"
	"github.com/avoronov/lastvault/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app := cli.NewApp(cfg)
	defer app.Close()

	if err := app.Run(ctx, config.CommandArgs()); err != nil {
		fmt.Fprintf(os.Stderr, "lastvault: %v\n", err)
		os.Exit(1)
	}
}
