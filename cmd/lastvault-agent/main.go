package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avoronov/lastvault/internal/agent"
	"github.com/avoronov/lastvault/internal/config"
	"github.com/avoronov/lastvault/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	log := logging.NewDefault()

	srv, err := agent.NewServer(cfg.AgentSocket, log)
	if err != nil {
		if errors.Is(err, agent.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "lastvault-agent: already running")
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "lastvault-agent: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lastvault-agent: %v\n", err)
		os.Exit(1)
	}
}
