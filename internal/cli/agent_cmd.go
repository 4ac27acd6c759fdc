package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/avoronov/lastvault/internal/agent"
	"github.com/avoronov/lastvault/internal/common"
)

// agentBinary is looked up on PATH when `agent start` launches the
// daemon. Swappable for tests.
var agentBinary = "lastvault-agent"

func (app *App) cmdAgent(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault agent <start|stop|status>", common.ErrInvalidInput)
	}

	switch args[0] {
	case "start":
		if c, err := agent.Dial(app.cfg.AgentSocket); err == nil {
			if err := c.Status(ctx); err == nil || errors.Is(err, common.ErrNotCached) {
				fmt.Fprintln(app.out, "Agent already running.")
				return nil
			}
		}
		cmd := exec.Command(agentBinary)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("could not start agent: %w", err)
		}
		// Detach: the daemon outlives this process.
		if err := cmd.Process.Release(); err != nil {
			return err
		}
		// Give the daemon a moment to bind its socket before reporting.
		for i := 0; i < 20; i++ {
			if _, err := agent.Dial(app.cfg.AgentSocket); err == nil {
				fmt.Fprintln(app.out, "Agent started.")
				return nil
			}
			time.Sleep(50 * time.Millisecond)
		}
		return fmt.Errorf("agent did not come up on %s", app.cfg.AgentSocket)

	case "stop":
		c, err := agent.Dial(app.cfg.AgentSocket)
		if err != nil {
			fmt.Fprintln(app.out, "Agent not running.")
			return nil
		}
		if err := c.ClearKey(ctx); err != nil && !errors.Is(err, common.ErrNotCached) {
			return err
		}
		fmt.Fprintln(app.out, "Agent stopped.")
		return nil

	case "status":
		c, err := agent.Dial(app.cfg.AgentSocket)
		if err != nil {
			fmt.Fprintln(app.out, "Agent not running.")
			return nil
		}
		err = c.Status(ctx)
		switch {
		case err == nil:
			fmt.Fprintln(app.out, "Agent running, key cached.")
		case errors.Is(err, common.ErrNotCached):
			fmt.Fprintln(app.out, "Agent running, no key cached.")
		default:
			return err
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown agent subcommand %q", common.ErrInvalidInput, args[0])
	}
}
