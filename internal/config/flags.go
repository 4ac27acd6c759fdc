package config

import (
	"flag"
	"os"
	"time"

	"github.com/avoronov/lastvault/internal/flagx"
)

// parseFlags overlays selected Config fields from the command line:
//
//	-host string      API host
//	-timeout int      request timeout in seconds
//	-agent-timeout int  agent key lifetime in seconds (0 = never)
//	-no-agent         disable the key agent
//
// os.Args is pre-filtered so subcommand arguments do not confuse the
// flag set.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-host", "-timeout", "-agent-timeout", "-no-agent"})

	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerHost, "host", cfg.ServerHost, "API host")
	timeout := fs.Int("timeout", int(cfg.RequestTimeout.Seconds()), "request timeout (seconds)")
	agentTimeout := fs.Int("agent-timeout", int(cfg.AgentTimeout.Seconds()), "agent key lifetime (seconds, 0 = never)")
	fs.BoolVar(&cfg.AgentDisabled, "no-agent", cfg.AgentDisabled, "disable the key agent")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
	cfg.AgentTimeout = time.Duration(*agentTimeout) * time.Second
}
