// Package config resolves runtime settings for the lastvault client.
// Sources, later overriding earlier: built-in defaults, a .env file plus
// process environment, a JSON config file (-c/-config), command-line
// flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/avoronov/lastvault/internal/flagx"
)

// Config holds every path and knob the client needs. All file paths stay
// under the config dir unless overridden.
type Config struct {
	// ServerHost is the API host, scheme-less ("lastpass.com").
	ServerHost     string
	RequestTimeout time.Duration

	SessionFile string
	QueueDB     string
	BlobCache   string

	AgentSocket   string
	AgentTimeout  time.Duration
	AgentDisabled bool

	// TrustDevice asks the server to remember this device after an OTP
	// login.
	TrustDevice bool
}

// ConfigDir resolves the per-user data directory: $LASTVAULT_HOME,
// else $XDG_CONFIG_HOME/lastvault, else ~/.config/lastvault.
func ConfigDir() string {
	if home := os.Getenv("LASTVAULT_HOME"); home != "" {
		return home
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "lastvault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lastvault"
	}
	return filepath.Join(home, ".config", "lastvault")
}

// LoadDefaults populates c with defaults rooted in ConfigDir.
func (c *Config) LoadDefaults() {
	dir := ConfigDir()
	c.ServerHost = "lastpass.com"
	c.RequestTimeout = 30 * time.Second
	c.SessionFile = filepath.Join(dir, "session")
	c.QueueDB = filepath.Join(dir, "queue.db")
	c.BlobCache = filepath.Join(dir, "blobs.db")
	c.AgentSocket = filepath.Join(dir, "agent.sock")
	c.AgentTimeout = time.Hour
	c.AgentDisabled = false
	c.TrustDevice = false
}

// CommandArgs returns os.Args[1:] with the configuration flags removed,
// ready for subcommand dispatch.
func CommandArgs() []string {
	return flagx.StripArgs(os.Args[1:],
		[]string{"-host", "-timeout", "-agent-timeout", "-c", "-config"},
		[]string{"-no-agent"})
}

// LoadConfig builds the effective configuration from all sources.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
