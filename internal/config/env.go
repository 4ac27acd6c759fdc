package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays values from a .env file in the config dir (if any)
// and from the process environment. The process environment wins, which
// godotenv.Load guarantees by never overwriting existing variables.
func parseEnv(cfg *Config) {
	_ = godotenv.Load(filepath.Join(ConfigDir(), ".env"))

	if v := os.Getenv("LASTVAULT_HOST"); v != "" {
		cfg.ServerHost = v
	}
	if v := os.Getenv("LASTVAULT_AGENT_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.AgentTimeout = time.Duration(secs) * time.Second
		}
	}
	if os.Getenv("LASTVAULT_AGENT_DISABLE") == "1" {
		cfg.AgentDisabled = true
	}
	if os.Getenv("LASTVAULT_TRUST_DEVICE") == "1" {
		cfg.TrustDevice = true
	}
}
