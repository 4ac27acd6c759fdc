package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/avoronov/lastvault/internal/flagx"
	"github.com/avoronov/lastvault/internal/timex"
)

// JsonConfig is the unmarshalling DTO. timex.Duration lets the file say
// "30s" for intervals. Only non-zero values overlay the config.
type JsonConfig struct {
	ServerHost     string         `json:"server_host"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	SessionFile    string         `json:"session_file"`
	QueueDB        string         `json:"queue_db"`
	BlobCache      string         `json:"blob_cache"`
	AgentSocket    string         `json:"agent_socket"`
	AgentTimeout   timex.Duration `json:"agent_timeout"`
	AgentDisabled  *bool          `json:"agent_disabled"`
	TrustDevice    *bool          `json:"trust_device"`
}

// parseJson overlays cfg with the JSON file named by -c/-config. No flag,
// no overlay. Read or parse failures panic; the config stage runs before
// anything the user could lose.
func parseJson(cfg *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerHost != "" {
		cfg.ServerHost = jc.ServerHost
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.SessionFile != "" {
		cfg.SessionFile = jc.SessionFile
	}
	if jc.QueueDB != "" {
		cfg.QueueDB = jc.QueueDB
	}
	if jc.BlobCache != "" {
		cfg.BlobCache = jc.BlobCache
	}
	if jc.AgentSocket != "" {
		cfg.AgentSocket = jc.AgentSocket
	}
	if jc.AgentTimeout.Duration > 0 {
		cfg.AgentTimeout = time.Duration(jc.AgentTimeout.Duration)
	}
	if jc.AgentDisabled != nil {
		cfg.AgentDisabled = *jc.AgentDisabled
	}
	if jc.TrustDevice != nil {
		cfg.TrustDevice = *jc.TrustDevice
	}
}
