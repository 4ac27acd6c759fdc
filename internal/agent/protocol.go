package agent

// Wire protocol: one JSON object per line in each direction, one request
// per connection. The key travels hex-encoded and only over the local
// socket, never onto a network interface.

const (
	OpGetKey   = "get-key"
	OpSetKey   = "set-key"
	OpClearKey = "clear-key"
	OpStatus   = "status"
)

const (
	StatusOK           = "ok"
	StatusNotCached    = "not-cached"
	StatusUnauthorized = "unauthorized"
	StatusError        = "error"
)

type request struct {
	Op       string `json:"op"`
	Username string `json:"username,omitempty"`
	Key      string `json:"key,omitempty"`
	// TTLSeconds bounds the key's lifetime; 0 means never expire.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

type response struct {
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
	Key      string `json:"key,omitempty"`
	// ExpiresAt is a unix timestamp, 0 when the key does not expire.
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}
