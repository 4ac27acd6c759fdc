package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/avoronov/lastvault/internal/common"
)

// Client talks to a running agent. Each request opens a fresh connection,
// matching the one-request-per-connection protocol.
type Client struct {
	path string
}

// Dial verifies the socket is connectable and returns a client for it.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: agent not reachable: %v", common.ErrNotCached, err)
	}
	conn.Close()
	return &Client{path: path}, nil
}

func (c *Client) Close() error { return nil }

// CachedKey is a key fetched from the agent.
type CachedKey struct {
	Username  string
	KeyHex    string
	ExpiresAt time.Time // zero when the key does not expire
}

// GetKey fetches the cached key. Returns common.ErrNotCached when the
// agent holds no key and common.ErrUnauthorized when the agent refuses
// this process.
func (c *Client) GetKey(ctx context.Context) (*CachedKey, error) {
	resp, err := c.roundTrip(ctx, request{Op: OpGetKey})
	if err != nil {
		return nil, err
	}
	key := &CachedKey{Username: resp.Username, KeyHex: resp.Key}
	if resp.ExpiresAt > 0 {
		key.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	}
	return key, nil
}

// SetKey hands a key to the agent. ttl 0 means the key never expires.
func (c *Client) SetKey(ctx context.Context, username, keyHex string, ttl time.Duration) error {
	_, err := c.roundTrip(ctx, request{
		Op:         OpSetKey,
		Username:   username,
		Key:        keyHex,
		TTLSeconds: int(ttl / time.Second),
	})
	return err
}

// ClearKey wipes the cached key; the agent process exits afterwards.
func (c *Client) ClearKey(ctx context.Context) error {
	_, err := c.roundTrip(ctx, request{Op: OpClearKey})
	return err
}

// Status probes the agent. nil means it is alive; common.ErrNotCached
// means alive but holding no key.
func (c *Client) Status(ctx context.Context) error {
	_, err := c.roundTrip(ctx, request{Op: OpStatus})
	return err
}

func (c *Client) roundTrip(ctx context.Context, req request) (*response, error) {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: agent not reachable: %v", common.ErrNotCached, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed agent response: %v", common.ErrNetwork, err)
	}

	switch resp.Status {
	case StatusOK:
		return &resp, nil
	case StatusNotCached:
		return nil, common.ErrNotCached
	case StatusUnauthorized:
		return nil, unauthorized()
	default:
		return nil, fmt.Errorf("agent error: %s", resp.Error)
	}
}
