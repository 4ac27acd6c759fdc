// Package agent implements the key-caching daemon and its client. The
// daemon holds a single decryption key in memory behind a unix socket so
// repeated command invocations skip the master-password prompt. The key
// never touches disk and never leaves the local machine.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/logging"
)

// ErrAlreadyRunning means another agent process owns the socket path.
var ErrAlreadyRunning = errors.New("agent already running on this socket")

// DefaultTimeout is how long a cached key lives unless the client asks
// otherwise.
const DefaultTimeout = time.Hour

// Server is a single-threaded request server: each connection is handled
// to completion before the next is accepted, so the key slot needs no
// synchronization. The server exits on key expiry, on an explicit
// clear-key request, and on context cancellation.
type Server struct {
	path     string
	log      logging.Logger
	uid      int
	listener *net.UnixListener
	store    keyStore

	// peerUID is swappable for tests.
	peerUID func(*net.UnixConn) (int, error)

	expiry   *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer binds the unix socket at path. A live agent on the same path
// is detected by probing it and reported as ErrAlreadyRunning; a stale
// socket file left by a crashed agent is removed.
func NewServer(path string, log logging.Logger) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		if probeAlive(path) {
			return nil, ErrAlreadyRunning
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}

	addr := &net.UnixAddr{Name: path, Net: "unix"}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("bind agent socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, err
	}

	return &Server{
		path:     path,
		log:      log,
		uid:      os.Getuid(),
		listener: l,
		peerUID:  peerUID,
		done:     make(chan struct{}),
	}, nil
}

// probeAlive treats a not-cached answer as alive: an agent holding no key
// is still an agent.
func probeAlive(path string) bool {
	c, err := Dial(path)
	if err != nil {
		return false
	}
	defer c.Close()
	err = c.Status(context.Background())
	return err == nil || errors.Is(err, common.ErrNotCached)
}

// Run serves requests until the context is cancelled, the cached key
// expires, or a clear-key request arrives. The socket file is removed on
// exit.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.listener.Close()
	}()

	s.log.Info(ctx, "agent listening", "path", s.path)

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		s.handle(ctx, conn)
	}
}

func (s *Server) cleanup() {
	s.store.Clear()
	if s.expiry != nil {
		s.expiry.Stop()
	}
	os.Remove(s.path)
}

func (s *Server) shutdown() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Server) handle(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	uid, err := s.peerUID(conn)
	if err != nil {
		s.log.Warn(ctx, "could not read peer credentials", "err", err)
		writeResponse(conn, response{Status: StatusError, Error: "peer credentials unavailable"})
		return
	}
	if uid != s.uid {
		s.log.Warn(ctx, "rejected connection from foreign uid", "uid", uid)
		writeResponse(conn, response{Status: StatusUnauthorized})
		return
	}

	var req request
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		writeResponse(conn, response{Status: StatusError, Error: "malformed request"})
		return
	}
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(conn, response{Status: StatusError, Error: "malformed request"})
		return
	}

	writeResponse(conn, s.dispatch(ctx, req))
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Op {
	case OpStatus:
		if _, _, _, ok := s.store.Get(); ok {
			return response{Status: StatusOK, Username: s.store.username}
		}
		return response{Status: StatusNotCached}

	case OpGetKey:
		username, keyHex, expiresAt, ok := s.store.Get()
		if !ok {
			return response{Status: StatusNotCached}
		}
		resp := response{Status: StatusOK, Username: username, Key: keyHex}
		if !expiresAt.IsZero() {
			resp.ExpiresAt = expiresAt.Unix()
		}
		return resp

	case OpSetKey:
		if req.Username == "" || req.Key == "" {
			return response{Status: StatusError, Error: "username and key are required"}
		}
		ttl := time.Duration(req.TTLSeconds) * time.Second
		s.store.Put(req.Username, req.Key, ttl)
		s.armExpiry(ttl)
		s.log.Info(ctx, "key cached", "username", req.Username, "ttl", ttl)
		return response{Status: StatusOK}

	case OpClearKey:
		s.store.Clear()
		s.log.Info(ctx, "key cleared, shutting down")
		s.shutdown()
		return response{Status: StatusOK}

	default:
		return response{Status: StatusError, Error: "unknown operation " + req.Op}
	}
}

// armExpiry schedules process exit when the cached key's lifetime ends. A
// new Put rearms the timer; ttl 0 disarms it.
func (s *Server) armExpiry(ttl time.Duration) {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if ttl <= 0 {
		return
	}
	s.expiry = time.AfterFunc(ttl, func() {
		s.log.Info(context.Background(), "cached key expired, shutting down")
		s.shutdown()
	})
}

func writeResponse(conn net.Conn, resp response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = conn.Write(b)
}

// unauthorized is returned by the client when the server refuses the peer.
func unauthorized() error {
	return fmt.Errorf("%w: agent refused peer", common.ErrUnauthorized)
}
