package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/cryptox"
	"github.com/avoronov/lastvault/internal/httpx"
	"github.com/avoronov/lastvault/internal/kdf"
	"github.com/avoronov/lastvault/internal/logging"
)

// savedState is the JSON body of the session file. It is sealed with
// AES-GCM under a key derived from the decryption key, so the file is
// useless without the master secret, and written owner-only.
type savedState struct {
	Username      string    `json:"username"`
	Iterations    int       `json:"iterations"`
	Token         string    `json:"token"`
	SessionID     string    `json:"sessionid"`
	TrustID       string    `json:"trustid,omitempty"`
	PrivateKeyEnc string    `json:"privatekeyenc,omitempty"`
	LoginHash     string    `json:"loginhash"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Session) save() error {
	if s.path == "" {
		return nil
	}

	state := savedState{
		Username:      s.username,
		Iterations:    s.iterations,
		Token:         s.token,
		SessionID:     s.sessionID,
		TrustID:       s.trustID,
		PrivateKeyEnc: s.privateKeyHex,
		LoginHash:     s.keys.LoginHash,
		CreatedAt:     time.Now(),
	}

	sealed, err := cryptox.SealState(state, cryptox.StateKey(s.keys.DecryptionKey))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, sealed, 0o600)
}

func (s *Session) removeSaved() {
	if s.path == "" {
		return
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn(context.Background(), "could not remove session file", "err", err)
	}
}

// Load restores a persisted session using a decryption key obtained out of
// band (agent, keyring, or a fresh derivation). Returns common.ErrNotFound
// when no session file exists and common.ErrDecryption when the key does
// not match the stored state.
func Load(transport httpx.Transport, path string, decryptionKey []byte, log logging.Logger) (*Session, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	var state savedState
	if err := cryptox.OpenState(sealed, cryptox.StateKey(decryptionKey), &state); err != nil {
		return nil, fmt.Errorf("session file: %w", err)
	}

	s := New(transport, path, log)
	s.username = state.Username
	s.iterations = state.Iterations
	s.token = state.Token
	s.sessionID = state.SessionID
	s.trustID = state.TrustID
	s.privateKeyHex = state.PrivateKeyEnc
	s.keys = &kdf.KeySet{
		LoginHash:     state.LoginHash,
		DecryptionKey: append([]byte(nil), decryptionKey...),
	}
	s.decryptPrivateKey(context.Background())
	s.state = StateActive
	return s, nil
}

// KeyHex returns the decryption key hex-encoded, the form handed to the
// agent and the OS keyring.
func (s *Session) KeyHex() string {
	if s.keys == nil {
		return ""
	}
	return hex.EncodeToString(s.keys.DecryptionKey)
}
