// Package session manages the authenticated server session: login with
// derived credentials, encrypted on-disk persistence, blob fetching with
// bounded retries, and logout with server-side revocation.
package session

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/cryptox"
	"github.com/avoronov/lastvault/internal/httpx"
	"github.com/avoronov/lastvault/internal/kdf"
	"github.com/avoronov/lastvault/internal/logging"
)

// State is the session lifecycle phase.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateActive          State = "active"
	StateExpired         State = "expired"
	StateLoggedOut       State = "logged-out"
)

// DefaultIterations is used when the pre-login lookup cannot reach the
// server and no cached value exists.
const DefaultIterations = 100100

const fetchAttempts = 3

// Credentials is the ephemeral input to Login. The password never leaves
// this process; only the derived login hash goes over the wire.
type Credentials struct {
	Username string
	Password string
	// OTP is the one-time password for a second Login attempt after
	// ErrOtpRequired.
	OTP string
	// Trust asks the server to mark this device trusted, suppressing
	// future OTP prompts.
	Trust bool
}

// Blob is a fetched vault snapshot: still-encrypted bytes plus fetch time.
// The version marker lives inside the bytes and surfaces after parsing.
type Blob struct {
	Data      []byte
	FetchedAt time.Time
}

// Session owns the authentication token, the derived key material, and the
// last-fetched blob. Methods perform blocking network calls; state
// transitions are applied only after a definitive response.
type Session struct {
	transport httpx.Transport
	log       logging.Logger
	path      string // encrypted session file

	state      State
	username   string
	iterations int

	token     string
	sessionID string
	trustID   string

	keys          *kdf.KeySet
	privateKeyHex string
	privateKey    *rsa.PrivateKey

	blob *Blob
}

// New returns an unauthenticated session. path is where encrypted session
// state is persisted; it may be empty to disable persistence (tests).
func New(transport httpx.Transport, path string, log logging.Logger) *Session {
	return &Session{
		transport: transport,
		log:       log,
		path:      path,
		state:     StateUnauthenticated,
	}
}

func (s *Session) State() State      { return s.state }
func (s *Session) Username() string  { return s.username }
func (s *Session) Token() string     { return s.token }
func (s *Session) Iterations() int   { return s.iterations }
func (s *Session) Keys() *kdf.KeySet { return s.keys }

func (s *Session) PrivateKey() *rsa.PrivateKey { return s.privateKey }

// IsActive reports whether the session can serve vault operations.
func (s *Session) IsActive() bool { return s.state == StateActive }

// LookupIterations asks the server for the account's KDF iteration count.
// Accounts predating the iterative KDF report 1.
func (s *Session) LookupIterations(ctx context.Context, username string) (int, error) {
	body, err := s.transport.Post(ctx, "iterations.php", url.Values{
		"email": {strings.ToLower(username)},
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: bad iteration count %q", common.ErrNetwork,
			strings.TrimSpace(string(body)))
	}
	return n, nil
}

// Login authenticates with the server. Outcomes:
//   - nil: session is Active and persisted.
//   - common.ErrOtpRequired: re-invoke with Credentials.OTP set.
//   - common.ErrLoginFailed: wrong credentials, server cause attached.
//   - common.ErrNetwork: transport failure, state unchanged.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	iterations, err := s.LookupIterations(ctx, creds.Username)
	if err != nil {
		return err
	}

	keys, err := kdf.Derive(creds.Username, creds.Password, iterations)
	if err != nil {
		return err
	}

	s.state = StateAuthenticating

	form := url.Values{
		"method":     {"cli"},
		"xml":        {"2"},
		"username":   {strings.ToLower(creds.Username)},
		"hash":       {keys.LoginHash},
		"iterations": {strconv.Itoa(iterations)},
	}
	if creds.OTP != "" {
		form.Set("otp", creds.OTP)
	}
	if creds.Trust {
		form.Set("trust", "1")
	}
	if s.trustID != "" {
		form.Set("trustid", s.trustID)
	}

	body, err := s.transport.Post(ctx, "login.php", form)
	if err != nil {
		s.state = StateUnauthenticated
		keys.Wipe()
		return err
	}

	resp, err := parseLoginResponse(body)
	if err != nil {
		s.state = StateUnauthenticated
		keys.Wipe()
		return err
	}

	s.username = strings.ToLower(creds.Username)
	s.iterations = iterations
	s.keys = keys
	s.token = resp.Token
	s.sessionID = resp.SessionID
	if resp.TrustID != "" {
		s.trustID = resp.TrustID
	}
	s.privateKeyHex = resp.PrivateKeyEnc
	s.decryptPrivateKey(ctx)
	s.state = StateActive
	s.blob = nil

	if err := s.save(); err != nil {
		s.log.Warn(ctx, "failed to persist session state", "err", err)
	}
	return nil
}

// decryptPrivateKey unwraps the RSA private key delivered at login. A vault
// without shared folders has none, and a failed unwrap only disables share
// decryption, so both cases degrade gracefully.
func (s *Session) decryptPrivateKey(ctx context.Context) {
	if s.privateKeyHex == "" {
		return
	}
	priv, err := cryptox.DecryptPrivateKey(s.privateKeyHex, s.keys.DecryptionKey)
	if err != nil {
		s.log.Warn(ctx, "could not decrypt share private key", "err", err)
		return
	}
	s.privateKey = priv
}

// FetchBlob returns the vault blob, cached from the previous call unless
// force is set. Transient network failures are retried with capped
// exponential backoff before surfacing common.ErrNetwork.
func (s *Session) FetchBlob(ctx context.Context, force bool) (*Blob, error) {
	if !s.IsActive() {
		return nil, common.ErrNotLoggedIn
	}
	if s.blob != nil && !force {
		return s.blob, nil
	}

	form := url.Values{
		"mobile":    {"1"},
		"b64":       {"1"},
		"hash":      {"0.0"},
		"token":     {s.token},
		"sessionid": {s.sessionID},
	}

	var raw []byte
	backoff := retry.WithMaxRetries(fetchAttempts-1, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, err := s.transport.Post(ctx, "getaccts.php", form)
		if err != nil {
			return retry.RetryableError(err)
		}
		raw = body
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		// Older servers ignore b64=1 and answer with raw bytes.
		data = raw
	}

	s.blob = &Blob{Data: data, FetchedAt: time.Now()}
	return s.blob, nil
}

// Post sends an authenticated form to the server with the session token
// attached. The vault mutation layer builds on this.
func (s *Session) Post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	if !s.IsActive() {
		return nil, common.ErrNotLoggedIn
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set("token", s.token)
	form.Set("sessionid", s.sessionID)
	return s.transport.Post(ctx, path, form)
}

// MarkExpired records a server-reported session expiry; the caller should
// re-login.
func (s *Session) MarkExpired() {
	s.state = StateExpired
}

// Logout revokes the session server-side and clears local state. With
// force unset a failed revocation leaves the persisted session in place
// and returns the error; with force set local state is removed
// unconditionally. The decryption key is zeroed either way the logout
// completes.
func (s *Session) Logout(ctx context.Context, force bool) error {
	if s.token != "" {
		_, err := s.transport.Post(ctx, "logout.php", url.Values{
			"method":     {"cli"},
			"noredirect": {"1"},
			"token":      {s.token},
			"sessionid":  {s.sessionID},
		})
		if err != nil && !force {
			return fmt.Errorf("session revocation failed, local state kept: %w", err)
		}
	}

	s.removeSaved()
	if s.keys != nil {
		s.keys.Wipe()
	}
	s.keys = nil
	s.privateKey = nil
	s.privateKeyHex = ""
	s.token = ""
	s.sessionID = ""
	s.blob = nil
	s.state = StateLoggedOut
	return nil
}
