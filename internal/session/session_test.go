package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/logging"
)

// fakeTransport scripts responses per endpoint path and records calls.
type fakeTransport struct {
	responses map[string]func(form url.Values) ([]byte, error)
	calls     map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]func(url.Values) ([]byte, error)),
		calls:     make(map[string]int),
	}
}

func (f *fakeTransport) Post(_ context.Context, path string, form url.Values) ([]byte, error) {
	f.calls[path]++
	h, ok := f.responses[path]
	if !ok {
		return nil, fmt.Errorf("%w: unexpected call to %s", common.ErrNetwork, path)
	}
	return h(form)
}

func (f *fakeTransport) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return f.Post(ctx, path, params)
}

func (f *fakeTransport) onPost(path string, h func(url.Values) ([]byte, error)) {
	f.responses[path] = h
}

func okLogin() []byte {
	return []byte(`<response><ok token="tok123" sessionid="sid456"/></response>`)
}

func testLogger() logging.Logger { return logging.NewDefault() }

func loginTestSession(t *testing.T, tr *fakeTransport) *Session {
	t.Helper()
	tr.onPost("iterations.php", func(url.Values) ([]byte, error) {
		return []byte("100100"), nil
	})
	return New(tr, filepath.Join(t.TempDir(), "session"), testLogger())
}

func TestLogin_Success(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)

	tr.onPost("login.php", func(form url.Values) ([]byte, error) {
		assert.Equal(t, "user@example.com", form.Get("username"))
		assert.Equal(t, "100100", form.Get("iterations"))
		// Golden login hash for ("user@example.com", "correct", 100100).
		assert.Equal(t,
			"6c2c7ef88cb85f4b218ba2cb9f772e57dfd4e133473a65b810da21c401eb4760",
			form.Get("hash"))
		return okLogin(), nil
	})

	err := s.Login(context.Background(), Credentials{
		Username: "user@example.com",
		Password: "correct",
	})
	require.NoError(t, err)

	assert.Equal(t, StateActive, s.State())
	assert.True(t, s.IsActive())
	assert.Equal(t, "tok123", s.Token())
	assert.Equal(t, 100100, s.Iterations())
}

func TestLogin_UsernameNormalized(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)

	tr.onPost("login.php", func(form url.Values) ([]byte, error) {
		assert.Equal(t, "user@example.com", form.Get("username"))
		return okLogin(), nil
	})

	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "User@Example.COM",
		Password: "correct",
	}))
	assert.Equal(t, "user@example.com", s.Username())
}

func TestLogin_OtpRequiredThenSuccess(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)

	tr.onPost("login.php", func(form url.Values) ([]byte, error) {
		if form.Get("otp") == "" {
			return []byte(`<response><error message="OTP needed" cause="otprequired"/></response>`), nil
		}
		assert.Equal(t, "123456", form.Get("otp"))
		return okLogin(), nil
	})

	creds := Credentials{Username: "user@example.com", Password: "correct"}
	err := s.Login(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrOtpRequired))
	assert.Equal(t, StateUnauthenticated, s.State())

	creds.OTP = "123456"
	require.NoError(t, s.Login(context.Background(), creds))
	assert.Equal(t, StateActive, s.State())
}

func TestLogin_FailureCarriesServerReason(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)

	tr.onPost("login.php", func(url.Values) ([]byte, error) {
		return []byte(`<response><error message="Invalid password!" cause="unknownpassword"/></response>`), nil
	})

	err := s.Login(context.Background(), Credentials{
		Username: "user@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrLoginFailed))
	assert.Contains(t, err.Error(), "Invalid password!")
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestFetchBlob_CachesUntilForced(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)
	tr.onPost("login.php", func(url.Values) ([]byte, error) { return okLogin(), nil })

	payload := []byte("rawblobbytes")
	tr.onPost("getaccts.php", func(form url.Values) ([]byte, error) {
		assert.Equal(t, "tok123", form.Get("token"))
		return []byte(base64.StdEncoding.EncodeToString(payload)), nil
	})

	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "user@example.com", Password: "correct",
	}))

	b1, err := s.FetchBlob(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, payload, b1.Data)
	assert.Equal(t, 1, tr.calls["getaccts.php"])

	b2, err := s.FetchBlob(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, tr.calls["getaccts.php"], "cached fetch must not hit the network")

	_, err = s.FetchBlob(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.calls["getaccts.php"])
}

func TestFetchBlob_RetriesTransientFailures(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)
	tr.onPost("login.php", func(url.Values) ([]byte, error) { return okLogin(), nil })

	fails := 2
	tr.onPost("getaccts.php", func(url.Values) ([]byte, error) {
		if fails > 0 {
			fails--
			return nil, fmt.Errorf("%w: connection reset", common.ErrNetwork)
		}
		return []byte(base64.StdEncoding.EncodeToString([]byte("blob"))), nil
	})

	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "user@example.com", Password: "correct",
	}))

	b, err := s.FetchBlob(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(b.Data))
	assert.Equal(t, 3, tr.calls["getaccts.php"])
}

func TestFetchBlob_SurfacesNetworkErrorAfterCap(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)
	tr.onPost("login.php", func(url.Values) ([]byte, error) { return okLogin(), nil })
	tr.onPost("getaccts.php", func(url.Values) ([]byte, error) {
		return nil, fmt.Errorf("%w: connection reset", common.ErrNetwork)
	})

	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "user@example.com", Password: "correct",
	}))

	_, err := s.FetchBlob(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNetwork))
	assert.Equal(t, 3, tr.calls["getaccts.php"], "retries are attempt-capped")
}

func TestFetchBlob_RequiresActiveSession(t *testing.T) {
	s := New(newFakeTransport(), "", testLogger())
	_, err := s.FetchBlob(context.Background(), false)
	assert.True(t, errors.Is(err, common.ErrNotLoggedIn))
}

func TestLogout_WipesKeysAndState(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)
	tr.onPost("login.php", func(url.Values) ([]byte, error) { return okLogin(), nil })
	tr.onPost("logout.php", func(url.Values) ([]byte, error) { return []byte("ok"), nil })

	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "user@example.com", Password: "correct",
	}))
	key := append([]byte(nil), s.Keys().DecryptionKey...)
	require.NotEmpty(t, key)

	require.NoError(t, s.Logout(context.Background(), false))
	assert.Equal(t, StateLoggedOut, s.State())
	assert.Nil(t, s.Keys())
	assert.Empty(t, s.Token())
}

func TestLogout_RevocationFailureKeepsState(t *testing.T) {
	tr := newFakeTransport()
	s := loginTestSession(t, tr)
	tr.onPost("login.php", func(url.Values) ([]byte, error) { return okLogin(), nil })
	tr.onPost("logout.php", func(url.Values) ([]byte, error) {
		return nil, fmt.Errorf("%w: timeout", common.ErrNetwork)
	})

	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "user@example.com", Password: "correct",
	}))

	err := s.Logout(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, StateActive, s.State(), "deferred deletion keeps the session")

	// force=true wipes locally even though revocation still fails.
	require.NoError(t, s.Logout(context.Background(), true))
	assert.Equal(t, StateLoggedOut, s.State())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tr := newFakeTransport()
	path := filepath.Join(t.TempDir(), "session")

	tr.onPost("iterations.php", func(url.Values) ([]byte, error) {
		return []byte("100100"), nil
	})
	tr.onPost("login.php", func(url.Values) ([]byte, error) { return okLogin(), nil })

	s := New(tr, path, testLogger())
	require.NoError(t, s.Login(context.Background(), Credentials{
		Username: "user@example.com", Password: "correct",
	}))
	key := append([]byte(nil), s.Keys().DecryptionKey...)

	loaded, err := Load(tr, path, key, testLogger())
	require.NoError(t, err)
	assert.Equal(t, StateActive, loaded.State())
	assert.Equal(t, "tok123", loaded.Token())
	assert.Equal(t, "user@example.com", loaded.Username())
	assert.Equal(t, 100100, loaded.Iterations())

	// Wrong key must not open the state file.
	_, err = Load(tr, path, make([]byte, 32), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDecryption))

	// Missing file is reported as not found.
	_, err = Load(tr, filepath.Join(t.TempDir(), "absent"), key, testLogger())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
