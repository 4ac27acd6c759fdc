package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	keyringlib "github.com/zalando/go-keyring"

	"github.com/avoronov/lastvault/internal/agent"
	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/config"
	"github.com/avoronov/lastvault/internal/logging"
)

// Derived key for ("user@example.com", "correct", 100100).
const fixtureKeyHex = "196eb5f036e485f3f996e7fbc45fb233a9c1325b6b0f23cf7d960f56c01da9f2"

// CBC-raw ciphertext of "GitHub" under the fixture key.
const gitHubNameHex = "21000102030405060708090a0b0c0d0e0fa9de0ecce0133c1f3cf1655bf5449cf4"

// fakeTransport scripts responses per endpoint path.
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

// TestMain swaps in the in-memory keyring once for the whole package;
// per-test MockInit calls would reset the store between the apps a test
// builds.
func TestMain(m *testing.M) {
	keyringlib.MockInit()
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ServerHost:     "vault.example.com",
		RequestTimeout: time.Second,
		SessionFile:    filepath.Join(dir, "session"),
		QueueDB:        filepath.Join(dir, "queue.db"),
		BlobCache:      filepath.Join(dir, "blobs.db"),
		AgentSocket:    filepath.Join(dir, "agent.sock"),
		AgentTimeout:   time.Hour,
		AgentDisabled:  true,
	}
}

// newTestApp builds an App over a scripted transport, an in-memory
// keyring, and scripted terminal input. The password prompt always
// answers "correct".
func newTestApp(t *testing.T, cfg *config.Config, tr *fakeTransport, input string) (*App, *bytes.Buffer) {
	t.Helper()

	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("correct"), nil }
	t.Cleanup(func() { readPassword = orig })

	out := &bytes.Buffer{}
	app := NewApp(cfg)
	app.reader = bufio.NewReader(strings.NewReader(input))
	app.out = out
	app.transport = tr
	t.Cleanup(app.Close)
	return app, out
}

func scriptLogin(tr *fakeTransport) {
	tr.onPost("iterations.php", func(url.Values) ([]byte, error) {
		return []byte("100100"), nil
	})
	tr.onPost("login.php", func(url.Values) ([]byte, error) {
		return []byte(`<response><ok token="tok123" sessionid="sid456"/></response>`), nil
	})
}

// blob fixture helpers, mirroring the wire chunk layout.

func chunkBytes(tag string, payload []byte) []byte {
	out := []byte(tag)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(payload)))
	out = append(out, n[:]...)
	return append(out, payload...)
}

func itemBytes(data []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	return append(n[:], data...)
}

func gitHubBlob(t *testing.T) []byte {
	t.Helper()
	name, err := hex.DecodeString(gitHubNameHex)
	require.NoError(t, err)

	var acct []byte
	items := [][]byte{
		[]byte("4242"), // id
		name,           // name
		nil,            // group
		[]byte(hex.EncodeToString([]byte("https://github.com"))), // url
		nil, []byte("0"), nil, nil, []byte("0"), // notes, fav, username, password, pwprotect
	}
	for _, it := range items {
		acct = append(acct, itemBytes(it)...)
	}

	data := chunkBytes("LPAV", []byte("22"))
	data = append(data, chunkBytes("ACCT", acct)...)
	data = append(data, chunkBytes("AEND", nil)...)
	return data
}

func scriptVault(t *testing.T, tr *fakeTransport) {
	blobData := gitHubBlob(t)
	tr.onPost("getaccts.php", func(url.Values) ([]byte, error) {
		return blobData, nil
	})
}

func login(t *testing.T, app *App) {
	t.Helper()
	require.NoError(t, app.Run(context.Background(), []string{"login", "user@example.com"}))
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), newFakeTransport(), "")
	require.NoError(t, app.Run(context.Background(), nil))
	assert.Contains(t, out.String(), "usage: lastvault")
}

func TestRun_UnknownCommand(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), newFakeTransport(), "")
	err := app.Run(context.Background(), []string{"frobnicate"})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestCommandsRequireLogin(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), newFakeTransport(), "")
	err := app.Run(context.Background(), []string{"ls"})
	assert.True(t, errors.Is(err, common.ErrNotLoggedIn))
}

func TestLoginThenList(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)

	app, out := newTestApp(t, testConfig(t), tr, "")
	login(t, app)
	assert.Contains(t, out.String(), "Logged in as user@example.com")

	require.NoError(t, app.Run(context.Background(), []string{"ls"}))
	assert.Contains(t, out.String(), "GitHub (id: 4242)")
}

func TestShow_ById(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)

	app, out := newTestApp(t, testConfig(t), tr, "")
	login(t, app)

	require.NoError(t, app.Run(context.Background(), []string{"show", "4242"}))
	assert.Contains(t, out.String(), "GitHub (id: 4242)")
	assert.Contains(t, out.String(), "URL: https://github.com")
}

func TestShow_NoMatch(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)

	app, _ := newTestApp(t, testConfig(t), tr, "")
	login(t, app)

	err := app.Run(context.Background(), []string{"show", "nonexistent"})
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestList_OfflineFallsBackToCache(t *testing.T) {
	cfg := testConfig(t)

	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)

	app, _ := newTestApp(t, cfg, tr, "")
	login(t, app)
	// ls fetches and seals the blob into the on-disk cache.
	require.NoError(t, app.Run(context.Background(), []string{"ls"}))
	app.Close()

	// Fresh process: key comes from the keyring, session from disk, and
	// the server is down.
	offline := newFakeTransport()
	offline.onPost("getaccts.php", func(url.Values) ([]byte, error) {
		return nil, fmt.Errorf("%w: connection refused", common.ErrNetwork)
	})
	app2, out2 := newTestApp(t, cfg, offline, "")

	require.NoError(t, app2.Run(context.Background(), []string{"ls"}))
	assert.Contains(t, out2.String(), "using vault cached at")
	assert.Contains(t, out2.String(), "GitHub (id: 4242)")
}

func TestAdd_Interactive(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	tr.onPost("show_website.php", func(form url.Values) ([]byte, error) {
		if form.Get("method") != "cr" {
			return nil, fmt.Errorf("unexpected method %q", form.Get("method"))
		}
		return []byte(`{"aid":"777"}`), nil
	})

	// Prompts: username, url, group, notes. Password comes from the seam.
	input := "alice\nhttps://new.example.com\nWork\nsome note\n"
	app, out := newTestApp(t, testConfig(t), tr, input)
	login(t, app)

	require.NoError(t, app.Run(context.Background(), []string{"add", "NewSite"}))
	assert.Contains(t, out.String(), "Added account NewSite (id: 777)")
}

func TestDuplicate(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)
	tr.onPost("show_website.php", func(form url.Values) ([]byte, error) {
		if form.Get("method") != "cr" {
			return nil, fmt.Errorf("unexpected duplicate form: %v", form)
		}
		return []byte(`{"aid":"888"}`), nil
	})

	app, out := newTestApp(t, testConfig(t), tr, "")
	login(t, app)

	require.NoError(t, app.Run(context.Background(), []string{"dup", "GitHub"}))
	assert.Contains(t, out.String(), "Duplicated GitHub as Copy of GitHub (id: 888)")
}

func TestGenerate(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), newFakeTransport(), "")

	require.NoError(t, app.Run(context.Background(), []string{"generate", "24"}))
	assert.Len(t, strings.TrimSpace(out.String()), 24)

	err := app.Run(context.Background(), []string{"generate", "zero"})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestRemove_Aborted(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)

	app, out := newTestApp(t, testConfig(t), tr, "n\n")
	login(t, app)

	require.NoError(t, app.Run(context.Background(), []string{"rm", "GitHub"}))
	assert.Contains(t, out.String(), "Aborted.")
	assert.Zero(t, tr.calls["show_website.php"])
}

func TestRemove_Confirmed(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	scriptVault(t, tr)
	tr.onPost("show_website.php", func(form url.Values) ([]byte, error) {
		if form.Get("delete") != "1" || form.Get("aid") != "4242" {
			return nil, fmt.Errorf("unexpected delete form: %v", form)
		}
		return []byte("{}"), nil
	})

	app, out := newTestApp(t, testConfig(t), tr, "y\n")
	login(t, app)

	require.NoError(t, app.Run(context.Background(), []string{"rm", "GitHub"}))
	assert.Contains(t, out.String(), "Deleted GitHub.")
	assert.Equal(t, 1, tr.calls["show_website.php"])
}

func TestQueueStatus_Empty(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), newFakeTransport(), "")
	require.NoError(t, app.Run(context.Background(), []string{"queue", "status"}))
	assert.Contains(t, out.String(), "0 pending, 0 dead-lettered.")
}

func TestLogout_ClearsKeyring(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)
	tr.onPost("logout.php", func(url.Values) ([]byte, error) {
		return []byte("ok"), nil
	})

	app, out := newTestApp(t, testConfig(t), tr, "")
	login(t, app)

	require.NoError(t, app.Run(context.Background(), []string{"logout"}))
	assert.Contains(t, out.String(), "Logged out.")

	_, err := keyringlib.Get("lastvault", "user@example.com")
	assert.True(t, errors.Is(err, keyringlib.ErrNotFound))
}

func TestLogout_ForceWithoutSession(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), newFakeTransport(), "")
	require.NoError(t, app.Run(context.Background(), []string{"logout", "-f"}))
	assert.Contains(t, out.String(), "Logged out.")
}

func TestLogout_ForceRemovesLocalStateWhenUnlockFails(t *testing.T) {
	tr := newFakeTransport()
	scriptLogin(tr)

	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg, tr, "")
	login(t, app)

	// Losing the cached key makes unlock fail, but a forced logout must
	// still wipe the session file and the saved username.
	require.NoError(t, keyringlib.Delete("lastvault", "user@example.com"))

	app2, out := newTestApp(t, cfg, tr, "")
	require.NoError(t, app2.Run(context.Background(), []string{"logout", "-f"}))
	assert.Contains(t, out.String(), "Logged out.")

	_, err := os.Stat(cfg.SessionFile)
	assert.True(t, errors.Is(err, os.ErrNotExist), "session file survives forced logout")
	_, err = os.Stat(cfg.SessionFile + ".user")
	assert.True(t, errors.Is(err, os.ErrNotExist), "saved username survives forced logout")
}

func TestAgentStatus_NotRunning(t *testing.T) {
	app, out := newTestApp(t, testConfig(t), newFakeTransport(), "")
	require.NoError(t, app.Run(context.Background(), []string{"agent", "status"}))
	assert.Contains(t, out.String(), "Agent not running.")
}

func TestAgentStatusAndStop_Running(t *testing.T) {
	cfg := testConfig(t)

	srv, err := agent.NewServer(cfg.AgentSocket, logging.NewDefault())
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	app, out := newTestApp(t, cfg, newFakeTransport(), "")
	require.NoError(t, app.Run(context.Background(), []string{"agent", "status"}))
	assert.Contains(t, out.String(), "Agent running, no key cached.")

	require.NoError(t, app.Run(context.Background(), []string{"agent", "stop"}))
	assert.Contains(t, out.String(), "Agent stopped.")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit after stop")
	}
}
