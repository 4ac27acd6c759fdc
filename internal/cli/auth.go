package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/avoronov/lastvault/internal/agent"
	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/keyring"
	"github.com/avoronov/lastvault/internal/session"
)

// unlock restores an authenticated session without prompting when it can:
// a cached key from the agent (or the OS keyring when the agent is
// disabled) opens the persisted session file. Otherwise it falls back to
// an interactive login.
func (app *App) unlock(ctx context.Context) (*session.Session, error) {
	if app.sess != nil && app.sess.IsActive() {
		return app.sess, nil
	}

	if username, keyHex, err := app.cachedKey(ctx); err == nil {
		key, err := hex.DecodeString(keyHex)
		if err == nil {
			sess, err := session.Load(app.transport, app.cfg.SessionFile, key, app.log)
			if err == nil {
				app.sess = sess
				return sess, nil
			}
			app.log.Debug(ctx, "cached key did not open a session", "username", username, "err", err)
		}
	}

	return nil, fmt.Errorf("%w: run `lastvault login <username>`", common.ErrNotLoggedIn)
}

// cachedKey asks the agent first, then the keyring when the agent is
// disabled by configuration.
func (app *App) cachedKey(ctx context.Context) (username, keyHex string, err error) {
	if !app.cfg.AgentDisabled {
		c, err := agent.Dial(app.cfg.AgentSocket)
		if err != nil {
			return "", "", err
		}
		cached, err := c.GetKey(ctx)
		if err != nil {
			return "", "", err
		}
		return cached.Username, cached.KeyHex, nil
	}

	username, err = app.savedUsername()
	if err != nil {
		return "", "", err
	}
	keyHex, err = keyring.GetKey(username)
	return username, keyHex, err
}

// savedUsername remembers who logged in last, so keyring lookup works
// without arguments. Stored next to the session file.
func (app *App) savedUsername() (string, error) {
	data, err := os.ReadFile(app.cfg.SessionFile + ".user")
	if err != nil {
		return "", common.ErrNotCached
	}
	return strings.TrimSpace(string(data)), nil
}

func (app *App) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault login <username>", common.ErrInvalidInput)
	}
	username := args[0]

	password, err := promptPassword("Master password", app.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	sess := session.New(app.transport, app.cfg.SessionFile, app.log)
	creds := session.Credentials{
		Username: username,
		Password: string(password),
		Trust:    app.cfg.TrustDevice,
	}

	err = sess.Login(ctx, creds)
	if errors.Is(err, common.ErrOtpRequired) {
		creds.OTP, err = promptLine(app.reader, "One-time password", app.out)
		if err != nil {
			return err
		}
		err = sess.Login(ctx, creds)
	}
	if err != nil {
		return err
	}

	app.sess = sess
	app.cacheKey(ctx, sess)

	if err := os.WriteFile(app.cfg.SessionFile+".user", []byte(sess.Username()), 0o600); err != nil {
		app.log.Warn(ctx, "could not record username", "err", err)
	}

	fmt.Fprintf(app.out, "Logged in as %s.\n", sess.Username())
	return nil
}

// cacheKey hands the decryption key to the agent, or to the OS keyring
// when the agent is disabled. Failure to cache never fails the login.
func (app *App) cacheKey(ctx context.Context, sess *session.Session) {
	keyHex := sess.KeyHex()
	if keyHex == "" {
		return
	}

	if app.cfg.AgentDisabled {
		if err := keyring.SaveKey(sess.Username(), keyHex); err != nil {
			app.log.Warn(ctx, "could not store key in keyring", "err", err)
		}
		return
	}

	c, err := agent.Dial(app.cfg.AgentSocket)
	if err != nil {
		app.log.Debug(ctx, "no agent running, key not cached", "err", err)
		return
	}
	if err := c.SetKey(ctx, sess.Username(), keyHex, app.cfg.AgentTimeout); err != nil {
		app.log.Warn(ctx, "could not hand key to agent", "err", err)
	}
}

func (app *App) cmdLogout(ctx context.Context, args []string) error {
	force := len(args) == 1 && (args[0] == "-f" || args[0] == "--force")

	sess, err := app.unlock(ctx)
	if err != nil {
		if !force {
			return err
		}
		sess = nil
	}

	username := ""
	if sess != nil {
		username = sess.Username()
		if err := sess.Logout(ctx, force); err != nil {
			return err
		}
	} else if u, err := app.savedUsername(); err == nil {
		username = u
	}

	// With force, local state goes away even when no session could be
	// opened. sess.Logout already removed the session file otherwise.
	if sess == nil {
		if err := os.Remove(app.cfg.SessionFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			app.log.Warn(ctx, "could not remove session file", "err", err)
		}
	}
	if err := os.Remove(app.cfg.SessionFile + ".user"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		app.log.Warn(ctx, "could not remove saved username", "err", err)
	}

	if username != "" {
		if err := app.dropCachedKey(ctx, username); err != nil {
			app.log.Warn(ctx, "could not clear cached key", "err", err)
		}
		if c, err := app.openCache(); err == nil {
			_ = c.Delete(username)
		}
	}

	fmt.Fprintln(app.out, "Logged out.")
	return nil
}

func (app *App) dropCachedKey(ctx context.Context, username string) error {
	if app.cfg.AgentDisabled {
		return keyring.DeleteKey(username)
	}
	c, err := agent.Dial(app.cfg.AgentSocket)
	if err != nil {
		return nil // no agent, nothing cached
	}
	err = c.ClearKey(ctx)
	if errors.Is(err, common.ErrNotCached) {
		return nil
	}
	return err
}
