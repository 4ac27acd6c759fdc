// Package cli is the command surface of the lastvault client: one
// subcommand per invocation, lpass style. All vault logic lives in the
// inner packages; this one only parses arguments, prompts, and prints.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/avoronov/lastvault/internal/blobcache"
	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/config"
	"github.com/avoronov/lastvault/internal/httpx"
	"github.com/avoronov/lastvault/internal/logging"
	"github.com/avoronov/lastvault/internal/queue"
	"github.com/avoronov/lastvault/internal/session"
	"github.com/avoronov/lastvault/internal/vault"
)

type App struct {
	cfg    *config.Config
	log    logging.Logger
	reader *bufio.Reader
	out    io.Writer

	transport httpx.Transport
	sess      *session.Session
	svc       *vault.Service
	queue     *queue.Queue
	cache     *blobcache.Cache
}

func NewApp(cfg *config.Config) *App {
	log := logging.NewDefault()
	return &App{
		cfg:       cfg,
		log:       log,
		reader:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		transport: httpx.New(cfg.ServerHost, cfg.RequestTimeout),
	}
}

const usage = `usage: lastvault [options] <command> [args]

commands:
  login <username>     authenticate and cache the key
  logout [-f]          revoke the session (-f forces local cleanup)
  sync                 re-fetch the vault from the server
  ls [group]           list accounts, optionally one group
  groups               list group paths
  show <query>         print one account (passwords masked)
  add <name>           create an account interactively
  dup <query> [name]   duplicate an account
  edit <query>         change account fields interactively
  rm <query>           delete an account
  mv <query> <group>   move an account to another group
  generate [length]    print a random password (--no-symbols for alphanumeric)
  queue status         show pending and dead-lettered mutations
  queue drain          replay pending mutations now
  agent <start|stop|status>  manage the key-caching daemon
`

// Run dispatches the subcommand. The returned error is already
// user-readable; main turns it into the exit status.
func (app *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(app.out, usage)
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return app.cmdLogin(ctx, rest)
	case "logout":
		return app.cmdLogout(ctx, rest)
	case "sync":
		return app.cmdSync(ctx)
	case "ls":
		return app.cmdList(ctx, rest)
	case "groups":
		return app.cmdGroups(ctx)
	case "show":
		return app.cmdShow(ctx, rest)
	case "add":
		return app.cmdAdd(ctx, rest)
	case "dup":
		return app.cmdDuplicate(ctx, rest)
	case "generate":
		return app.cmdGenerate(ctx, rest)
	case "edit":
		return app.cmdEdit(ctx, rest)
	case "rm":
		return app.cmdRemove(ctx, rest)
	case "mv":
		return app.cmdMove(ctx, rest)
	case "queue":
		return app.cmdQueue(ctx, rest)
	case "agent":
		return app.cmdAgent(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(app.out, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", common.ErrInvalidInput, cmd)
	}
}

// Close releases the stores the commands may have opened.
func (app *App) Close() {
	if app.queue != nil {
		app.queue.Close()
	}
	if app.cache != nil {
		app.cache.Close()
	}
}

func (app *App) openQueue(ctx context.Context) (*queue.Queue, error) {
	if app.queue != nil {
		return app.queue, nil
	}
	q, err := queue.Open(ctx, app.cfg.QueueDB, app.log)
	if err != nil {
		return nil, err
	}
	app.queue = q
	return q, nil
}

func (app *App) openCache() (*blobcache.Cache, error) {
	if app.cache != nil {
		return app.cache, nil
	}
	c, err := blobcache.Open(app.cfg.BlobCache)
	if err != nil {
		return nil, err
	}
	app.cache = c
	return c, nil
}

// service builds the vault service over an unlocked session.
func (app *App) service(ctx context.Context) (*vault.Service, error) {
	if app.svc != nil {
		return app.svc, nil
	}
	sess, err := app.unlock(ctx)
	if err != nil {
		return nil, err
	}
	q, err := app.openQueue(ctx)
	if err != nil {
		return nil, err
	}
	app.svc = vault.NewService(sess, q, app.log)
	return app.svc, nil
}
