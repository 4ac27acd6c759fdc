package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avoronov/lastvault/internal/blob"
	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/vault"
)

// loadVault returns the parsed vault, preferring the server and falling
// back to the encrypted on-disk cache when the server is unreachable.
func (app *App) loadVault(ctx context.Context, force bool) (*blob.Vault, error) {
	svc, err := app.service(ctx)
	if err != nil {
		return nil, err
	}

	v, err := svc.Sync(ctx, force)
	if err == nil {
		app.cacheBlob(ctx)
		return v, nil
	}
	if !errors.Is(err, common.ErrNetwork) {
		return nil, err
	}

	cached, fetchedAt, cerr := app.cachedBlob()
	if cerr != nil {
		return nil, err
	}
	fmt.Fprintf(app.out, "Server unreachable, using vault cached at %s.\n",
		fetchedAt.Format("2006-01-02 15:04"))
	return cached, nil
}

// cacheBlob seals the session's last-fetched blob to disk. Best effort:
// a cache failure never fails the command that triggered the fetch.
func (app *App) cacheBlob(ctx context.Context) {
	c, err := app.openCache()
	if err != nil {
		app.log.Debug(ctx, "blob cache unavailable", "err", err)
		return
	}
	b, err := app.sess.FetchBlob(ctx, false)
	if err != nil {
		return
	}
	key := app.sess.Keys().DecryptionKey
	if err := c.Put(app.sess.Username(), b.Data, b.FetchedAt, key); err != nil {
		app.log.Warn(ctx, "could not cache vault blob", "err", err)
	}
}

func (app *App) cachedBlob() (*blob.Vault, time.Time, error) {
	c, err := app.openCache()
	if err != nil {
		return nil, time.Time{}, err
	}
	key := app.sess.Keys().DecryptionKey
	data, fetchedAt, err := c.Get(app.sess.Username(), key)
	if err != nil {
		return nil, time.Time{}, err
	}
	v, err := blob.Parse(data, key, app.sess.PrivateKey())
	if err != nil {
		return nil, time.Time{}, err
	}
	return v, fetchedAt, nil
}

func (app *App) cmdSync(ctx context.Context) error {
	svc, err := app.service(ctx)
	if err != nil {
		return err
	}
	v, err := svc.Sync(ctx, true)
	if err != nil {
		return err
	}
	app.cacheBlob(ctx)
	fmt.Fprintf(app.out, "Synced %d accounts, %d shared folders.\n",
		len(v.Accounts), len(v.Shares))
	return nil
}

func (app *App) cmdList(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: usage: lastvault ls [group]", common.ErrInvalidInput)
	}
	group := ""
	if len(args) == 1 {
		group = args[0]
	}

	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}

	accounts := vault.SearchAccounts(v, "", group)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Fullname() < accounts[j].Fullname()
	})
	for _, a := range accounts {
		line := a.Fullname()
		if a.Username != "" {
			line += " [" + a.Username + "]"
		}
		fmt.Fprintf(app.out, "%s (id: %s)\n", line, a.ID)
	}
	return nil
}

func (app *App) cmdGroups(ctx context.Context) error {
	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}
	for _, g := range vault.ListGroups(v) {
		fmt.Fprintln(app.out, g)
	}
	return nil
}

func (app *App) cmdShow(ctx context.Context, args []string) error {
	reveal := false
	if len(args) > 0 && (args[0] == "-p" || args[0] == "--password") {
		reveal = true
		args = args[1:]
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault show [-p] <query>", common.ErrInvalidInput)
	}

	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}
	acct, err := vault.FindAccount(v, args[0])
	if err != nil {
		return err
	}
	if exp := vault.ExpandNote(acct); exp != nil {
		acct = exp
	}

	password := strings.Repeat("*", len(acct.Password))
	if reveal {
		password = acct.Password
	}

	fmt.Fprintf(app.out, "%s (id: %s)\n", acct.Fullname(), acct.ID)
	fmt.Fprintf(app.out, "  Username: %s\n", acct.Username)
	fmt.Fprintf(app.out, "  Password: %s\n", password)
	if acct.URL != "" {
		fmt.Fprintf(app.out, "  URL: %s\n", acct.URL)
	}
	if acct.Notes != "" {
		fmt.Fprintf(app.out, "  Notes: %s\n", acct.Notes)
	}
	for _, f := range acct.Fields {
		fmt.Fprintf(app.out, "  %s: %s\n", f.Name, f.Value)
	}
	if len(acct.Attachments) > 0 {
		fmt.Fprintf(app.out, "  Attachments: %d\n", len(acct.Attachments))
	}
	return nil
}

func (app *App) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault add <name>", common.ErrInvalidInput)
	}

	svc, err := app.service(ctx)
	if err != nil {
		return err
	}

	d := vault.Draft{Name: args[0]}
	if d.Username, err = promptLine(app.reader, "Username", app.out); err != nil {
		return err
	}
	password, err := promptPassword("Password", app.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	d.Password = string(password)
	if d.URL, err = promptLine(app.reader, "URL", app.out); err != nil {
		return err
	}
	if d.Group, err = promptLine(app.reader, "Group", app.out); err != nil {
		return err
	}
	if d.Notes, err = promptLine(app.reader, "Notes", app.out); err != nil {
		return err
	}

	id, err := svc.AddAccount(ctx, d)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(app.out, "Server unreachable, account queued for upload.")
		return nil
	}
	fmt.Fprintf(app.out, "Added account %s (id: %s).\n", d.Name, id)
	return nil
}

func (app *App) cmdGenerate(_ context.Context, args []string) error {
	length := 16
	symbols := true
	for _, arg := range args {
		if arg == "--no-symbols" {
			symbols = false
			continue
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: usage: lastvault generate [length] [--no-symbols]",
				common.ErrInvalidInput)
		}
		length = n
	}

	password, err := vault.GeneratePassword(length, symbols)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.out, password)
	return nil
}

func (app *App) cmdDuplicate(ctx context.Context, args []string) error {
	if len(args) != 1 && len(args) != 2 {
		return fmt.Errorf("%w: usage: lastvault dup <query> [new-name]", common.ErrInvalidInput)
	}

	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}
	acct, err := vault.FindAccount(v, args[0])
	if err != nil {
		return err
	}

	newName := "Copy of " + acct.Name
	if len(args) == 2 {
		newName = args[1]
	}

	svc, err := app.service(ctx)
	if err != nil {
		return err
	}
	id, err := svc.DuplicateAccount(ctx, acct, newName)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(app.out, "Server unreachable, duplicate queued for upload.")
		return nil
	}
	fmt.Fprintf(app.out, "Duplicated %s as %s (id: %s).\n", acct.Fullname(), newName, id)
	return nil
}

func (app *App) cmdEdit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault edit <query>", common.ErrInvalidInput)
	}

	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}
	acct, err := vault.FindAccount(v, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(app.out, "Editing %s. Empty input keeps the current value.\n", acct.Fullname())

	var ch vault.Changes
	prompt := func(label, current string) (*string, error) {
		val, err := promptLine(app.reader, fmt.Sprintf("%s [%s]", label, current), app.out)
		if err != nil {
			return nil, err
		}
		if val == "" || val == current {
			return nil, nil
		}
		return &val, nil
	}

	if ch.Name, err = prompt("Name", acct.Name); err != nil {
		return err
	}
	if ch.Username, err = prompt("Username", acct.Username); err != nil {
		return err
	}
	password, err := promptPassword("Password (empty keeps current)", app.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	if len(password) > 0 {
		p := string(password)
		ch.Password = &p
	}
	if ch.URL, err = prompt("URL", acct.URL); err != nil {
		return err
	}
	if ch.Group, err = prompt("Group", acct.Group); err != nil {
		return err
	}
	if ch.Notes, err = prompt("Notes", acct.Notes); err != nil {
		return err
	}

	svc, err := app.service(ctx)
	if err != nil {
		return err
	}
	if err := svc.UpdateAccount(ctx, acct, ch); err != nil {
		if errors.Is(err, common.ErrInvalidInput) {
			fmt.Fprintln(app.out, "Nothing changed.")
			return nil
		}
		return err
	}
	fmt.Fprintf(app.out, "Updated %s.\n", acct.Fullname())
	return nil
}

func (app *App) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault rm <query>", common.ErrInvalidInput)
	}

	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}
	acct, err := vault.FindAccount(v, args[0])
	if err != nil {
		return err
	}

	answer, err := promptLine(app.reader, fmt.Sprintf("Delete %s? [y/N]", acct.Fullname()), app.out)
	if err != nil {
		return err
	}
	if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		fmt.Fprintln(app.out, "Aborted.")
		return nil
	}

	svc, err := app.service(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteAccount(ctx, acct); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Deleted %s.\n", acct.Fullname())
	return nil
}

func (app *App) cmdMove(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: usage: lastvault mv <query> <group>", common.ErrInvalidInput)
	}

	v, err := app.loadVault(ctx, false)
	if err != nil {
		return err
	}
	acct, err := vault.FindAccount(v, args[0])
	if err != nil {
		return err
	}

	svc, err := app.service(ctx)
	if err != nil {
		return err
	}
	if err := svc.MoveAccount(ctx, acct, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Moved %s to %s.\n", acct.Name, args[1])
	return nil
}

func (app *App) cmdQueue(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: lastvault queue <status|drain>", common.ErrInvalidInput)
	}

	q, err := app.openQueue(ctx)
	if err != nil {
		return err
	}

	switch args[0] {
	case "status":
		pending, err := q.Pending(ctx)
		if err != nil {
			return err
		}
		dead, err := q.DeadLetters(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "%d pending, %d dead-lettered.\n", len(pending), len(dead))
		for _, e := range pending {
			line := fmt.Sprintf("  #%d %s %s (attempts: %d", e.ID, e.Kind, e.TargetID, e.Attempts)
			if e.LastError != "" {
				line += ", last error: " + e.LastError
			}
			fmt.Fprintln(app.out, line+")")
		}
		for _, d := range dead {
			fmt.Fprintf(app.out, "  dead #%d %s %s: %s\n", d.EntryID, d.Kind, d.TargetID, d.Reason)
		}
		return nil

	case "drain":
		sess, err := app.unlock(ctx)
		if err != nil {
			return err
		}
		report, err := q.Drain(ctx, vault.NewUploader(sess))
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Applied %d, deferred %d, dead-lettered %d.\n",
			report.Applied, report.Deferred, report.DeadLettered)
		for _, e := range report.Errors {
			fmt.Fprintf(app.out, "  %v\n", e)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown queue subcommand %q", common.ErrInvalidInput, args[0])
	}
}
