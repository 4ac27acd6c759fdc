// Package vault is the mutation and query layer over a parsed vault:
// add/edit/delete/move operations posted through the session, with
// automatic fallback to the upload queue when the server is unreachable.
// Secret values are field-encrypted before they leave this package.
package vault

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/avoronov/lastvault/internal/blob"
	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/cryptox"
	"github.com/avoronov/lastvault/internal/kdf"
	"github.com/avoronov/lastvault/internal/logging"
	"github.com/avoronov/lastvault/internal/queue"
	"github.com/avoronov/lastvault/internal/session"
)

// Session is the slice of session.Session the service needs, narrowed so
// tests can stub the network side.
type Session interface {
	IsActive() bool
	FetchBlob(ctx context.Context, force bool) (*session.Blob, error)
	Post(ctx context.Context, path string, form url.Values) ([]byte, error)
	Keys() *kdf.KeySet
	PrivateKey() *rsa.PrivateKey
}

// Service wires the session, the blob parser and the upload queue
// together.
type Service struct {
	sess  Session
	queue *queue.Queue
	log   logging.Logger

	parsed *blob.Vault
}

func NewService(sess Session, q *queue.Queue, log logging.Logger) *Service {
	return &Service{sess: sess, queue: q, log: log}
}

// Sync fetches and parses the vault blob. With force unset a previously
// parsed vault is returned as is.
func (s *Service) Sync(ctx context.Context, force bool) (*blob.Vault, error) {
	if s.parsed != nil && !force {
		return s.parsed, nil
	}

	b, err := s.sess.FetchBlob(ctx, force)
	if err != nil {
		return nil, err
	}

	v, err := blob.Parse(b.Data, s.sess.Keys().DecryptionKey, s.sess.PrivateKey())
	if err != nil {
		return nil, err
	}
	s.parsed = v
	return v, nil
}

// Draft is the plaintext input for adding an account.
type Draft struct {
	Name     string
	Username string
	Password string
	URL      string
	Notes    string
	Group    string
	Fields   map[string]string
}

// Changes carries the fields to modify on an existing account; nil means
// leave unchanged.
type Changes struct {
	Name     *string
	Username *string
	Password *string
	URL      *string
	Notes    *string
	Group    *string
}

// AddAccount creates an account on the server and returns its id. When
// the server is unreachable the operation is queued and an empty id is
// returned with a nil error; the id becomes known after the queue drains
// and the next sync.
func (s *Service) AddAccount(ctx context.Context, d Draft) (string, error) {
	if d.Name == "" {
		return "", fmt.Errorf("%w: account name is required", common.ErrInvalidInput)
	}
	if !s.sess.IsActive() {
		return "", common.ErrNotLoggedIn
	}

	key := s.sess.Keys().DecryptionKey
	form := url.Values{
		"extjs":  {"1"},
		"method": {"cr"},
	}
	if err := s.encryptInto(form, key, map[string]string{
		"name":     d.Name,
		"username": d.Username,
		"password": d.Password,
		"url":      d.URL,
		"extra":    d.Notes,
		"grouping": d.Group,
	}); err != nil {
		return "", err
	}
	for name, value := range d.Fields {
		encName, err := cryptox.EncryptFieldBase64([]byte(name), key)
		if err != nil {
			return "", err
		}
		encValue, err := cryptox.EncryptFieldBase64([]byte(value), key)
		if err != nil {
			return "", err
		}
		form.Set("customfield_"+encName, encValue)
	}

	body, err := s.sess.Post(ctx, "show_website.php", form)
	if err != nil {
		if errors.Is(err, common.ErrNetwork) {
			return "", s.deferOp(ctx, queue.OpAdd, "new-"+uuid.NewString(), "show_website.php", form)
		}
		return "", err
	}

	s.parsed = nil
	return parseAccountID(body), nil
}

// DuplicateAccount creates a copy of an existing account under a new
// name, defaulting to "Copy of <original name>". Username, password,
// url, notes, group and custom fields carry over; attachments do not.
// Returns the new account's id, subject to the same queue fallback as
// AddAccount.
func (s *Service) DuplicateAccount(ctx context.Context, acct *blob.Account, newName string) (string, error) {
	if acct == nil {
		return "", fmt.Errorf("%w: account is required", common.ErrInvalidInput)
	}
	if newName == "" {
		newName = "Copy of " + acct.Name
	}

	d := Draft{
		Name:     newName,
		Username: acct.Username,
		Password: acct.Password,
		URL:      acct.URL,
		Notes:    acct.Notes,
		Group:    acct.Group,
	}
	if len(acct.Fields) > 0 {
		d.Fields = make(map[string]string, len(acct.Fields))
		for _, f := range acct.Fields {
			d.Fields[f.Name] = f.Value
		}
	}
	return s.AddAccount(ctx, d)
}

// UpdateAccount applies changes to the account with the given id.
func (s *Service) UpdateAccount(ctx context.Context, acct *blob.Account, ch Changes) error {
	if acct == nil {
		return fmt.Errorf("%w: account is required", common.ErrInvalidInput)
	}
	if !s.sess.IsActive() {
		return common.ErrNotLoggedIn
	}

	key, form, err := s.mutationForm(acct)
	if err != nil {
		return err
	}
	form.Set("method", "save")
	form.Set("aid", acct.ID)

	fields := map[string]string{}
	setIf := func(name string, v *string) {
		if v != nil {
			fields[name] = *v
		}
	}
	setIf("name", ch.Name)
	setIf("username", ch.Username)
	setIf("password", ch.Password)
	setIf("url", ch.URL)
	setIf("extra", ch.Notes)
	setIf("grouping", ch.Group)
	if len(fields) == 0 {
		return fmt.Errorf("%w: nothing to update", common.ErrInvalidInput)
	}
	if err := s.encryptSetInto(form, key, fields); err != nil {
		return err
	}

	return s.postOrQueue(ctx, queue.OpEdit, acct.ID, form)
}

// DeleteAccount removes the account from the vault.
func (s *Service) DeleteAccount(ctx context.Context, acct *blob.Account) error {
	if acct == nil {
		return fmt.Errorf("%w: account is required", common.ErrInvalidInput)
	}
	if !s.sess.IsActive() {
		return common.ErrNotLoggedIn
	}

	form := url.Values{
		"extjs":  {"1"},
		"delete": {"1"},
		"aid":    {acct.ID},
	}
	if acct.ShareID != "" {
		form.Set("sharedfolderid", acct.ShareID)
	}

	return s.postOrQueue(ctx, queue.OpDelete, acct.ID, form)
}

// MoveAccount reassigns the account's group path.
func (s *Service) MoveAccount(ctx context.Context, acct *blob.Account, newGroup string) error {
	if acct == nil {
		return fmt.Errorf("%w: account is required", common.ErrInvalidInput)
	}
	if !s.sess.IsActive() {
		return common.ErrNotLoggedIn
	}

	key, form, err := s.mutationForm(acct)
	if err != nil {
		return err
	}
	form.Set("method", "save")
	form.Set("aid", acct.ID)
	if err := s.encryptSetInto(form, key, map[string]string{"grouping": newGroup}); err != nil {
		return err
	}

	return s.postOrQueue(ctx, queue.OpMove, acct.ID, form)
}

// mutationForm seeds the show_website form and picks the encryption key:
// accounts inside a shared folder encrypt under the share key.
func (s *Service) mutationForm(acct *blob.Account) ([]byte, url.Values, error) {
	form := url.Values{"extjs": {"1"}}
	key := s.sess.Keys().DecryptionKey
	if acct.ShareID != "" {
		form.Set("sharedfolderid", acct.ShareID)
		share := s.shareByID(acct.ShareID)
		if share == nil || share.Key == nil {
			return nil, nil, fmt.Errorf("%w: share key unavailable for %s",
				common.ErrDecryption, acct.ShareID)
		}
		key = share.Key
	}
	return key, form, nil
}

func (s *Service) shareByID(id string) *blob.Share {
	if s.parsed == nil {
		return nil
	}
	share, ok := s.parsed.ShareByID(id)
	if !ok {
		return nil
	}
	return share
}

// encryptInto encrypts non-empty values into the form; empty values are
// sent as empty strings, matching the server's convention.
func (s *Service) encryptInto(form url.Values, key []byte, fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			form.Set(name, "")
			continue
		}
		enc, err := cryptox.EncryptFieldBase64([]byte(value), key)
		if err != nil {
			return err
		}
		form.Set(name, enc)
	}
	return nil
}

// encryptSetInto encrypts every given value including empty ones, used by
// updates where an explicit empty means "clear the field".
func (s *Service) encryptSetInto(form url.Values, key []byte, fields map[string]string) error {
	for name, value := range fields {
		enc, err := cryptox.EncryptFieldBase64([]byte(value), key)
		if err != nil {
			return err
		}
		form.Set(name, enc)
	}
	return nil
}

func (s *Service) postOrQueue(ctx context.Context, kind queue.OpKind, targetID string, form url.Values) error {
	_, err := s.sess.Post(ctx, "show_website.php", form)
	if err != nil {
		if errors.Is(err, common.ErrNetwork) {
			return s.deferOp(ctx, kind, targetID, "show_website.php", form)
		}
		return err
	}
	s.parsed = nil
	return nil
}

// deferOp queues the already-encrypted form for later replay. The caller
// treats a nil return as the operation accepted for eventual delivery.
func (s *Service) deferOp(ctx context.Context, kind queue.OpKind, targetID, path string, form url.Values) error {
	if s.queue == nil {
		return fmt.Errorf("%w: server unreachable and no queue configured", common.ErrNetwork)
	}
	payload, err := encodePendingOp(path, form)
	if err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, kind, targetID, payload); err != nil {
		return err
	}
	s.log.Info(ctx, "server unreachable, mutation queued", "kind", kind, "target", targetID)
	return nil
}
