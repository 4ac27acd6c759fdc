package blob

import (
	"crypto/rsa"
	"encoding/hex"
	"fmt"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/cryptox"
)

// Chunk tags understood by the parser. Anything else is skipped by length,
// so new server-side record types never break older clients.
const (
	tagVersion    = "LPAV" // blob version marker
	tagAccount    = "ACCT" // starts an account record
	tagField      = "ACFL" // custom field of the open account
	tagAttachment = "ATTA" // attachment metadata of the open account
	tagAccountEnd = "AEND" // finalizes and emits the open account
	tagShare      = "SHAR" // shared folder definition, switches key context
)

// shareCtx is the explicit key context threaded through the scan: nil means
// fields decrypt under the master key, otherwise under the share's key.
type shareCtx struct {
	share *Share
}

func (c *shareCtx) key(master []byte) []byte {
	if c == nil {
		return master
	}
	return c.share.Key
}

type parser struct {
	masterKey  []byte
	privateKey *rsa.PrivateKey

	vault *Vault
	ctx   *shareCtx
	open  *Account // account under construction, nil between records
}

// Parse decodes a blob into a Vault, decrypting every field with the
// master decryption key or, inside a shared folder context, with that
// share's unwrapped key. privateKey may be nil for vaults without shares.
//
// Parsing is a single linear scan with no state outside the call, so
// parsing the same bytes twice yields structurally identical vaults.
func Parse(data []byte, decryptionKey []byte, privateKey *rsa.PrivateKey) (*Vault, error) {
	p := &parser{
		masterKey:  decryptionKey,
		privateKey: privateKey,
		vault: &Vault{
			accountsByID: make(map[string]*Account),
			sharesByID:   make(map[string]*Share),
		},
	}

	r := &chunkReader{buf: data}
	for r.more() {
		c, err := r.next()
		if err != nil {
			return nil, err
		}
		if err := p.dispatch(c); err != nil {
			return nil, err
		}
	}

	if p.open != nil {
		return nil, fmt.Errorf("%w: account %q has no end-of-record marker",
			common.ErrBlobFormat, p.open.ID)
	}
	return p.vault, nil
}

func (p *parser) dispatch(c chunk) error {
	switch c.tag {
	case tagVersion:
		p.vault.Version = string(c.payload)
		return nil
	case tagAccount:
		return p.parseAccount(c)
	case tagField:
		return p.parseField(c)
	case tagAttachment:
		return p.parseAttachment(c)
	case tagAccountEnd:
		return p.endAccount(c)
	case tagShare:
		return p.parseShare(c)
	default:
		// Unknown tag, skip by length.
		return nil
	}
}

func (p *parser) parseAccount(c chunk) error {
	if p.open != nil {
		return fmt.Errorf("%w: chunk %q at offset %d starts an account inside account %q",
			common.ErrBlobFormat, c.tag, c.offset, p.open.ID)
	}

	key := p.ctx.key(p.masterKey)
	r := &itemReader{c: c}

	id, err := r.next()
	if err != nil {
		return err
	}

	a := &Account{ID: string(id)}
	if p.ctx != nil {
		a.ShareID = p.ctx.share.ID
	}

	if a.Name, err = p.decryptItem(r, key); err != nil {
		return err
	}
	if a.Group, err = p.decryptItem(r, key); err != nil {
		return err
	}
	if a.URL, err = p.hexItem(r); err != nil {
		return err
	}
	if a.Notes, err = p.decryptItem(r, key); err != nil {
		return err
	}
	fav, err := r.nextOr([]byte("0"))
	if err != nil {
		return err
	}
	a.Favorite = string(fav) == "1"
	if a.Username, err = p.decryptItem(r, key); err != nil {
		return err
	}
	if a.Password, err = p.decryptItem(r, key); err != nil {
		return err
	}
	pwprotect, err := r.nextOr([]byte("0"))
	if err != nil {
		return err
	}
	a.PwProtect = string(pwprotect) == "1"

	lastTouch, err := r.nextOr(nil)
	if err != nil {
		return err
	}
	a.LastTouch = string(lastTouch)
	lastModified, err := r.nextOr(nil)
	if err != nil {
		return err
	}
	a.LastModified = string(lastModified)

	attachPresent, err := r.nextOr([]byte("0"))
	if err != nil {
		return err
	}
	a.AttachPresent = string(attachPresent) == "1"

	attachKey, err := r.nextOr(nil)
	if err != nil {
		return err
	}
	if len(attachKey) > 0 {
		plain, err := cryptox.DecryptField(attachKey, key)
		if err != nil {
			return fmt.Errorf("account %s attach key: %w", a.ID, err)
		}
		raw, err := hex.DecodeString(string(plain))
		if err != nil {
			return fmt.Errorf("%w: account %s attach key is not hex",
				common.ErrDecryption, a.ID)
		}
		a.AttachKey = raw
	}

	p.open = a
	return nil
}

func (p *parser) parseField(c chunk) error {
	if p.open == nil {
		return fmt.Errorf("%w: chunk %q at offset %d outside an account record",
			common.ErrBlobFormat, c.tag, c.offset)
	}

	key := p.ctx.key(p.masterKey)
	r := &itemReader{c: c}

	name, err := p.decryptItem(r, key)
	if err != nil {
		return err
	}
	value, err := p.decryptItem(r, key)
	if err != nil {
		return err
	}
	kind, err := r.nextOr([]byte("text"))
	if err != nil {
		return err
	}
	checked, err := r.nextOr([]byte("0"))
	if err != nil {
		return err
	}

	p.open.Fields = append(p.open.Fields, Field{
		Name:    name,
		Value:   value,
		Kind:    ParseFieldKind(string(kind)),
		Checked: string(checked) == "1",
	})
	return nil
}

func (p *parser) parseAttachment(c chunk) error {
	if p.open == nil {
		return fmt.Errorf("%w: chunk %q at offset %d outside an account record",
			common.ErrBlobFormat, c.tag, c.offset)
	}

	r := &itemReader{c: c}

	id, err := r.next()
	if err != nil {
		return err
	}
	parent, err := r.next()
	if err != nil {
		return err
	}
	mimetype, err := r.next()
	if err != nil {
		return err
	}
	size, err := r.nextOr(nil)
	if err != nil {
		return err
	}
	encName, err := r.nextOr(nil)
	if err != nil {
		return err
	}

	att := Attachment{
		ID:       string(id),
		ParentID: string(parent),
		Mimetype: string(mimetype),
		Size:     string(size),
	}

	// The filename is encrypted under the account's attachment key when one
	// exists, under the active context key otherwise.
	nameKey := p.open.AttachKey
	if len(nameKey) == 0 {
		nameKey = p.ctx.key(p.masterKey)
	}
	plain, err := cryptox.DecryptField(encName, nameKey)
	if err != nil {
		return fmt.Errorf("attachment %s filename: %w", att.ID, err)
	}
	att.Filename = string(plain)

	p.open.Attachments = append(p.open.Attachments, att)
	return nil
}

func (p *parser) endAccount(c chunk) error {
	if p.open == nil {
		return fmt.Errorf("%w: chunk %q at offset %d without an open account",
			common.ErrBlobFormat, c.tag, c.offset)
	}
	p.vault.addAccount(p.open)
	p.open = nil
	return nil
}

func (p *parser) parseShare(c chunk) error {
	if p.open != nil {
		return fmt.Errorf("%w: chunk %q at offset %d inside account %q",
			common.ErrBlobFormat, c.tag, c.offset, p.open.ID)
	}

	r := &itemReader{c: c}

	id, err := r.next()
	if err != nil {
		return err
	}
	wrappedHex, err := r.next()
	if err != nil {
		return err
	}

	wrapped, err := hex.DecodeString(string(wrappedHex))
	if err != nil {
		return fmt.Errorf("%w: share %s key is not hex", common.ErrBlobFormat, id)
	}
	shareKey, err := cryptox.UnwrapShareKey(wrapped, p.privateKey)
	if err != nil {
		return fmt.Errorf("share %s: %w", id, err)
	}

	s := &Share{ID: string(id), Key: shareKey}

	encName, err := r.next()
	if err != nil {
		return err
	}
	namePlain, err := cryptox.DecryptField(encName, shareKey)
	if err != nil {
		return fmt.Errorf("share %s name: %w", s.ID, err)
	}
	s.Name = string(namePlain)

	ro, err := r.nextOr([]byte("0"))
	if err != nil {
		return err
	}
	s.ReadOnly = string(ro) == "1"

	// Trailing items, in groups of four, describe member permissions.
	for r.more() {
		username, err := r.next()
		if err != nil {
			return err
		}
		memberRO, err := r.nextOr([]byte("0"))
		if err != nil {
			return err
		}
		admin, err := r.nextOr([]byte("0"))
		if err != nil {
			return err
		}
		hidePw, err := r.nextOr([]byte("0"))
		if err != nil {
			return err
		}
		s.Permissions = append(s.Permissions, SharePermission{
			Username:      string(username),
			ReadOnly:      string(memberRO) == "1",
			Admin:         string(admin) == "1",
			HidePasswords: string(hidePw) == "1",
		})
	}

	p.vault.addShare(s)
	p.ctx = &shareCtx{share: s}
	return nil
}

func (p *parser) decryptItem(r *itemReader, key []byte) (string, error) {
	item, err := r.nextOr(nil)
	if err != nil {
		return "", err
	}
	plain, err := cryptox.DecryptField(item, key)
	if err != nil {
		return "", fmt.Errorf("chunk %q at offset %d: %w", r.c.tag, r.c.offset, err)
	}
	return string(plain), nil
}

// hexItem reads a hex-encoded plaintext item (URLs are stored hex-encoded,
// not encrypted). Non-hex input is passed through untouched for tolerance
// of hand-migrated records.
func (p *parser) hexItem(r *itemReader) (string, error) {
	item, err := r.nextOr(nil)
	if err != nil {
		return "", err
	}
	if raw, err := hex.DecodeString(string(item)); err == nil {
		return string(raw), nil
	}
	return string(item), nil
}
