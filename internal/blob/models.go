// Package blob decodes the server's binary vault snapshot into typed
// records, decrypting each field in place with the cipher layer.
package blob

// FieldKind classifies a custom account field. The set is closed; unknown
// type tags coming from the server degrade to KindText.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindPassword FieldKind = "password"
	KindSelect   FieldKind = "select"
	KindCheckbox FieldKind = "checkbox"
)

// ParseFieldKind maps a server type tag onto the closed FieldKind set.
func ParseFieldKind(s string) FieldKind {
	switch FieldKind(s) {
	case KindPassword, KindSelect, KindCheckbox:
		return FieldKind(s)
	default:
		return KindText
	}
}

// Field is a custom field owned by exactly one account.
type Field struct {
	Name    string
	Value   string
	Kind    FieldKind
	Checked bool
}

// Attachment is file metadata attached to an account. The binary content
// lives server-side and is fetched separately, never inline in the blob.
type Attachment struct {
	ID       string
	ParentID string
	Mimetype string
	Filename string
	Size     string
}

// SharePermission is one member's access flags within a shared folder.
type SharePermission struct {
	Username      string
	ReadOnly      bool
	Admin         bool
	HidePasswords bool
}

// Share is a shared folder with its own symmetric key, RSA-wrapped per
// member. Key holds the unwrapped 32-byte AES key after parsing.
type Share struct {
	ID          string
	Name        string
	Key         []byte
	ReadOnly    bool
	Permissions []SharePermission
}

// Account is one decrypted vault record. ShareID is a non-owning
// back-reference into Vault.Shares; accounts belong to at most one share.
type Account struct {
	ID            string
	Name          string
	Username      string
	Password      string
	URL           string
	Group         string
	Notes         string
	Favorite      bool
	PwProtect     bool
	LastTouch     string
	LastModified  string
	ShareID       string
	AttachKey     []byte
	AttachPresent bool
	Fields        []Field
	Attachments   []Attachment
}

// Fullname is the slash-joined group path plus name, the form users type
// in searches.
func (a *Account) Fullname() string {
	if a.Group == "" {
		return a.Name
	}
	return a.Group + "/" + a.Name
}

// Vault is the parsed result of one blob snapshot: an account arena plus
// an id index, and the shares referenced from it.
type Vault struct {
	Version  string
	Accounts []*Account
	Shares   []*Share

	accountsByID map[string]*Account
	sharesByID   map[string]*Share
}

// AccountByID returns the account with the given server-assigned id.
func (v *Vault) AccountByID(id string) (*Account, bool) {
	a, ok := v.accountsByID[id]
	return a, ok
}

// ShareByID resolves an account's ShareID back-reference.
func (v *Vault) ShareByID(id string) (*Share, bool) {
	s, ok := v.sharesByID[id]
	return s, ok
}

func (v *Vault) addAccount(a *Account) {
	v.Accounts = append(v.Accounts, a)
	v.accountsByID[a.ID] = a
}

func (v *Vault) addShare(s *Share) {
	v.Shares = append(v.Shares, s)
	v.sharesByID[s.ID] = s
}
