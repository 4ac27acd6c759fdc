package vault

import (
	"strings"

	"github.com/avoronov/lastvault/internal/blob"
)

// secureNoteURL is the placeholder URL marking an account as a secure
// note rather than a site login.
const secureNoteURL = "http://sn"

// IsSecureNote reports whether the account is a secure note.
func IsSecureNote(acct *blob.Account) bool {
	return acct != nil && acct.URL == secureNoteURL
}

// ExpandNote parses a structured secure note's "Key:value" body into a
// new account with username, password, url, custom fields and free-form
// notes split out. Returns nil when the account is not a structured
// note, in which case callers display it as is.
//
// A "Notes:" line ends the structured section; everything after it is
// the free-form notes text. Lines without a colon, and lines whose key
// is foreign to the note's template while a multiline field (an SSH
// key, say) is open, continue the open field.
func ExpandNote(acct *blob.Account) *blob.Account {
	if !IsSecureNote(acct) || !strings.HasPrefix(acct.Notes, "NoteType:") {
		return nil
	}

	expanded := *acct
	expanded.Username = ""
	expanded.Password = ""
	expanded.URL = ""
	expanded.Notes = ""
	expanded.Fields = nil
	expanded.Attachments = append([]blob.Attachment(nil), acct.Attachments...)

	lines := strings.Split(acct.Notes, "\n")
	var tmpl *NoteTemplate
	if rest, ok := strings.CutPrefix(lines[0], "NoteType:"); ok {
		tmpl = TemplateByName(strings.TrimSpace(rest))
	}

	current := -1 // index into expanded.Fields of the open field
	for i, line := range lines {
		if line == "" && current < 0 {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "Notes:"); ok {
			notes := strings.TrimSpace(rest)
			if rem := lines[i+1:]; len(rem) > 0 {
				if notes != "" {
					notes += "\n" + strings.Join(rem, "\n")
				} else {
					notes = strings.Join(rem, "\n")
				}
			}
			expanded.Notes = strings.TrimRight(notes, "\n")
			break
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			if current >= 0 {
				expanded.Fields[current].Value += "\n" + line
			}
			continue
		}

		key := line[:idx]
		value := strings.TrimSpace(line[idx+1:])

		if tmpl != nil && current >= 0 &&
			!tmpl.HasField(key) && tmpl.IsMultiline(expanded.Fields[current].Name) {
			// A header like Proc-Type inside a PEM block, not a new field.
			expanded.Fields[current].Value += "\n" + line
			continue
		}

		switch key {
		case "Username":
			expanded.Username = value
			current = -1
		case "Password":
			expanded.Password = value
			current = -1
		case "URL":
			expanded.URL = value
			current = -1
		case "NoteType":
			// Kept as a field so collapsing restores the header.
			expanded.Fields = append(expanded.Fields,
				blob.Field{Name: key, Value: value, Kind: blob.KindText})
			current = -1
		default:
			expanded.Fields = append(expanded.Fields,
				blob.Field{Name: key, Value: value, Kind: blob.KindText})
			current = len(expanded.Fields) - 1
		}
	}

	if expanded.Username == "" && expanded.Password == "" && expanded.URL == "" &&
		expanded.Notes == "" && len(expanded.Fields) == 0 {
		expanded.Notes = acct.Notes
	}

	return &expanded
}

// CollapseNote is the inverse of ExpandNote: it folds an expanded
// account back into secure note form, with every field serialized as a
// "Key:value" line in the notes body and the URL reset to the note
// marker.
func CollapseNote(acct *blob.Account) *blob.Account {
	collapsed := *acct
	collapsed.URL = secureNoteURL
	collapsed.Username = ""
	collapsed.Password = ""
	collapsed.Fields = nil
	collapsed.Attachments = append([]blob.Attachment(nil), acct.Attachments...)

	var lines []string
	for _, f := range acct.Fields {
		if f.Name == "NoteType" {
			lines = append(lines, strings.TrimSpace(f.Name)+":"+strings.TrimSpace(f.Value))
			break
		}
	}
	for _, f := range acct.Fields {
		if f.Name != "NoteType" {
			lines = append(lines, strings.TrimSpace(f.Name)+":"+strings.TrimSpace(f.Value))
		}
	}
	if v := strings.TrimSpace(acct.Username); v != "" {
		lines = append(lines, "Username:"+v)
	}
	if v := strings.TrimSpace(acct.Password); v != "" {
		lines = append(lines, "Password:"+v)
	}
	if v := strings.TrimSpace(acct.URL); v != "" && acct.URL != secureNoteURL {
		lines = append(lines, "URL:"+v)
	}
	if v := strings.TrimSpace(acct.Notes); v != "" {
		lines = append(lines, "Notes:"+v)
	}

	collapsed.Notes = strings.Join(lines, "\n")
	return &collapsed
}
