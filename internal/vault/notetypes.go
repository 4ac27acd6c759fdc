package vault

import "strings"

// NoteTemplate describes one structured secure note kind: its display
// name, the fields it carries, and which of those fields may span
// multiple lines.
type NoteTemplate struct {
	Shortname string
	Name      string
	Fields    []string
	Multiline []string
}

// HasField reports whether name is one of the template's fields.
func (t *NoteTemplate) HasField(name string) bool {
	for _, f := range t.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// IsMultiline reports whether the named field may span multiple lines.
func (t *NoteTemplate) IsMultiline(name string) bool {
	for _, f := range t.Multiline {
		if f == name {
			return true
		}
	}
	return false
}

// TemplateByName resolves a template by its full display name,
// case-insensitively. Returns nil for unknown names.
func TemplateByName(name string) *NoteTemplate {
	for i := range noteTemplates {
		if strings.EqualFold(noteTemplates[i].Name, name) {
			return &noteTemplates[i]
		}
	}
	return nil
}

// TemplateByShortname resolves a template by its shortname,
// case-insensitively. Returns nil for unknown shortnames.
func TemplateByShortname(short string) *NoteTemplate {
	for i := range noteTemplates {
		if strings.EqualFold(noteTemplates[i].Shortname, short) {
			return &noteTemplates[i]
		}
	}
	return nil
}

// NoteTemplates lists every known secure note template.
func NoteTemplates() []NoteTemplate {
	return append([]NoteTemplate(nil), noteTemplates...)
}

var paymentCardFields = []string{
	"Name on Card",
	"Type",
	"Number",
	"Security Code",
	"Start Date",
	"Expiration Date",
	"Name",
	"Address",
	"City / Town",
	"State",
	"ZIP / Postal Code",
	"Country",
	"Telephone",
}

var noteTemplates = []NoteTemplate{
	{
		Shortname: "generic",
		Name:      "Generic",
	},
	{
		Shortname: "amex",
		Name:      "American Express",
		Fields:    paymentCardFields,
	},
	{
		Shortname: "bank",
		Name:      "Bank Account",
		Fields: []string{
			"Bank Name",
			"Account Type",
			"Routing Number",
			"Account Number",
			"SWIFT Code",
			"IBAN Number",
			"Pin",
			"Branch Address",
			"Branch Phone",
		},
	},
	{
		Shortname: "creditcard",
		Name:      "Credit Card",
		Fields:    paymentCardFields,
	},
	{
		Shortname: "database",
		Name:      "Database",
		Fields: []string{
			"Type",
			"Hostname",
			"Port",
			"Database",
			"Username",
			"Password",
			"SID",
			"Alias",
		},
	},
	{
		Shortname: "driverslicense",
		Name:      "Driver's License",
		Fields: []string{
			"Number",
			"Expiration Date",
			"License Class",
			"Name",
			"Address",
			"City / Town",
			"State",
			"ZIP / Postal Code",
			"Country",
			"Date of Birth",
			"Sex",
			"Height",
		},
	},
	{
		Shortname: "email",
		Name:      "Email Account",
		Fields: []string{
			"Username",
			"Password",
			"Server",
			"Port",
			"Type",
			"SMTP Server",
			"SMTP Port",
		},
	},
	{
		Shortname: "health-insurance",
		Name:      "Health Insurance",
		Fields: []string{
			"Company",
			"Company Phone",
			"Policy Type",
			"Policy Number",
			"Group ID",
			"Member Name",
			"Member ID",
			"Physician Name",
			"Physician Phone",
			"Physician Address",
			"Co-pay",
		},
	},
	{
		Shortname: "im",
		Name:      "Instant Messenger",
		Fields: []string{
			"Type",
			"Username",
			"Password",
			"Server",
			"Port",
		},
	},
	{
		Shortname: "insurance",
		Name:      "Insurance",
		Fields: []string{
			"Company",
			"Policy Type",
			"Policy Number",
			"Expiration",
			"Agent Name",
			"Agent Phone",
			"URL",
			"Username",
			"Password",
		},
	},
	{
		Shortname: "mastercard",
		Name:      "Mastercard",
		Fields:    paymentCardFields,
	},
	{
		Shortname: "membership",
		Name:      "Membership",
		Fields: []string{
			"Organization",
			"Membership Number",
			"Member Name",
			"Start Date",
			"Expiration Date",
			"Website",
			"Telephone",
			"Password",
		},
	},
	{
		Shortname: "passport",
		Name:      "Passport",
		Fields: []string{
			"Type",
			"Name",
			"Country",
			"Number",
			"Sex",
			"Nationality",
			"Issuing Authority",
			"Date of Birth",
			"Issued Date",
			"Expiration Date",
		},
	},
	{
		Shortname: "server",
		Name:      "Server",
		Fields: []string{
			"Hostname",
			"Username",
			"Password",
		},
	},
	{
		Shortname: "software-license",
		Name:      "Software License",
		Fields: []string{
			"License Key",
			"Licensee",
			"Version",
			"Publisher",
			"Support Email",
			"Website",
			"Price",
			"Purchase Date",
			"Order Number",
			"Number of Licenses",
			"Order Total",
		},
	},
	{
		Shortname: "sshkey",
		Name:      "SSH Key",
		Fields: []string{
			"Bit Strength",
			"Format",
			"Passphrase",
			"Private Key",
			"Public Key",
			"Hostname",
			"Date",
		},
		Multiline: []string{"Private Key", "Public Key"},
	},
	{
		Shortname: "ssn",
		Name:      "Social Security",
		Fields: []string{
			"Name",
			"Number",
		},
	},
	{
		Shortname: "visa",
		Name:      "VISA",
		Fields:    paymentCardFields,
	},
	{
		Shortname: "wifi",
		Name:      "WiFi Password",
		Fields: []string{
			"SSID",
			"Password",
			"Connection Type",
			"Connection Mode",
			"Authentication",
			"Encryption",
			"Use 802.1X",
			"FIPS Mode",
			"Key Type",
			"Protected",
			"Key Index",
		},
	},
}
