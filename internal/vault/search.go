package vault

import (
	"fmt"
	"sort"
	"strings"

	"github.com/avoronov/lastvault/internal/blob"
	"github.com/avoronov/lastvault/internal/common"
)

// SearchAccounts matches query against id, name, full name, username and
// url. An exact id match wins outright; everything else is a
// case-insensitive substring match. group, when non-empty, filters by
// exact group path.
func SearchAccounts(v *blob.Vault, query, group string) []*blob.Account {
	q := strings.ToLower(query)

	var matches []*blob.Account
	for _, acct := range v.Accounts {
		if group != "" && acct.Group != group {
			continue
		}
		if query != "" && acct.ID == query {
			return []*blob.Account{acct}
		}
		if strings.Contains(strings.ToLower(acct.Name), q) ||
			strings.Contains(strings.ToLower(acct.Fullname()), q) ||
			strings.Contains(strings.ToLower(acct.Username), q) ||
			strings.Contains(strings.ToLower(acct.URL), q) {
			matches = append(matches, acct)
		}
	}
	return matches
}

// FindAccount resolves query to exactly one account. Returns
// common.ErrNotFound for zero matches and common.ErrInvalidInput for an
// ambiguous query, naming the candidates.
func FindAccount(v *blob.Vault, query string) (*blob.Account, error) {
	matches := SearchAccounts(v, query, "")
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no account matches %q", common.ErrNotFound, query)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, a := range matches {
			names[i] = a.Fullname()
		}
		return nil, fmt.Errorf("%w: multiple accounts match %q: %s",
			common.ErrInvalidInput, query, strings.Join(names, ", "))
	}
}

// ListGroups returns all group paths in use, sorted, without duplicates.
func ListGroups(v *blob.Vault) []string {
	seen := make(map[string]bool)
	for _, acct := range v.Accounts {
		if acct.Group != "" {
			seen[acct.Group] = true
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
