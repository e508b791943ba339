package domain

import "strings"

// Account is an optional account identity. The zero value is NoAccount.
type Account struct {
	name    string
	present bool
}

// NoAccount is used when the account for a location is unknown.
var NoAccount = Account{}

// AccountName returns a present account identity. The name is kept as given;
// comparisons use Key.
func AccountName(name string) Account {
	return Account{name: name, present: true}
}

// AccountFromPtr adapts a nullable string, as used by JSON callers.
func AccountFromPtr(name *string) Account {
	if name == nil {
		return NoAccount
	}
	return AccountName(*name)
}

// Present reports whether an account was supplied.
func (a Account) Present() bool {
	return a.present
}

// Name returns the account name as supplied.
func (a Account) Name() string {
	return a.name
}

// Key returns the lookup key: trimmed and lower-cased. An absent account, or
// one whose name is blank, has an empty key.
func (a Account) Key() string {
	if !a.present {
		return ""
	}
	return NormalizeAccountKey(a.name)
}

func (a Account) String() string {
	if !a.present {
		return "<none>"
	}
	return a.name
}

// NormalizeAccountKey canonicalises an account name for map lookups.
func NormalizeAccountKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
