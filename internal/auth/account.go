// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Claim is a (type, value) authorization fact.
type Claim struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Well-known claim types written into session tokens.
const (
	ClaimTypeEmail     = "email"
	ClaimTypeGivenName = "given_name"
	ClaimTypeRole      = "role"
)

// Address is optional postal profile data.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zipcode string `json:"zipcode,omitempty"`
}

// ExternalIdentity links an account to a subject at an external provider.
// A (Provider, ProviderKey) pair belongs to at most one account.
type ExternalIdentity struct {
	Provider    string
	ProviderKey string
	DisplayName string
}

// Account is a registered identity.
//
// ConcurrencyStamp changes on every write. It guards compare-and-swap updates
// and binds recovery tokens. SecurityStamp changes only when credentials
// change (password set, email confirmed, external login linked) and binds
// two-factor codes.
type Account struct {
	ID                 ulid.ULID
	UserName           string
	NormalizedUserName string
	Email              string
	NormalizedEmail    string
	PasswordHash       string
	EmailConfirmed     bool
	TwoFactorEnabled   bool
	AccessFailedCount  int
	LockoutEnd         *time.Time
	ConcurrencyStamp   string
	SecurityStamp      string
	TwoFactorNonce     string

	DisplayName    string
	FirstName      string
	LastName       string
	ProfilePicture []byte
	Address        *Address

	Claims []Claim
	Roles  []string
	Logins []ExternalIdentity

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeName returns the lookup form of a login name, email or role name.
func NormalizeName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NewStamp returns a fresh random stamp value.
func NewStamp() string {
	return uuid.NewString()
}

// NewAccount creates an Account with normalized keys and fresh stamps.
// passwordHash may be empty for accounts provisioned from an external provider.
func NewAccount(userName, email, passwordHash string) (*Account, error) {
	if strings.TrimSpace(userName) == "" {
		return nil, oops.Code(CodeInvalidInput).Errorf("user name cannot be empty")
	}
	if strings.TrimSpace(email) == "" {
		return nil, oops.Code(CodeInvalidInput).Errorf("email cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:                 ulid.Make(),
		UserName:           strings.TrimSpace(userName),
		NormalizedUserName: NormalizeName(userName),
		Email:              strings.TrimSpace(email),
		NormalizedEmail:    NormalizeName(email),
		PasswordHash:       passwordHash,
		ConcurrencyStamp:   NewStamp(),
		SecurityStamp:      NewStamp(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Clone returns a deep copy so a failed write never leaks partial mutations.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.LockoutEnd != nil {
		end := *a.LockoutEnd
		c.LockoutEnd = &end
	}
	if a.Address != nil {
		addr := *a.Address
		c.Address = &addr
	}
	c.ProfilePicture = slices.Clone(a.ProfilePicture)
	c.Claims = slices.Clone(a.Claims)
	c.Roles = slices.Clone(a.Roles)
	c.Logins = slices.Clone(a.Logins)
	return &c
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// InRole reports whether the account is a member of the named role.
func (a *Account) InRole(role string) bool {
	n := NormalizeName(role)
	return slices.ContainsFunc(a.Roles, func(r string) bool { return NormalizeName(r) == n })
}

// AddRole adds a role membership; it is a no-op if already present.
func (a *Account) AddRole(role string) bool {
	if a.InRole(role) {
		return false
	}
	a.Roles = append(a.Roles, role)
	return true
}

// FindLogin returns the linked identity for provider/key, if any.
func (a *Account) FindLogin(provider, key string) (ExternalIdentity, bool) {
	for _, l := range a.Logins {
		if l.Provider == provider && l.ProviderKey == key {
			return l, true
		}
	}
	return ExternalIdentity{}, false
}

// AddLogin links an external identity; it is a no-op if already linked.
func (a *Account) AddLogin(login ExternalIdentity) bool {
	if _, ok := a.FindLogin(login.Provider, login.ProviderKey); ok {
		return false
	}
	a.Logins = append(a.Logins, login)
	return true
}

// RotateSecurityStamp invalidates outstanding two-factor codes.
func (a *Account) RotateSecurityStamp() {
	a.SecurityStamp = NewStamp()
	a.TwoFactorNonce = ""
}

// NameForDisplay returns DisplayName, falling back to the email address.
func (a *Account) NameForDisplay() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Email
}

// Role is a named bundle of claims assignable to accounts.
type Role struct {
	ID               ulid.ULID
	Name             string
	NormalizedName   string
	Description      string
	Claims           []Claim
	ConcurrencyStamp string
}

// NewRole creates a Role. The first letter of the name is upper-cased.
func NewRole(name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, oops.Code(CodeInvalidInput).Errorf("role name cannot be empty")
	}
	name = strings.ToUpper(name[:1]) + name[1:]
	return &Role{
		ID:               ulid.Make(),
		Name:             name,
		NormalizedName:   NormalizeName(name),
		Description:      description,
		ConcurrencyStamp: NewStamp(),
	}, nil
}
