// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package authtest provides in-memory collaborators for exercising package
// auth without a database.
package authtest

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// MemoryStore is an in-memory AccountStore and RoleStore with the same
// uniqueness and compare-and-swap semantics as the postgres repositories.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	roles    map[ulid.ULID]*auth.Role

	// BeforeUpdate, when set, runs before an account update is applied.
	// A non-nil error aborts the update and is returned to the caller.
	BeforeUpdate func(a *auth.Account) error

	updates int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[ulid.ULID]*auth.Account),
		roles:    make(map[ulid.ULID]*auth.Role),
	}
}

// Updates returns how many account updates were applied.
func (s *MemoryStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Account returns a copy of the stored account, or nil.
func (s *MemoryStore) Account(id ulid.ULID) *auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Clone()
}

// FindByID implements auth.AccountStore.
func (s *MemoryStore) FindByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, notFound("account", id.String())
}

// FindByNormalizedEmail implements auth.AccountStore.
func (s *MemoryStore) FindByNormalizedEmail(_ context.Context, email string) (*auth.Account, error) {
	return s.findAccount(func(a *auth.Account) bool { return a.NormalizedEmail == email }, email)
}

// FindByNormalizedUserName implements auth.AccountStore.
func (s *MemoryStore) FindByNormalizedUserName(_ context.Context, name string) (*auth.Account, error) {
	return s.findAccount(func(a *auth.Account) bool { return a.NormalizedUserName == name }, name)
}

// FindByLogin implements auth.AccountStore.
func (s *MemoryStore) FindByLogin(_ context.Context, provider, key string) (*auth.Account, error) {
	return s.findAccount(func(a *auth.Account) bool {
		_, ok := a.FindLogin(provider, key)
		return ok
	}, provider+":"+key)
}

func (s *MemoryStore) findAccount(match func(*auth.Account) bool, key string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, notFound("account", key)
}

// Create implements auth.AccountStore.
func (s *MemoryStore) Create(_ context.Context, a *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(a); err != nil {
		return err
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

// Update implements auth.AccountStore.
func (s *MemoryStore) Update(_ context.Context, a *auth.Account, expectedStamp string) error {
	if s.BeforeUpdate != nil {
		if err := s.BeforeUpdate(a); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[a.ID]
	if !ok {
		return notFound("account", a.ID.String())
	}
	if current.ConcurrencyStamp != expectedStamp {
		return oops.With("account_id", a.ID.String()).Wrap(auth.ErrConflict)
	}
	if err := s.checkUnique(a); err != nil {
		return err
	}
	a.ConcurrencyStamp = auth.NewStamp()
	s.accounts[a.ID] = a.Clone()
	s.updates++
	return nil
}

// Delete implements auth.AccountStore.
func (s *MemoryStore) Delete(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return notFound("account", id.String())
	}
	delete(s.accounts, id)
	return nil
}

// checkUnique must be called with mu held.
func (s *MemoryStore) checkUnique(a *auth.Account) error {
	for id, other := range s.accounts {
		if id == a.ID {
			continue
		}
		if other.NormalizedUserName == a.NormalizedUserName || other.NormalizedEmail == a.NormalizedEmail {
			return oops.With("account_id", a.ID.String()).Wrap(auth.ErrDuplicate)
		}
		for _, l := range a.Logins {
			if _, ok := other.FindLogin(l.Provider, l.ProviderKey); ok {
				return oops.With("provider", l.Provider).Wrap(auth.ErrDuplicate)
			}
		}
	}
	return nil
}

// FindRoleByName implements auth.RoleStore.
func (s *MemoryStore) FindRoleByName(_ context.Context, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.NormalizedName == name {
			return cloneRole(r), nil
		}
	}
	return nil, notFound("role", name)
}

// FindRoleByID implements auth.RoleStore.
func (s *MemoryStore) FindRoleByID(_ context.Context, id ulid.ULID) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[id]; ok {
		return cloneRole(r), nil
	}
	return nil, notFound("role", id.String())
}

// ListRoles implements auth.RoleStore.
func (s *MemoryStore) ListRoles(_ context.Context) ([]*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	slices.SortFunc(out, func(a, b *auth.Role) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// CreateRole implements auth.RoleStore.
func (s *MemoryStore) CreateRole(_ context.Context, r *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.roles {
		if other.NormalizedName == r.NormalizedName {
			return oops.With("role", r.Name).Wrap(auth.ErrDuplicate)
		}
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

// UpdateRole implements auth.RoleStore.
func (s *MemoryStore) UpdateRole(_ context.Context, r *auth.Role, expectedStamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.roles[r.ID]
	if !ok {
		return notFound("role", r.ID.String())
	}
	if current.ConcurrencyStamp != expectedStamp {
		return oops.With("role_id", r.ID.String()).Wrap(auth.ErrConflict)
	}
	r.ConcurrencyStamp = auth.NewStamp()
	s.roles[r.ID] = cloneRole(r)
	return nil
}

// DeleteRole implements auth.RoleStore. Memberships are removed too.
func (s *MemoryStore) DeleteRole(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return notFound("role", id.String())
	}
	delete(s.roles, id)
	for _, a := range s.accounts {
		a.Roles = slices.DeleteFunc(a.Roles, func(name string) bool {
			return auth.NormalizeName(name) == r.NormalizedName
		})
	}
	return nil
}

func cloneRole(r *auth.Role) *auth.Role {
	c := *r
	c.Claims = slices.Clone(r.Claims)
	return &c
}

func notFound(kind, key string) error {
	return oops.With("kind", kind).With("key", key).Wrap(auth.ErrNotFound)
}

var (
	_ auth.AccountStore = (*MemoryStore)(nil)
	_ auth.RoleStore    = (*MemoryStore)(nil)
)
