// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// AccountStore manages account persistence.
//
// Lookups return an error wrapping ErrNotFound when nothing matches.
type AccountStore interface {
	// FindByID retrieves an account by ID.
	FindByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// FindByNormalizedEmail retrieves an account by normalized email.
	FindByNormalizedEmail(ctx context.Context, normalizedEmail string) (*Account, error)

	// FindByNormalizedUserName retrieves an account by normalized login name.
	FindByNormalizedUserName(ctx context.Context, normalizedUserName string) (*Account, error)

	// FindByLogin retrieves the account linked to an external identity.
	FindByLogin(ctx context.Context, provider, providerKey string) (*Account, error)

	// Create stores a new account. Returns ErrDuplicate when the login name,
	// email or an external identity is already taken.
	Create(ctx context.Context, account *Account) error

	// Update writes the whole account if and only if the stored concurrency
	// stamp equals expectedStamp. On success account.ConcurrencyStamp holds the
	// new stamp. Returns ErrConflict when the stamp moved and ErrNotFound when
	// the account is gone.
	Update(ctx context.Context, account *Account, expectedStamp string) error

	// Delete removes an account with its memberships and external logins.
	// Returns ErrNotFound when the account is gone.
	Delete(ctx context.Context, id ulid.ULID) error
}

// RoleStore manages role persistence.
type RoleStore interface {
	// FindRoleByName retrieves a role by normalized name.
	FindRoleByName(ctx context.Context, normalizedName string) (*Role, error)

	// FindRoleByID retrieves a role by ID.
	FindRoleByID(ctx context.Context, id ulid.ULID) (*Role, error)

	// ListRoles returns every role ordered by name.
	ListRoles(ctx context.Context) ([]*Role, error)

	// CreateRole stores a new role. Returns ErrDuplicate for a taken name.
	CreateRole(ctx context.Context, role *Role) error

	// UpdateRole writes description and claims, compare-and-swap on the stamp.
	UpdateRole(ctx context.Context, role *Role, expectedStamp string) error

	// DeleteRole removes a role and its memberships.
	DeleteRole(ctx context.Context, id ulid.ULID) error
}
