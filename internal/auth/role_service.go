// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RoleService manages roles and seeds the initial roles and administrator.
type RoleService struct {
	roles    RoleStore
	accounts AccountStore
	hasher   PasswordHasher
	mutator  *accountMutator
	logger   *slog.Logger
}

// NewRoleService creates a RoleService.
func NewRoleService(roles RoleStore, accounts AccountStore, hasher PasswordHasher, logger *slog.Logger) (*RoleService, error) {
	if roles == nil || accounts == nil || hasher == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("role service needs role and account stores and a hasher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleService{
		roles:    roles,
		accounts: accounts,
		hasher:   hasher,
		mutator:  &accountMutator{store: accounts, logger: logger, now: time.Now},
		logger:   logger,
	}, nil
}

// CreateRole creates a role. The first letter of the name is upper-cased.
func (s *RoleService) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	role, err := NewRole(name, description)
	if err != nil {
		return nil, err
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, oops.Code(CodeDuplicateRole).With("role", role.Name).Wrap(err)
		}
		return nil, oops.Code(CodeStoreFailed).With("operation", "create role").Wrap(err)
	}
	return role, nil
}

// ListRoles returns every role ordered by name.
func (s *RoleService) ListRoles(ctx context.Context) ([]*Role, error) {
	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return nil, oops.Code(CodeStoreFailed).With("operation", "list roles").Wrap(err)
	}
	return roles, nil
}

// GetRole returns a role by ID.
func (s *RoleService) GetRole(ctx context.Context, id ulid.ULID) (*Role, error) {
	role, err := s.roles.FindRoleByID(ctx, id)
	if err != nil {
		return nil, roleLookupError(err, "role_id", id.String())
	}
	return role, nil
}

// DeleteRole removes a role. Accounts lose the membership.
func (s *RoleService) DeleteRole(ctx context.Context, id ulid.ULID) error {
	if err := s.roles.DeleteRole(ctx, id); err != nil {
		return roleLookupError(err, "role_id", id.String())
	}
	return nil
}

// AddRoleClaim attaches claim to the named role. Adding a claim the role
// already carries is a no-op.
func (s *RoleService) AddRoleClaim(ctx context.Context, roleName string, claim Claim) (*Role, error) {
	if strings.TrimSpace(claim.Type) == "" {
		return nil, oops.Code(CodeInvalidInput).With("field", "claim_type").Errorf("claim type cannot be empty")
	}

	var result *Role
	backoff := retry.WithMaxRetries(1, retry.NewConstant(conflictRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		role, err := s.roles.FindRoleByName(ctx, NormalizeName(roleName))
		if err != nil {
			return roleLookupError(err, "role", roleName)
		}
		if slices.Contains(role.Claims, claim) {
			result = role
			return nil
		}
		expected := role.ConcurrencyStamp
		role.Claims = append(role.Claims, claim)
		if err := s.roles.UpdateRole(ctx, role, expected); err != nil {
			if errors.Is(err, ErrConflict) {
				storeConflicts.WithLabelValues("add_role_claim").Inc()
				return retry.RetryableError(oops.Code(CodeStoreConflict).With("role", roleName).Wrap(err))
			}
			return roleLookupError(err, "role", roleName)
		}
		result = role
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded above
	}
	return result, nil
}

// AssignRole adds the named role to an account.
func (s *RoleService) AssignRole(ctx context.Context, accountID ulid.ULID, roleName string) error {
	role, err := s.roles.FindRoleByName(ctx, NormalizeName(roleName))
	if err != nil {
		return roleLookupError(err, "role", roleName)
	}
	_, err = s.mutator.mutateByID(ctx, accountID, "assign_role", func(x *Account) error {
		if !x.AddRole(role.Name) {
			return errNoChange
		}
		return nil
	})
	return err
}

func roleLookupError(err error, key, value string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeRoleNotFound).With(key, value).Wrap(err)
	}
	return oops.Code(CodeStoreFailed).With(key, value).Wrap(err)
}

// SeedRole describes a role to create at startup.
type SeedRole struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Claims      []Claim `yaml:"claims"`
}

// SeedAccount describes an account to create at startup. Its email is
// created confirmed.
type SeedAccount struct {
	UserName    string   `yaml:"user_name"`
	Email       string   `yaml:"email"`
	Password    string   `yaml:"password"`
	DisplayName string   `yaml:"display_name"`
	Roles       []string `yaml:"roles"`
}

// SeedData is the content of a seed file.
type SeedData struct {
	Roles    []SeedRole    `yaml:"roles"`
	Accounts []SeedAccount `yaml:"accounts"`
}

// DefaultSeed creates the User and Admin roles. Accounts come from a seed file.
func DefaultSeed() SeedData {
	return SeedData{
		Roles: []SeedRole{
			{Name: DefaultRoleName, Description: "Registered user"},
			{Name: ProtectedRoleName, Description: "Administrator"},
		},
	}
}

// SeedResult counts what Seed created.
type SeedResult struct {
	RolesCreated    int
	AccountsCreated int
}

// Seed creates missing roles and accounts. Existing ones are left untouched,
// so Seed is safe to run on every start.
func (s *RoleService) Seed(ctx context.Context, data SeedData) (SeedResult, error) {
	var res SeedResult

	for _, sr := range data.Roles {
		_, err := s.roles.FindRoleByName(ctx, NormalizeName(sr.Name))
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return res, roleLookupError(err, "role", sr.Name)
		}
		role, err := NewRole(sr.Name, sr.Description)
		if err != nil {
			return res, err
		}
		role.Claims = slices.Clone(sr.Claims)
		if err := s.roles.CreateRole(ctx, role); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return res, oops.Code(CodeStoreFailed).With("operation", "seed role").With("role", sr.Name).Wrap(err)
		}
		res.RolesCreated++
		s.logger.InfoContext(ctx, "seeded role", "role", role.Name)
	}

	for _, sa := range data.Accounts {
		created, err := s.seedAccount(ctx, sa)
		if err != nil {
			return res, err
		}
		if created {
			res.AccountsCreated++
		}
	}
	return res, nil
}

func (s *RoleService) seedAccount(ctx context.Context, sa SeedAccount) (bool, error) {
	_, err := s.accounts.FindByNormalizedEmail(ctx, NormalizeName(sa.Email))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, oops.Code(CodeStoreFailed).With("operation", "seed account").Wrap(err)
	}
	if err := ValidatePassword(sa.Password); err != nil {
		return false, oops.With("email", sa.Email).Wrap(err)
	}

	hash, err := s.hasher.Hash(sa.Password)
	if err != nil {
		return false, oops.Code("AUTH_SEED_FAILED").With("operation", "hash password").Wrap(err)
	}
	a, err := NewAccount(sa.UserName, sa.Email, hash)
	if err != nil {
		return false, err
	}
	a.DisplayName = sa.DisplayName
	a.EmailConfirmed = true
	for _, name := range sa.Roles {
		role, err := s.roles.FindRoleByName(ctx, NormalizeName(name))
		if err != nil {
			return false, roleLookupError(err, "role", name)
		}
		a.AddRole(role.Name)
	}

	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return false, nil
		}
		return false, oops.Code(CodeStoreFailed).With("operation", "seed account").Wrap(err)
	}
	s.logger.InfoContext(ctx, "seeded account", "account_id", a.ID.String(), "roles", a.Roles)
	return true, nil
}
