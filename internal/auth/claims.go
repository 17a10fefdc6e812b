// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/samber/oops"
)

// ClaimsAggregator derives the claim set written into session tokens.
type ClaimsAggregator struct {
	roles RoleStore
}

// NewClaimsAggregator creates a ClaimsAggregator reading role claims from roles.
func NewClaimsAggregator(roles RoleStore) *ClaimsAggregator {
	return &ClaimsAggregator{roles: roles}
}

// Aggregate returns the union of the account's profile claims, direct claims,
// one role claim per membership and every claim attached to those roles.
// Duplicate (type, value) pairs collapse; the result is sorted.
// Memberships naming a role that no longer exists still yield the role claim.
func (c *ClaimsAggregator) Aggregate(ctx context.Context, a *Account) ([]Claim, error) {
	set := make(map[Claim]struct{}, len(a.Claims)+2*len(a.Roles)+2)
	add := func(cl Claim) {
		if cl.Type == "" {
			return
		}
		set[cl] = struct{}{}
	}

	if a.Email != "" {
		add(Claim{Type: ClaimTypeEmail, Value: a.Email})
	}
	if a.DisplayName != "" {
		add(Claim{Type: ClaimTypeGivenName, Value: a.DisplayName})
	}
	for _, cl := range a.Claims {
		add(cl)
	}

	for _, name := range a.Roles {
		add(Claim{Type: ClaimTypeRole, Value: name})

		role, err := c.roles.FindRoleByName(ctx, NormalizeName(name))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, oops.Code(CodeStoreFailed).
				With("operation", "find role").
				With("role", name).
				Wrap(err)
		}
		for _, cl := range role.Claims {
			add(cl)
		}
	}

	claims := make([]Claim, 0, len(set))
	for cl := range set {
		claims = append(claims, cl)
	}
	slices.SortFunc(claims, func(x, y Claim) int {
		if n := cmp.Compare(x.Type, y.Type); n != 0 {
			return n
		}
		return cmp.Compare(x.Value, y.Value)
	})
	return claims, nil
}
