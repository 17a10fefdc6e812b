// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const selectRole = `SELECT id, name, normalized_name, description, claims, concurrency_stamp FROM roles`

// RoleRepository implements auth.RoleStore using PostgreSQL.
type RoleRepository struct {
	pool DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(pool DB) *RoleRepository {
	return &RoleRepository{pool: pool}
}

// FindRoleByName retrieves a role by normalized name.
func (r *RoleRepository) FindRoleByName(ctx context.Context, normalizedName string) (*auth.Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, selectRole+` WHERE normalized_name = $1`, normalizedName))
	if err != nil {
		return nil, readError(err, "find role by name", "role", normalizedName)
	}
	return role, nil
}

// FindRoleByID retrieves a role by ID.
func (r *RoleRepository) FindRoleByID(ctx context.Context, id ulid.ULID) (*auth.Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, selectRole+` WHERE id = $1`, id.String()))
	if err != nil {
		return nil, readError(err, "find role by id", "role_id", id.String())
	}
	return role, nil
}

// ListRoles returns every role ordered by name.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]*auth.Role, error) {
	rows, err := r.pool.Query(ctx, selectRole+` ORDER BY name`)
	if err != nil {
		return nil, oops.With("operation", "list roles").Wrap(err)
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, oops.With("operation", "scan role row").Wrap(err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate roles").Wrap(err)
	}
	return roles, nil
}

// CreateRole stores a new role.
func (r *RoleRepository) CreateRole(ctx context.Context, role *auth.Role) error {
	claims, err := encodeClaims(role.Claims)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO roles (id, name, normalized_name, description, claims, concurrency_stamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		role.ID.String(), role.Name, role.NormalizedName, role.Description, claims, role.ConcurrencyStamp)
	if err != nil {
		return oops.With("role", role.Name).Wrap(writeError(err, "create role"))
	}
	return nil
}

// UpdateRole writes description and claims when the stored stamp equals
// expectedStamp, and rotates the stamp.
func (r *RoleRepository) UpdateRole(ctx context.Context, role *auth.Role, expectedStamp string) error {
	claims, err := encodeClaims(role.Claims)
	if err != nil {
		return err
	}
	newStamp := auth.NewStamp()

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE roles SET description = $2, claims = $3, concurrency_stamp = $4
			WHERE id = $1 AND concurrency_stamp = $5`,
			role.ID.String(), role.Description, claims, newStamp, expectedStamp)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrMoved(ctx, tx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, role.ID)
		}
		return nil
	})
	if err != nil {
		return oops.With("role_id", role.ID.String()).Wrap(writeError(err, "update role"))
	}
	role.ConcurrencyStamp = newStamp
	return nil
}

// DeleteRole removes a role. Memberships go with it.
func (r *RoleRepository) DeleteRole(ctx context.Context, id ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id.String())
	if err != nil {
		return oops.With("operation", "delete role").With("role_id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("role_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func encodeClaims(claims []auth.Claim) ([]byte, error) {
	if claims == nil {
		claims = []auth.Claim{}
	}
	out, err := json.Marshal(claims)
	if err != nil {
		return nil, oops.With("operation", "marshal claims").Wrap(err)
	}
	return out, nil
}

func scanRole(row pgx.Row) (*auth.Role, error) {
	var (
		role   auth.Role
		idStr  string
		claims []byte
	)
	if err := row.Scan(&idStr, &role.Name, &role.NormalizedName, &role.Description, &claims, &role.ConcurrencyStamp); err != nil {
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse role id").With("id", idStr).Wrap(err)
	}
	role.ID = id
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &role.Claims); err != nil {
			return nil, oops.With("operation", "unmarshal role claims").With("role_id", idStr).Wrap(err)
		}
	}
	if len(role.Claims) == 0 {
		role.Claims = nil
	}
	return &role, nil
}
