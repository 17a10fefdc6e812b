// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const selectAccount = `
	SELECT a.id, a.user_name, a.normalized_user_name, a.email, a.normalized_email,
	       a.password_hash, a.email_confirmed, a.two_factor_enabled,
	       a.access_failed_count, a.lockout_end,
	       a.concurrency_stamp, a.security_stamp, a.two_factor_nonce,
	       a.display_name, a.first_name, a.last_name, a.profile_picture,
	       a.address, a.claims, a.created_at, a.updated_at,
	       COALESCE((SELECT array_agg(r.name ORDER BY r.name)
	                 FROM account_roles ar JOIN roles r ON r.id = ar.role_id
	                 WHERE ar.account_id = a.id), '{}') AS roles,
	       COALESCE((SELECT jsonb_agg(jsonb_build_object(
	                        'provider', l.provider,
	                        'provider_key', l.provider_key,
	                        'display_name', l.display_name)
	                        ORDER BY l.provider, l.provider_key)
	                 FROM account_logins l
	                 WHERE l.account_id = a.id), '[]') AS logins
	FROM accounts a`

// loginRecord is the JSON shape of an aggregated account_logins row.
type loginRecord struct {
	Provider    string `json:"provider"`
	ProviderKey string `json:"provider_key"`
	DisplayName string `json:"display_name"`
}

// AccountRepository implements auth.AccountStore using PostgreSQL.
type AccountRepository struct {
	pool DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool DB) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// FindByID retrieves an account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, selectAccount+` WHERE a.id = $1`, id.String()))
	if err != nil {
		return nil, readError(err, "find account by id", "account_id", id.String())
	}
	return a, nil
}

// FindByNormalizedEmail retrieves an account by normalized email.
func (r *AccountRepository) FindByNormalizedEmail(ctx context.Context, normalizedEmail string) (*auth.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, selectAccount+` WHERE a.normalized_email = $1`, normalizedEmail))
	if err != nil {
		return nil, readError(err, "find account by email", "email", normalizedEmail)
	}
	return a, nil
}

// FindByNormalizedUserName retrieves an account by normalized login name.
func (r *AccountRepository) FindByNormalizedUserName(ctx context.Context, normalizedUserName string) (*auth.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, selectAccount+` WHERE a.normalized_user_name = $1`, normalizedUserName))
	if err != nil {
		return nil, readError(err, "find account by user name", "user_name", normalizedUserName)
	}
	return a, nil
}

// FindByLogin retrieves the account linked to an external identity.
func (r *AccountRepository) FindByLogin(ctx context.Context, provider, providerKey string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, selectAccount+`
	WHERE a.id = (SELECT account_id FROM account_logins WHERE provider = $1 AND provider_key = $2)`,
		provider, providerKey)
	a, err := scanAccount(row)
	if err != nil {
		return nil, readError(err, "find account by login", "provider", provider)
	}
	return a, nil
}

// Create stores a new account with its role memberships and external logins.
func (r *AccountRepository) Create(ctx context.Context, a *auth.Account) error {
	claims, address, err := encodeAccountJSON(a)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (
				id, user_name, normalized_user_name, email, normalized_email,
				password_hash, email_confirmed, two_factor_enabled,
				access_failed_count, lockout_end,
				concurrency_stamp, security_stamp, two_factor_nonce,
				display_name, first_name, last_name, profile_picture,
				address, claims, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			          $14, $15, $16, $17, $18, $19, $20, $21)`,
			a.ID.String(), a.UserName, a.NormalizedUserName, a.Email, a.NormalizedEmail,
			a.PasswordHash, a.EmailConfirmed, a.TwoFactorEnabled,
			a.AccessFailedCount, a.LockoutEnd,
			a.ConcurrencyStamp, a.SecurityStamp, a.TwoFactorNonce,
			a.DisplayName, a.FirstName, a.LastName, a.ProfilePicture,
			address, claims, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return writeMemberships(ctx, tx, a, false)
	})
	if err != nil {
		return writeError(err, "create account")
	}
	return nil
}

// Update writes the account when the stored concurrency stamp equals
// expectedStamp, replacing memberships and logins, and rotates the stamp.
func (r *AccountRepository) Update(ctx context.Context, a *auth.Account, expectedStamp string) error {
	claims, address, err := encodeAccountJSON(a)
	if err != nil {
		return err
	}
	newStamp := auth.NewStamp()

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET
				user_name = $2, normalized_user_name = $3, email = $4, normalized_email = $5,
				password_hash = $6, email_confirmed = $7, two_factor_enabled = $8,
				access_failed_count = $9, lockout_end = $10,
				concurrency_stamp = $11, security_stamp = $12, two_factor_nonce = $13,
				display_name = $14, first_name = $15, last_name = $16, profile_picture = $17,
				address = $18, claims = $19, updated_at = $20
			WHERE id = $1 AND concurrency_stamp = $21`,
			a.ID.String(), a.UserName, a.NormalizedUserName, a.Email, a.NormalizedEmail,
			a.PasswordHash, a.EmailConfirmed, a.TwoFactorEnabled,
			a.AccessFailedCount, a.LockoutEnd,
			newStamp, a.SecurityStamp, a.TwoFactorNonce,
			a.DisplayName, a.FirstName, a.LastName, a.ProfilePicture,
			address, claims, a.UpdatedAt, expectedStamp,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrMoved(ctx, tx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, a.ID)
		}
		return writeMemberships(ctx, tx, a, true)
	})
	if err != nil {
		return oops.With("account_id", a.ID.String()).Wrap(writeError(err, "update account"))
	}
	a.ConcurrencyStamp = newStamp
	return nil
}

// Delete removes an account. Memberships and logins go with it.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return oops.With("operation", "delete account").With("account_id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// missingOrMoved tells a lost compare-and-swap from a deleted row.
func missingOrMoved(ctx context.Context, tx pgx.Tx, existsSQL string, id ulid.ULID) error {
	var exists bool
	if err := tx.QueryRow(ctx, existsSQL, id.String()).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return auth.ErrConflict
	}
	return auth.ErrNotFound
}

// writeMemberships stores role memberships and external logins. With replace
// set the existing rows are removed first.
func writeMemberships(ctx context.Context, tx pgx.Tx, a *auth.Account, replace bool) error {
	id := a.ID.String()
	if replace {
		if _, err := tx.Exec(ctx, `DELETE FROM account_roles WHERE account_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM account_logins WHERE account_id = $1`, id); err != nil {
			return err
		}
	}

	if len(a.Roles) > 0 {
		names := make([]string, len(a.Roles))
		for i, role := range a.Roles {
			names[i] = auth.NormalizeName(role)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO account_roles (account_id, role_id)
			SELECT $1, id FROM roles WHERE normalized_name = ANY($2)`,
			id, names)
		if err != nil {
			return err
		}
	}

	for _, l := range a.Logins {
		_, err := tx.Exec(ctx, `
			INSERT INTO account_logins (provider, provider_key, display_name, account_id)
			VALUES ($1, $2, $3, $4)`,
			l.Provider, l.ProviderKey, l.DisplayName, id)
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeAccountJSON(a *auth.Account) (claims, address []byte, err error) {
	claimList := a.Claims
	if claimList == nil {
		claimList = []auth.Claim{}
	}
	claims, err = json.Marshal(claimList)
	if err != nil {
		return nil, nil, oops.With("operation", "marshal claims").Wrap(err)
	}
	if a.Address != nil {
		address, err = json.Marshal(a.Address)
		if err != nil {
			return nil, nil, oops.With("operation", "marshal address").Wrap(err)
		}
	}
	return claims, address, nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a                       auth.Account
		idStr                   string
		lockoutEnd              *time.Time
		address, claims, logins []byte
	)
	err := row.Scan(
		&idStr, &a.UserName, &a.NormalizedUserName, &a.Email, &a.NormalizedEmail,
		&a.PasswordHash, &a.EmailConfirmed, &a.TwoFactorEnabled,
		&a.AccessFailedCount, &lockoutEnd,
		&a.ConcurrencyStamp, &a.SecurityStamp, &a.TwoFactorNonce,
		&a.DisplayName, &a.FirstName, &a.LastName, &a.ProfilePicture,
		&address, &claims, &a.CreatedAt, &a.UpdatedAt,
		&a.Roles, &logins,
	)
	if err != nil {
		return nil, err
	}

	a.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse account id").With("id", idStr).Wrap(err)
	}
	if lockoutEnd != nil {
		t := lockoutEnd.UTC()
		a.LockoutEnd = &t
	}
	if len(address) > 0 {
		a.Address = &auth.Address{}
		if err := json.Unmarshal(address, a.Address); err != nil {
			return nil, oops.With("operation", "unmarshal address").With("account_id", idStr).Wrap(err)
		}
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &a.Claims); err != nil {
			return nil, oops.With("operation", "unmarshal claims").With("account_id", idStr).Wrap(err)
		}
	}
	if len(logins) > 0 {
		var records []loginRecord
		if err := json.Unmarshal(logins, &records); err != nil {
			return nil, oops.With("operation", "unmarshal logins").With("account_id", idStr).Wrap(err)
		}
		for _, rec := range records {
			a.Logins = append(a.Logins, auth.ExternalIdentity{
				Provider:    rec.Provider,
				ProviderKey: rec.ProviderKey,
				DisplayName: rec.DisplayName,
			})
		}
	}
	if len(a.Roles) == 0 {
		a.Roles = nil
	}
	if len(a.Claims) == 0 {
		a.Claims = nil
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
