// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// conflictRetryDelay is the pause before re-reading after a lost CAS.
const conflictRetryDelay = 10 * time.Millisecond

// errNoChange lets a mutation skip the write.
var errNoChange = errors.New("no change")

// mutation edits an account in memory. Returning errNoChange skips the write.
type mutation func(a *Account) error

// accountMutator applies read-modify-write cycles against the store. Every
// write is a compare-and-swap on the concurrency stamp; a lost race re-reads
// and re-applies the mutation once, then surfaces STORE_CONFLICT.
type accountMutator struct {
	store  AccountStore
	logger *slog.Logger
	now    func() time.Time
}

// mutateByID loads the account and applies fn.
func (m *accountMutator) mutateByID(ctx context.Context, id ulid.ULID, op string, fn mutation) (*Account, error) {
	return m.mutate(ctx, nil, id, op, fn)
}

// mutateLoaded applies fn to an account the caller already read. The first
// attempt skips the extra read; a retry always re-reads.
func (m *accountMutator) mutateLoaded(ctx context.Context, a *Account, op string, fn mutation) (*Account, error) {
	return m.mutate(ctx, a, a.ID, op, fn)
}

func (m *accountMutator) mutate(ctx context.Context, loaded *Account, id ulid.ULID, op string, fn mutation) (*Account, error) {
	var result *Account
	attempt := 0

	backoff := retry.WithMaxRetries(1, retry.NewConstant(conflictRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		current := loaded
		if current == nil || attempt > 1 {
			fresh, err := m.store.FindByID(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return oops.Code(CodeAccountNotFound).With("account_id", id.String()).Wrap(err)
				}
				return oops.Code(CodeStoreFailed).
					With("operation", op).
					With("account_id", id.String()).
					Wrap(err)
			}
			current = fresh
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, errNoChange) {
				result = next
				return nil
			}
			return err
		}
		next.UpdatedAt = m.now().UTC()

		expected := current.ConcurrencyStamp
		if err := m.store.Update(ctx, next, expected); err != nil {
			if errors.Is(err, ErrConflict) {
				storeConflicts.WithLabelValues(op).Inc()
				m.logger.WarnContext(ctx, "concurrency stamp conflict",
					"operation", op,
					"account_id", id.String(),
					"attempt", attempt,
				)
				return retry.RetryableError(oops.Code(CodeStoreConflict).
					With("operation", op).
					With("account_id", id.String()).
					Wrap(err))
			}
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeAccountNotFound).With("account_id", id.String()).Wrap(err)
			}
			return oops.Code(CodeStoreFailed).
				With("operation", op).
				With("account_id", id.String()).
				Wrap(err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded above
	}
	return result, nil
}
