// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Store sentinels. Repositories wrap these so callers can use errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-swap write loses against a
	// concurrent writer (the expected concurrency stamp no longer matches).
	ErrConflict = errors.New("concurrency stamp mismatch")

	// ErrDuplicate is returned when a unique key (login name, email, role name,
	// external identity) is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// Error codes surfaced to callers. Transports map these to responses.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeEmailUnconfirmed   = "AUTH_EMAIL_UNCONFIRMED"
	CodeTwoFactorMismatch  = "AUTH_TWO_FACTOR_MISMATCH"
	CodeNoPendingChallenge = "AUTH_NO_PENDING_CHALLENGE"
	CodeUnsupportedChannel = "AUTH_UNSUPPORTED_CHANNEL"
	CodeDuplicateAccount   = "AUTH_DUPLICATE_ACCOUNT"
	CodeExternalInvalid    = "AUTH_EXTERNAL_INVALID"
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeRoleForbidden      = "AUTH_ROLE_FORBIDDEN"

	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeTokenInvalid   = "TOKEN_INVALID"
	CodeTokenMalformed = "TOKEN_MALFORMED"

	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeRoleNotFound       = "ROLE_NOT_FOUND"
	CodeDuplicateRole      = "ROLE_DUPLICATE"
	CodeStoreConflict      = "STORE_CONFLICT"
	CodeStoreFailed        = "STORE_FAILED"
	CodeMailDispatchFailed = "MAIL_DISPATCH_FAILED"
	CodeConfigInvalid      = "CONFIG_INVALID"
)

// ErrorCode returns the oops code carried by err, or "" if err carries none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// invalidCredentials is the single error used for unknown accounts and wrong
// passwords so the two cannot be told apart.
func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid login or password")
}
