// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth implements Gatekeep's identity core: password and external
// sign-in, lockout, two-factor step-up, recovery tokens and session token
// issuance.
//
// # Domain Types
//
// Account and Role should be created with their constructors:
//   - NewAccount - normalizes the login name and email and sets fresh stamps
//   - NewRole - capitalizes the name and sets a fresh stamp
//
// Accounts change only through Core flows. Every write is a compare-and-swap
// on Account.ConcurrencyStamp; a lost race is retried once, then reported as
// STORE_CONFLICT.
//
// # Services
//
//   - Core - login, two-factor, registration, recovery and external login
//   - RoleService - role management and startup seeding
//
// Core is built from its collaborators (TokenIssuer, RecoveryTokenProvider,
// TwoFactorChallenger, LockoutGuard, Notifier) and the AccountStore and
// RoleStore implementations in package postgres.
//
// # Tokens
//
// Session tokens are HS512 JWTs carrying the aggregated claims and are not
// tracked server-side; they cannot be revoked before expiry. Recovery tokens
// are not stored either. Their key is derived from the account's security
// stamp, so rotating the stamp is the only way to revoke one early.
package auth
