// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"time"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that triggers a lockout.
	DefaultLockoutThreshold = 3

	// DefaultLockoutDuration is how long an account stays locked.
	DefaultLockoutDuration = 2 * time.Minute
)

// LockoutDecision is the outcome of recording a failed credential check.
type LockoutDecision struct {
	// Failures is the stored failure count after the call.
	Failures int

	// Locked is true when this failure crossed the threshold.
	Locked bool

	// LockedUntil is set when Locked is true.
	LockedUntil time.Time
}

// LockoutGuard tracks consecutive failed credential checks on an Account and
// decides when it is locked. It only mutates the account in memory; callers
// persist the change.
type LockoutGuard struct {
	threshold int
	duration  time.Duration
}

// NewLockoutGuard creates a guard. Non-positive values fall back to defaults.
func NewLockoutGuard(threshold int, duration time.Duration) *LockoutGuard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return &LockoutGuard{threshold: threshold, duration: duration}
}

// Threshold returns the configured failure threshold.
func (g *LockoutGuard) Threshold() int { return g.threshold }

// Duration returns the configured lockout duration.
func (g *LockoutGuard) Duration() time.Duration { return g.duration }

// IsLocked reports whether the lockout end is still in the future at now.
// An elapsed lockout needs no state transition.
func (g *LockoutGuard) IsLocked(a *Account, now time.Time) bool {
	return a.LockoutEnd != nil && a.LockoutEnd.After(now)
}

// RemainingAt returns the time left on the lockout, or zero.
func (g *LockoutGuard) RemainingAt(a *Account, now time.Time) time.Duration {
	if !g.IsLocked(a, now) {
		return 0
	}
	return a.LockoutEnd.Sub(now)
}

// RecordFailure increments the failure counter. When the threshold is reached
// the lockout end is set and the counter starts over, so the lockout is
// enforced by LockoutEnd alone until it elapses.
func (g *LockoutGuard) RecordFailure(a *Account, now time.Time) LockoutDecision {
	a.AccessFailedCount++
	a.UpdatedAt = now
	if a.AccessFailedCount < g.threshold {
		return LockoutDecision{Failures: a.AccessFailedCount}
	}

	end := now.Add(g.duration)
	a.LockoutEnd = &end
	a.AccessFailedCount = 0
	return LockoutDecision{Locked: true, LockedUntil: end}
}

// RecordSuccess resets the failure counter. It returns false when there was
// nothing to reset so callers can skip the write. LockoutEnd is left alone:
// success is only possible once the lockout elapsed.
func (g *LockoutGuard) RecordSuccess(a *Account) bool {
	if a.AccessFailedCount == 0 {
		return false
	}
	a.AccessFailedCount = 0
	return true
}
