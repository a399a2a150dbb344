package domain

import "time"

// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
const DefaultLockoutThreshold = 5

// LockoutPolicy drives the per-account lockout state machine:
//
//	Unlocked(n) --failure--> Unlocked(n+1)   when n+1 < Threshold
//	Unlocked(n) --failure--> Locked          counter snapshot = Threshold
//	Locked      --failure--> Locked          no-op
//	any         --success--> Unlocked(0)     stamps last login
//	any         --unlock---> Unlocked(0)
//	any         --lock-----> Locked          counter unchanged
//
// The policy only mutates the in-memory User; persisting the transition
// under the store's concurrency control is the caller's job.
type LockoutPolicy struct {
	Threshold int
}

// NewLockoutPolicy returns a policy, falling back to the default threshold
// for non-positive values.
func NewLockoutPolicy(threshold int) LockoutPolicy {
	if threshold < 1 {
		threshold = DefaultLockoutThreshold
	}
	return LockoutPolicy{Threshold: threshold}
}

// LockoutOutcome describes what a failure transition did.
type LockoutOutcome int

const (
	// FailureCounted means the counter moved but the account stays unlocked.
	FailureCounted LockoutOutcome = iota
	// LockedNow means this failure crossed the threshold.
	LockedNow
	// AlreadyLocked means the account was locked before the attempt.
	AlreadyLocked
)

// RecordFailure applies a failed authentication attempt to u.
func (p LockoutPolicy) RecordFailure(u *User) LockoutOutcome {
	if u.IsLocked {
		return AlreadyLocked
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= p.Threshold {
		u.FailedLoginAttempts = p.Threshold
		u.IsLocked = true
		return LockedNow
	}
	return FailureCounted
}

// RecordSuccess resets the counter and stamps the last login time.
func (p LockoutPolicy) RecordSuccess(u *User, now time.Time) {
	u.FailedLoginAttempts = 0
	u.IsLocked = false
	t := now.UTC()
	u.LastLoginAt = &t
}

// ForceUnlock clears the lock and the counter.
func (p LockoutPolicy) ForceUnlock(u *User) {
	u.IsLocked = false
	u.FailedLoginAttempts = 0
}

// ForceLock locks the account without touching the counter.
func (p LockoutPolicy) ForceLock(u *User) {
	u.IsLocked = true
}
