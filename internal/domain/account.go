package domain

import "time"

type AccountState string

const (
	StateActiveUnlocked AccountState = "ACTIVE_UNLOCKED"
	StateActiveLocked   AccountState = "ACTIVE_LOCKED"
	StateInactive       AccountState = "INACTIVE"
)

// IsLocked reports whether the failed-attempt counter has reached threshold.
// It ignores the active flag.
func (a Account) IsLocked(threshold int) bool {
	return threshold > 0 && a.FailedAttempts >= threshold
}

// StateOf derives the login state of an account. An inactive account is
// INACTIVE even when its counter is also over the threshold.
func StateOf(a Account, threshold int) AccountState {
	if !a.Active {
		return StateInactive
	}
	if a.IsLocked(threshold) {
		return StateActiveLocked
	}
	return StateActiveUnlocked
}

// RegisterFailedLogin bumps the counter and reports whether this attempt
// moved the account into ACTIVE_LOCKED.
func RegisterFailedLogin(a *Account, threshold int, at time.Time) bool {
	wasLocked := a.IsLocked(threshold)
	a.FailedAttempts++
	a.UpdatedAt = at
	return !wasLocked && a.IsLocked(threshold)
}

func RegisterSuccessfulLogin(a *Account, at time.Time) {
	a.FailedAttempts = 0
	loginAt := at
	a.LastLoginAt = &loginAt
	a.UpdatedAt = at
}

func Unlock(a *Account, at time.Time) {
	a.FailedAttempts = 0
	a.UpdatedAt = at
}
