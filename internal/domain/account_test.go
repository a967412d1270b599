package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateOf(t *testing.T) {
	acct := Account{Active: true}
	assert.Equal(t, StateActiveUnlocked, StateOf(acct, 3))

	acct.FailedAttempts = 3
	assert.Equal(t, StateActiveLocked, StateOf(acct, 3))

	acct.Active = false
	assert.Equal(t, StateInactive, StateOf(acct, 3))

	acct.FailedAttempts = 0
	assert.Equal(t, StateInactive, StateOf(acct, 3))
}

func TestRegisterFailedLoginReportsTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	acct := Account{Active: true}

	assert.False(t, RegisterFailedLogin(&acct, 3, now))
	assert.False(t, RegisterFailedLogin(&acct, 3, now))
	assert.True(t, RegisterFailedLogin(&acct, 3, now))
	assert.False(t, RegisterFailedLogin(&acct, 3, now))
	assert.Equal(t, 4, acct.FailedAttempts)

	Unlock(&acct, now)
	assert.Equal(t, 0, acct.FailedAttempts)
	assert.Equal(t, StateActiveUnlocked, StateOf(acct, 3))

	RegisterFailedLogin(&acct, 3, now)
	RegisterSuccessfulLogin(&acct, now.Add(time.Minute))
	assert.Equal(t, 0, acct.FailedAttempts)
	require.NotNil(t, acct.LastLoginAt)
	assert.True(t, acct.LastLoginAt.Equal(now.Add(time.Minute)))
}

func TestAuthErrorMessageIsUniform(t *testing.T) {
	kinds := []AuthFailure{AuthInvalidCredential, AuthLocked, AuthInactive}
	for _, kind := range kinds {
		err := error(&AuthError{Kind: kind})
		assert.Equal(t, "invalid username or password", err.Error())
		assert.True(t, errors.Is(err, ErrAuth))
	}
}

func TestWeakPasswordIsValidation(t *testing.T) {
	err := error(&WeakPasswordError{MinLength: 6})
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, IsBusinessRule(err))
	assert.True(t, IsBusinessRule(&InsufficientStockError{SKUID: "x"}))
}

func TestDefaultRoles(t *testing.T) {
	roles := map[RoleName]Role{}
	for _, r := range DefaultRoles() {
		roles[r.Name] = r
	}
	require.Len(t, roles, 3)

	assert.True(t, roles[RoleAdmin].Capabilities.Allows(CapManageUsers))
	assert.False(t, roles[RoleManager].Capabilities.Allows(CapManageUsers))
	assert.True(t, roles[RoleManager].Capabilities.Allows(CapEditPrices))
	assert.True(t, roles[RoleCashier].Capabilities.Allows(CapProcessSales))
	assert.False(t, roles[RoleCashier].Capabilities.Allows(CapVoidTransactions))
	assert.False(t, roles[RoleAdmin].Capabilities.Allows(Capability("launch_rockets")))
}
