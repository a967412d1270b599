package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// Login checks credentials and drives the lockout counter. A failed attempt
// commits its counter bump and audit rows even though Login returns an error.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.Account, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Account{}, err
	}
	username := normalizeUsername(req.Username)

	var (
		account domain.Account
		failure *domain.AuthError
	)
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		failure = nil
		found, err := tx.GetAccountForUpdate(ctx, username)
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			failure = &domain.AuthError{Kind: domain.AuthInvalidCredential}
			return s.logAudit(ctx, tx, domain.Actor{Username: username}, auditEntry{
				action:      domain.AuditLoginFailed,
				entityType:  "account",
				description: "login failed: unknown username",
			})
		}
		if err != nil {
			return err
		}
		actor := actorOf(found)

		switch domain.StateOf(*found, s.rules.LockoutThreshold) {
		case domain.StateInactive:
			failure = &domain.AuthError{Kind: domain.AuthInactive}
		case domain.StateActiveLocked:
			failure = &domain.AuthError{Kind: domain.AuthLocked}
		}
		if failure != nil {
			return s.logAudit(ctx, tx, actor, auditEntry{
				action:      domain.AuditLoginFailed,
				entityType:  "account",
				entityID:    found.ID,
				description: fmt.Sprintf("login failed: account %s", failure.Kind),
			})
		}

		now := s.now()
		if bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(req.Password)) != nil {
			failure = &domain.AuthError{Kind: domain.AuthInvalidCredential}
			lockedNow := domain.RegisterFailedLogin(found, s.rules.LockoutThreshold, now)
			if err := tx.UpdateAccount(ctx, *found); err != nil {
				return err
			}
			if err := s.logAudit(ctx, tx, actor, auditEntry{
				action:      domain.AuditLoginFailed,
				entityType:  "account",
				entityID:    found.ID,
				description: fmt.Sprintf("login failed: wrong password (attempt %d)", found.FailedAttempts),
				newValues:   map[string]int{"failed_login_attempts": found.FailedAttempts},
			}); err != nil {
				return err
			}
			if !lockedNow {
				return nil
			}
			s.log.Info().Str("username", found.Username).Int("attempts", found.FailedAttempts).Msg("account locked")
			return s.logAudit(ctx, tx, actor, auditEntry{
				action:      domain.AuditAccountLocked,
				entityType:  "account",
				entityID:    found.ID,
				description: fmt.Sprintf("account locked after %d failed attempts", found.FailedAttempts),
			})
		}

		domain.RegisterSuccessfulLogin(found, now)
		if err := tx.UpdateAccount(ctx, *found); err != nil {
			return err
		}
		account = *found
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditLogin,
			entityType:  "account",
			entityID:    found.ID,
			description: "login succeeded",
		})
	})
	if err != nil {
		s.metrics.LoginAttempt("error")
		s.auditFailure(ctx, domain.Actor{Username: username}, auditEntry{
			action:      domain.AuditLoginFailed,
			entityType:  "account",
			description: "login failed: " + err.Error(),
		})
		return domain.Account{}, err
	}
	if failure != nil {
		s.metrics.LoginAttempt(string(failure.Kind))
		s.log.Debug().Str("username", username).Str("kind", string(failure.Kind)).Msg("login rejected")
		return domain.Account{}, failure
	}
	s.metrics.LoginAttempt("success")
	return account, nil
}

func (s *Service) Logout(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.AccountID == "" {
		return &domain.ForbiddenError{}
	}
	return s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditLogout,
			entityType:  "account",
			entityID:    actor.AccountID,
			description: "logout",
		})
	})
}

// ChangePassword replaces the caller's password. It never touches the
// failed-login counter.
func (s *Service) ChangePassword(ctx context.Context, req domain.PasswordChangeRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.AccountID == "" {
		return &domain.ForbiddenError{}
	}
	err := s.changePassword(ctx, actor, req)
	if err != nil {
		s.auditFailure(ctx, actor, auditEntry{
			action:      domain.AuditPasswordChangeFailed,
			entityType:  "account",
			entityID:    actor.AccountID,
			description: "password change failed: " + passwordFailureDetail(err),
		})
	}
	return err
}

func passwordFailureDetail(err error) string {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return string(authErr.Kind)
	}
	return err.Error()
}

func (s *Service) changePassword(ctx context.Context, actor domain.Actor, req domain.PasswordChangeRequest) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.GetAccountByID(ctx, actor.AccountID)
		if err != nil {
			return err
		}
		account, err = tx.GetAccountForUpdate(ctx, account.Username)
		if err != nil {
			return err
		}
		switch domain.StateOf(*account, s.rules.LockoutThreshold) {
		case domain.StateInactive:
			return &domain.AuthError{Kind: domain.AuthInactive}
		case domain.StateActiveLocked:
			return &domain.AuthError{Kind: domain.AuthLocked}
		}
		if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.OldPassword)) != nil {
			return &domain.AuthError{Kind: domain.AuthInvalidCredential}
		}
		hash, err := s.hashPassword(req.NewPassword)
		if err != nil {
			return err
		}

		now := s.now()
		account.PasswordHash = hash
		account.PasswordChangedAt = now
		account.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, *account); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, actorOf(account), auditEntry{
			action:      domain.AuditPasswordChange,
			entityType:  "account",
			entityID:    account.ID,
			description: "password changed",
		})
	})
}

func (s *Service) hashPassword(password string) (string, error) {
	if len(password) < s.rules.PasswordMinLength {
		return "", &domain.WeakPasswordError{MinLength: s.rules.PasswordMinLength}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// UnlockAccount clears the failed-login counter. Locks never expire on their
// own; an administrator has to call this.
func (s *Service) UnlockAccount(ctx context.Context, username string) (domain.Account, error) {
	username = normalizeUsername(username)
	var result domain.Account
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		admin, err := s.requireCapability(ctx, tx, domain.CapManageUsers)
		if err != nil {
			return err
		}
		account, err := tx.GetAccountForUpdate(ctx, username)
		if err != nil {
			return err
		}
		previous := account.FailedAttempts
		domain.Unlock(account, s.now())
		if err := tx.UpdateAccount(ctx, *account); err != nil {
			return err
		}
		result = *account
		return s.logAudit(ctx, tx, actorOf(admin), auditEntry{
			action:      domain.AuditAccountUnlock,
			entityType:  "account",
			entityID:    account.ID,
			description: "unlocked account " + account.Username,
			oldValues:   map[string]int{"failed_login_attempts": previous},
			newValues:   map[string]int{"failed_login_attempts": 0},
		})
	})
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditAccountFailed,
			entityType:  "account",
			description: fmt.Sprintf("unlock of %s rejected: %v", username, err),
		})
		return domain.Account{}, err
	}
	return result, nil
}

// ResolveActor turns a token subject back into a live actor. Accounts that
// were locked or deactivated after the token was issued are rejected.
func (s *Service) ResolveActor(ctx context.Context, accountID string) (domain.Actor, error) {
	var actor domain.Actor
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.GetAccountByID(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return &domain.AuthError{Kind: domain.AuthInvalidCredential}
		}
		if err != nil {
			return err
		}
		switch domain.StateOf(*account, s.rules.LockoutThreshold) {
		case domain.StateInactive:
			return &domain.AuthError{Kind: domain.AuthInactive}
		case domain.StateActiveLocked:
			return &domain.AuthError{Kind: domain.AuthLocked}
		}
		actor = actorOf(account)
		return nil
	})
	return actor, err
}
