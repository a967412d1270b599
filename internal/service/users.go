package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

func (s *Service) CreateAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.Account, error) {
	account, err := s.createAccount(ctx, req)
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditAccountFailed,
			entityType:  "account",
			description: fmt.Sprintf("create account %q rejected: %v", normalizeUsername(req.Username), err),
		})
		return domain.Account{}, err
	}
	return account, nil
}

func (s *Service) createAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.Account, error) {
	req.Username = normalizeUsername(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validateRequest(req); err != nil {
		return domain.Account{}, err
	}
	if strings.ContainsFunc(req.Username, unicode.IsSpace) {
		return domain.Account{}, domain.Invalid("username", "must not contain whitespace")
	}
	if !req.Role.Valid() {
		return domain.Account{}, domain.Invalid("role", fmt.Sprintf("unknown role %q", req.Role))
	}

	var result domain.Account
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		admin, err := s.requireCapability(ctx, tx, domain.CapManageUsers)
		if err != nil {
			return err
		}
		if _, err := tx.GetRole(ctx, req.Role); err != nil {
			return err
		}
		hash, err := s.hashPassword(req.Password)
		if err != nil {
			return err
		}
		now := s.now()
		account := domain.Account{
			ID:                xid.New("acct"),
			Username:          req.Username,
			FullName:          req.FullName,
			Email:             req.Email,
			PasswordHash:      hash,
			Active:            true,
			PasswordChangedAt: now,
			Role:              req.Role,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		result = account
		return s.logAudit(ctx, tx, actorOf(admin), auditEntry{
			action:      domain.AuditAccountCreate,
			entityType:  "account",
			entityID:    account.ID,
			description: fmt.Sprintf("created %s account %s", account.Role, account.Username),
			newValues:   map[string]any{"username": account.Username, "role": account.Role},
		})
	})
	return result, err
}

func (s *Service) SetAccountActive(ctx context.Context, username string, active bool) (domain.Account, error) {
	username = normalizeUsername(username)
	var result domain.Account
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		admin, err := s.requireCapability(ctx, tx, domain.CapManageUsers)
		if err != nil {
			return err
		}
		if admin.Username == username && !active {
			return domain.Invalid("active", "cannot deactivate your own account")
		}
		account, err := tx.GetAccountForUpdate(ctx, username)
		if err != nil {
			return err
		}
		previous := account.Active
		account.Active = active
		account.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, *account); err != nil {
			return err
		}
		result = *account
		return s.logAudit(ctx, tx, actorOf(admin), auditEntry{
			action:      domain.AuditAccountUpdate,
			entityType:  "account",
			entityID:    account.ID,
			description: fmt.Sprintf("set %s active=%t", account.Username, active),
			oldValues:   map[string]bool{"active": previous},
			newValues:   map[string]bool{"active": active},
		})
	})
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditAccountFailed,
			entityType:  "account",
			description: fmt.Sprintf("set %s active=%t rejected: %v", username, active, err),
		})
		return domain.Account{}, err
	}
	return result, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireCapability(ctx, tx, domain.CapManageUsers); err != nil {
			return err
		}
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

func (s *Service) ListRoles(ctx context.Context) ([]domain.Role, error) {
	var roles []domain.Role
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireCapability(ctx, tx, domain.CapManageUsers); err != nil {
			return err
		}
		var err error
		roles, err = tx.ListRoles(ctx)
		return err
	})
	return roles, err
}

// UpdateRoleCapabilities replaces a role's capability bundle. The admin role
// keeps manage_users so the system cannot lock itself out of administration.
func (s *Service) UpdateRoleCapabilities(ctx context.Context, name domain.RoleName, req domain.RoleUpdateRequest) (domain.Role, error) {
	role, err := s.updateRoleCapabilities(ctx, name, req)
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditAccountFailed,
			entityType:  "role",
			entityID:    string(name),
			description: fmt.Sprintf("update of role %s rejected: %v", name, err),
		})
		return domain.Role{}, err
	}
	return role, nil
}

func (s *Service) updateRoleCapabilities(ctx context.Context, name domain.RoleName, req domain.RoleUpdateRequest) (domain.Role, error) {
	if !name.Valid() {
		return domain.Role{}, domain.Invalid("role", fmt.Sprintf("unknown role %q", name))
	}
	if name == domain.RoleAdmin && !req.Capabilities.ManageUsers {
		return domain.Role{}, domain.Invalid("capabilities", "admin role must keep can_manage_users")
	}

	var result domain.Role
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		admin, err := s.requireCapability(ctx, tx, domain.CapManageUsers)
		if err != nil {
			return err
		}
		role, err := tx.GetRole(ctx, name)
		if err != nil {
			return err
		}
		before := role.Capabilities
		role.Capabilities = req.Capabilities
		if req.Description != nil {
			role.Description = strings.TrimSpace(*req.Description)
		}
		role.UpdatedAt = s.now()
		if err := tx.UpsertRole(ctx, *role); err != nil {
			return err
		}
		result = *role
		return s.logAudit(ctx, tx, actorOf(admin), auditEntry{
			action:      domain.AuditRoleUpdate,
			entityType:  "role",
			entityID:    string(role.Name),
			description: "updated capabilities of role " + string(role.Name),
			oldValues:   before,
			newValues:   role.Capabilities,
		})
	})
	return result, err
}

// Bootstrap installs the default roles and, when no account exists yet, the
// first administrator. Running it again is a no-op.
func (s *Service) Bootstrap(ctx context.Context, username string, password string, fullName string) error {
	username = normalizeUsername(username)
	var hash string
	if username != "" {
		var err error
		if hash, err = s.hashPassword(password); err != nil {
			return err
		}
	}

	created := false
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created = false
		now := s.now()
		for _, role := range domain.DefaultRoles() {
			_, err := tx.GetRole(ctx, role.Name)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			role.CreatedAt = now
			role.UpdatedAt = now
			if err := tx.UpsertRole(ctx, role); err != nil {
				return err
			}
		}

		if username == "" {
			return nil
		}
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) > 0 {
			return nil
		}
		if fullName == "" {
			fullName = "System Administrator"
		}
		account := domain.Account{
			ID:                xid.New("acct"),
			Username:          username,
			FullName:          fullName,
			PasswordHash:      hash,
			Active:            true,
			PasswordChangedAt: now,
			Role:              domain.RoleAdmin,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		created = true
		return s.logAudit(ctx, tx, domain.Actor{Username: "system"}, auditEntry{
			action:      domain.AuditAccountCreate,
			entityType:  "account",
			entityID:    account.ID,
			description: "created initial administrator " + account.Username,
		})
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Info().Str("username", username).Msg("created initial administrator")
	}
	return nil
}
