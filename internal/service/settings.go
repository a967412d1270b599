package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// defaultSettings is what GetSettings reports before anything was saved.
func (s *Service) defaultSettings() domain.StoreSettings {
	out := domain.StoreSettings{
		StoreName:         "Retail POS",
		CurrencyCode:      "EGP",
		LowStockThreshold: s.rules.LowStockThreshold,
	}
	if s.rules.ReturnPolicyDays != nil {
		days := *s.rules.ReturnPolicyDays
		out.ReturnPolicyDays = &days
	}
	return out
}

func (s *Service) loadSettings(ctx context.Context, tx store.Tx, forUpdate bool) (domain.StoreSettings, bool, error) {
	get := tx.GetSettings
	if forUpdate {
		get = tx.GetSettingsForUpdate
	}
	saved, err := get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return s.defaultSettings(), false, nil
	}
	if err != nil {
		return domain.StoreSettings{}, false, err
	}
	return *saved, true, nil
}

// effectiveRules overlays saved settings on the configured rules.
func (s *Service) effectiveRules(ctx context.Context, tx store.Tx) (config.Rules, error) {
	rules := s.rules
	saved, ok, err := s.loadSettings(ctx, tx, false)
	if err != nil || !ok {
		return rules, err
	}
	rules.LowStockThreshold = saved.LowStockThreshold
	rules.ReturnPolicyDays = saved.ReturnPolicyDays
	return rules, nil
}

// EffectiveRules is the rule set currently enforced, saved settings included.
func (s *Service) EffectiveRules(ctx context.Context) (config.Rules, error) {
	var rules config.Rules
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rules, err = s.effectiveRules(ctx, tx)
		return err
	})
	return rules, err
}

func (s *Service) GetSettings(ctx context.Context) (domain.StoreSettings, error) {
	var result domain.StoreSettings
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, domain.CapManageSettings, domain.CapProcessSales, domain.CapViewReports); err != nil {
			return err
		}
		var err error
		result, _, err = s.loadSettings(ctx, tx, false)
		return err
	})
	return result, err
}

// UpdateSettings applies a partial update. Changes to the return window and
// the low-stock threshold take effect for the next transaction.
func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.StoreSettings, error) {
	settings, err := s.updateSettings(ctx, req)
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditSettingsFailed,
			entityType:  "store_settings",
			description: "settings update rejected: " + err.Error(),
		})
		return domain.StoreSettings{}, err
	}
	s.log.Info().Str("updated_by", settings.UpdatedBy).Msg("store settings updated")
	return settings, nil
}

func checkSettingsRequest(req domain.SettingsUpdateRequest) error {
	if req.Empty() {
		return domain.Invalid("", "nothing to update")
	}
	if req.StoreName != nil && strings.TrimSpace(*req.StoreName) == "" {
		return domain.Invalid("store_name", "must not be blank")
	}
	if rate := req.TaxRatePercent; rate != nil && (rate.IsNegative() || rate.GreaterThan(hundred)) {
		return domain.Invalid("tax_rate_percent", "must be between 0 and 100")
	}
	if req.DisableReturnWindow && req.ReturnPolicyDays != nil {
		return domain.Invalid("return_policy_days", "cannot be set while disabling the return window")
	}
	return nil
}

func (s *Service) updateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.StoreSettings, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.StoreSettings{}, err
	}
	if err := checkSettingsRequest(req); err != nil {
		return domain.StoreSettings{}, err
	}

	var result domain.StoreSettings
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageSettings)
		if err != nil {
			return err
		}
		current, _, err := s.loadSettings(ctx, tx, true)
		if err != nil {
			return err
		}
		next := req.Apply(current)
		next.StoreName = strings.TrimSpace(next.StoreName)
		next.UpdatedAt = s.now()
		next.UpdatedBy = account.Username
		if err := tx.SaveSettings(ctx, next); err != nil {
			return err
		}
		result = next
		return s.logAudit(ctx, tx, actorOf(account), auditEntry{
			action:      domain.AuditSettingsUpdate,
			entityType:  "store_settings",
			description: fmt.Sprintf("store settings updated by %s", account.Username),
			oldValues:   current,
			newValues:   next,
		})
	})
	return result, err
}
