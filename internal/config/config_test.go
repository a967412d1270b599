package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearRuleEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POS_SETTINGS_FILE", "LOCKOUT_THRESHOLD", "PASSWORD_MIN_LENGTH",
		"LOW_STOCK_THRESHOLD", "RETURN_POLICY_DAYS", "ALLOW_NEGATIVE_STOCK", "POS_TIMEZONE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	clearRuleEnv(t)
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_ADMIN_PASSWORD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.SeedAdminPassword != "" {
		t.Fatalf("expected empty SEED_ADMIN_PASSWORD when unset, got %q", cfg.SeedAdminPassword)
	}
}

func TestLoadDefaultRules(t *testing.T) {
	clearRuleEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	r := cfg.Rules
	if r.LockoutThreshold != 3 || r.PasswordMinLength != 6 || r.LowStockThreshold != 10 {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if r.ReturnPolicyDays == nil || *r.ReturnPolicyDays != 7 {
		t.Fatalf("expected 7 day return policy by default")
	}
	if r.AllowNegativeStock {
		t.Fatalf("negative stock must be off by default")
	}
}

func TestEnvOverridesSettingsFile(t *testing.T) {
	clearRuleEnv(t)
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "lockout_threshold: 5\nlow_stock_threshold: 4\nreturn_policy_days: 30\nallow_negative_stock: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv("POS_SETTINGS_FILE", path)
	t.Setenv("LOCKOUT_THRESHOLD", "4")
	t.Setenv("RETURN_POLICY_DAYS", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.LockoutThreshold != 4 {
		t.Fatalf("expected env lockout threshold 4, got %d", cfg.Rules.LockoutThreshold)
	}
	if cfg.Rules.LowStockThreshold != 4 {
		t.Fatalf("expected file low stock threshold 4, got %d", cfg.Rules.LowStockThreshold)
	}
	if cfg.Rules.ReturnPolicyDays != nil {
		t.Fatalf("expected return policy disabled")
	}
	if !cfg.Rules.AllowNegativeStock {
		t.Fatalf("expected allow_negative_stock from file")
	}
	if cfg.Rules.PasswordMinLength != 6 {
		t.Fatalf("expected default password length to survive, got %d", cfg.Rules.PasswordMinLength)
	}
}

func TestLoadRejectsInvalidRules(t *testing.T) {
	clearRuleEnv(t)
	t.Setenv("LOCKOUT_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected zero lockout threshold to be rejected")
	}

	t.Setenv("LOCKOUT_THRESHOLD", "abc")
	if _, err := Load(); err == nil {
		t.Fatalf("expected non-numeric lockout threshold to be rejected")
	}

	t.Setenv("LOCKOUT_THRESHOLD", "")
	t.Setenv("POS_TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown timezone to be rejected")
	}
}
