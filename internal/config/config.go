package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Rules are the business settings the service enforces.
type Rules struct {
	LockoutThreshold   int  `yaml:"lockout_threshold"`
	PasswordMinLength  int  `yaml:"password_min_length"`
	LowStockThreshold  int  `yaml:"low_stock_threshold"`
	ReturnPolicyDays   *int `yaml:"return_policy_days"`
	AllowNegativeStock bool `yaml:"allow_negative_stock"`
}

func DefaultRules() Rules {
	days := 7
	return Rules{
		LockoutThreshold:  3,
		PasswordMinLength: 6,
		LowStockThreshold: 10,
		ReturnPolicyDays:  &days,
	}
}

func (r Rules) Validate() error {
	if r.LockoutThreshold < 1 {
		return fmt.Errorf("lockout_threshold must be at least 1, got %d", r.LockoutThreshold)
	}
	if r.PasswordMinLength < 1 {
		return fmt.Errorf("password_min_length must be at least 1, got %d", r.PasswordMinLength)
	}
	if r.LowStockThreshold < 0 {
		return fmt.Errorf("low_stock_threshold must not be negative, got %d", r.LowStockThreshold)
	}
	if r.ReturnPolicyDays != nil && *r.ReturnPolicyDays < 0 {
		return fmt.Errorf("return_policy_days must not be negative, got %d", *r.ReturnPolicyDays)
	}
	return nil
}

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
	Timezone              string
	SettingsFile          string
	SeedAdminUsername     string
	SeedAdminPassword     string
	Rules                 Rules
}

// Load reads .env when present, then the optional settings file, then the
// environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		Timezone:              getEnv("POS_TIMEZONE", "UTC"),
		SettingsFile:          strings.TrimSpace(os.Getenv("POS_SETTINGS_FILE")),
		SeedAdminUsername:     strings.TrimSpace(os.Getenv("SEED_ADMIN_USERNAME")),
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
		Rules:                 DefaultRules(),
	}

	if cfg.SettingsFile != "" {
		if err := cfg.Rules.loadFile(cfg.SettingsFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Rules.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Rules.Validate(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("POS_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (r *Rules) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	if err := yaml.Unmarshal(raw, r); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return nil
}

func (r *Rules) applyEnv() error {
	ints := []struct {
		key string
		dst *int
	}{
		{"LOCKOUT_THRESHOLD", &r.LockoutThreshold},
		{"PASSWORD_MIN_LENGTH", &r.PasswordMinLength},
		{"LOW_STOCK_THRESHOLD", &r.LowStockThreshold},
	}
	for _, item := range ints {
		val := strings.TrimSpace(os.Getenv(item.key))
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", item.key, err)
		}
		*item.dst = n
	}

	if val := strings.TrimSpace(os.Getenv("RETURN_POLICY_DAYS")); val != "" {
		if strings.EqualFold(val, "off") {
			r.ReturnPolicyDays = nil
		} else {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("RETURN_POLICY_DAYS: %w", err)
			}
			r.ReturnPolicyDays = &n
		}
	}

	if val := strings.TrimSpace(os.Getenv("ALLOW_NEGATIVE_STOCK")); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("ALLOW_NEGATIVE_STOCK: %w", err)
		}
		r.AllowNegativeStock = b
	}
	return nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
