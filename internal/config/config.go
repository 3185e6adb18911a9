package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv                 string
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	MigrateOnStart         bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RedisKeyPrefix         string
	AuthSecret             string
	RefreshSecret          string
	AccessTokenTTLMinutes  int
	RefreshTokenTTLHours   int
	CategoryTreeTTLSeconds int
	LogLevel               string
	LogFormat              string
	Timezone               string
	SeedDemoData           bool
	SeedAdminPassword      string
}

// Load reads configuration from the environment. Secrets have no defaults so
// a missing value is caught by the server's security check instead of being
// papered over.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("migrate_on_start", false)
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "pos:")
	v.SetDefault("access_token_ttl_minutes", 15)
	v.SetDefault("refresh_token_ttl_hours", 168)
	v.SetDefault("category_tree_ttl_seconds", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("seed_demo_data", false)

	cfg := Config{
		AppEnv:                 strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		Port:                   v.GetString("port"),
		AllowedOrigin:          v.GetString("allowed_origin"),
		DatabaseURL:            strings.TrimSpace(v.GetString("database_url")),
		MigrateOnStart:         v.GetBool("migrate_on_start"),
		RedisAddr:              strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:          v.GetString("redis_password"),
		RedisDB:                v.GetInt("redis_db"),
		RedisKeyPrefix:         v.GetString("redis_key_prefix"),
		AuthSecret:             strings.TrimSpace(v.GetString("auth_secret")),
		RefreshSecret:          strings.TrimSpace(v.GetString("refresh_secret")),
		AccessTokenTTLMinutes:  positiveOr(v.GetInt("access_token_ttl_minutes"), 15),
		RefreshTokenTTLHours:   positiveOr(v.GetInt("refresh_token_ttl_hours"), 168),
		CategoryTreeTTLSeconds: v.GetInt("category_tree_ttl_seconds"),
		LogLevel:               v.GetString("log_level"),
		LogFormat:              v.GetString("log_format"),
		Timezone:               strings.TrimSpace(v.GetString("timezone")),
		SeedDemoData:           v.GetBool("seed_demo_data"),
		SeedAdminPassword:      v.GetString("seed_admin_password"),
	}
	if cfg.CategoryTreeTTLSeconds < 0 {
		cfg.CategoryTreeTTLSeconds = 0
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location resolves Timezone. An unknown zone is an error rather than a
// silent fallback because it shifts every daily summary.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHours) * time.Hour
}

func (c Config) CategoryTreeTTL() time.Duration {
	return time.Duration(c.CategoryTreeTTLSeconds) * time.Second
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
