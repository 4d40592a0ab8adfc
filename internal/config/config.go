package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/service"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminUsername         string
	AdminPasswordHash     string
	LoginRatePerMinute    int

	DefaultCommissionRate      decimal.Decimal
	DefaultPlatformFeeRate     decimal.Decimal
	PayoutTransactionFeeRate   decimal.Decimal
	AutoApproveAfterHours      int
	AutoApproveIntervalMinutes int
	SummaryCacheTTLSeconds     int
	EventWorkers               int

	SMTP SMTPConfig
	Log  LogConfig
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("DEFAULT_COMMISSION_RATE", "10")
	v.SetDefault("DEFAULT_PLATFORM_FEE_RATE", "0")
	v.SetDefault("PAYOUT_TRANSACTION_FEE_RATE", "0")
	v.SetDefault("AUTO_APPROVE_AFTER_HOURS", 0)
	v.SetDefault("AUTO_APPROVE_INTERVAL_MINUTES", 15)
	v.SetDefault("SUMMARY_CACHE_TTL_SECONDS", 30)
	v.SetDefault("EVENT_WORKERS", 8)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)
	v.SetDefault("LOG_COMPRESS", true)
}

// Load reads configuration from the environment, an optional .env file and
// an optional YAML file named by CONFIG_FILE. Environment wins.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                       v.GetString("PORT"),
		AllowedOrigin:              v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:                strings.TrimSpace(v.GetString("DATABASE_URL")),
		AutoMigrate:                v.GetBool("AUTO_MIGRATE"),
		RedisAddr:                  strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:              v.GetString("REDIS_PASSWORD"),
		RedisDB:                    v.GetInt("REDIS_DB"),
		AuthSecret:                 strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:      positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		AdminUsername:              strings.TrimSpace(v.GetString("ADMIN_USERNAME")),
		AdminPasswordHash:          strings.TrimSpace(v.GetString("ADMIN_PASSWORD_HASH")),
		LoginRatePerMinute:         positive(v.GetInt("LOGIN_RATE_PER_MINUTE"), 10),
		AutoApproveAfterHours:      v.GetInt("AUTO_APPROVE_AFTER_HOURS"),
		AutoApproveIntervalMinutes: positive(v.GetInt("AUTO_APPROVE_INTERVAL_MINUTES"), 15),
		SummaryCacheTTLSeconds:     positive(v.GetInt("SUMMARY_CACHE_TTL_SECONDS"), 30),
		EventWorkers:               positive(v.GetInt("EVENT_WORKERS"), 8),
		SMTP: SMTPConfig{
			Host: strings.TrimSpace(v.GetString("SMTP_HOST")),
			Port: v.GetInt("SMTP_PORT"),
			User: v.GetString("SMTP_USER"),
			Pass: v.GetString("SMTP_PASS"),
			From: strings.TrimSpace(v.GetString("SMTP_FROM")),
		},
		Log: LogConfig{
			Level:      strings.ToLower(v.GetString("LOG_LEVEL")),
			Format:     strings.ToLower(v.GetString("LOG_FORMAT")),
			File:       strings.TrimSpace(v.GetString("LOG_FILE")),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
			Compress:   v.GetBool("LOG_COMPRESS"),
		},
	}

	var err error
	if cfg.DefaultCommissionRate, err = rate(v, "DEFAULT_COMMISSION_RATE"); err != nil {
		return Config{}, err
	}
	if cfg.DefaultPlatformFeeRate, err = rate(v, "DEFAULT_PLATFORM_FEE_RATE"); err != nil {
		return Config{}, err
	}
	if cfg.PayoutTransactionFeeRate, err = rate(v, "PAYOUT_TRANSACTION_FEE_RATE"); err != nil {
		return Config{}, err
	}
	if cfg.AutoApproveAfterHours < 0 {
		cfg.AutoApproveAfterHours = 0
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Ledger() service.LedgerConfig {
	return service.LedgerConfig{
		DefaultCommissionRate:    c.DefaultCommissionRate,
		DefaultPlatformFeeRate:   c.DefaultPlatformFeeRate,
		PayoutTransactionFeeRate: c.PayoutTransactionFeeRate,
		SummaryCacheTTL:          time.Duration(c.SummaryCacheTTLSeconds) * time.Second,
	}
}

func rate(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal", key, raw)
	}
	if !domain.WithinScale(d, domain.RateScale) {
		return decimal.Zero, fmt.Errorf("%s: %q has more than %d decimal places", key, raw, domain.RateScale)
	}
	return d, nil
}

func positive(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
