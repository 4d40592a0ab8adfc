package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"sellerledger/backend/internal/config"
)

func strongConfig() config.Config {
	return config.Config{
		AuthSecret:               "0123456789abcdef0123456789abcdef",
		AdminPasswordHash:        "$2a$10$abcdefghijklmnopqrstuuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZa",
		DefaultCommissionRate:    decimal.NewFromInt(10),
		DefaultPlatformFeeRate:   decimal.NewFromInt(2),
		PayoutTransactionFeeRate: decimal.NewFromInt(1),
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	assert.NoError(t, validateSecurityConfig(strongConfig()))
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"short secret":     func(c *config.Config) { c.AuthSecret = "short" },
		"plain password":   func(c *config.Config) { c.AdminPasswordHash = "admin123" },
		"rate above 100":   func(c *config.Config) { c.DefaultCommissionRate = decimal.NewFromInt(101) },
		"negative fee":     func(c *config.Config) { c.PayoutTransactionFeeRate = decimal.NewFromInt(-1) },
		"fee exceeds rate": func(c *config.Config) { c.DefaultPlatformFeeRate = decimal.NewFromInt(12) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := strongConfig()
			mutate(&cfg)
			assert.Error(t, validateSecurityConfig(cfg))
		})
	}
}
