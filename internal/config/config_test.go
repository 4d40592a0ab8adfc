package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD_HASH", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.AdminPasswordHash)
}

func TestLoadLedgerDefaults(t *testing.T) {
	t.Setenv("DEFAULT_COMMISSION_RATE", "")
	t.Setenv("PAYOUT_TRANSACTION_FEE_RATE", "1.5")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)

	ledger := cfg.Ledger()
	assert.Equal(t, "1.5", ledger.PayoutTransactionFeeRate.String())
	assert.Equal(t, 30*time.Second, ledger.SummaryCacheTTL)
	assert.Equal(t, 0, cfg.AutoApproveAfterHours)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadRejectsMalformedRate(t *testing.T) {
	t.Setenv("DEFAULT_PLATFORM_FEE_RATE", "two percent")

	_, err := Load()
	assert.ErrorContains(t, err, "DEFAULT_PLATFORM_FEE_RATE")
}

func TestLoadRejectsRateBeyondStoredScale(t *testing.T) {
	t.Setenv("DEFAULT_COMMISSION_RATE", "10.555")

	_, err := Load()
	assert.ErrorContains(t, err, "DEFAULT_COMMISSION_RATE")
	assert.ErrorContains(t, err, "decimal places")
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("EVENT_WORKERS: 3\nDEFAULT_COMMISSION_RATE: \"12.5\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("EVENT_WORKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.EventWorkers)
	assert.Equal(t, "12.5", cfg.DefaultCommissionRate.String())
}
