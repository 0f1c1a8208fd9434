package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "community", cfg.Crawler.Board)
	require.Equal(t, 90, cfg.Crawler.CutoffDays)
	require.Equal(t, 90*24*time.Hour, cfg.CutoffWindow())
	require.Equal(t, 3*time.Minute, cfg.NavTimeout())
	require.Equal(t, 15*time.Minute, cfg.RecoveryWait())
	require.Equal(t, "chromedp", cfg.Navigator.Mode)

	tiers := cfg.BackoffTiers()
	require.Equal(t, 2*time.Second, tiers.ItemDelayMin)
	require.Equal(t, 10, tiers.ItemRestEvery)
	require.Equal(t, 12*time.Minute, tiers.PageLongRestMax)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawler:
  board: notice
  cutoff_days: 30
navigator:
  mode: http
  headless: false
recovery:
  wait_minutes: 5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "notice", cfg.Crawler.Board)
	require.Equal(t, 30, cfg.Crawler.CutoffDays)
	require.Equal(t, "http", cfg.Navigator.Mode)
	require.False(t, cfg.Navigator.Headless)
	require.Equal(t, 5*time.Minute, cfg.RecoveryWait())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	bad := base
	bad.Crawler.CutoffDays = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.Navigator.Mode = "selenium"
	require.Error(t, bad.Validate())

	bad = base
	bad.Recovery.NavTimeoutSec = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.Backoff.ItemDelayMaxSec = 1
	bad.Backoff.ItemDelayMinSec = 5
	require.Error(t, bad.Validate())
}

func TestLocationFallsBackToKST(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Crawler.Timezone = "Not/AZone"
	loc := cfg.Location()
	_, offset := time.Date(2025, 6, 15, 0, 0, 0, 0, loc).Zone()
	require.Equal(t, 9*60*60, offset)
}
