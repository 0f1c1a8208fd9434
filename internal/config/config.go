// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fconline-rag/boardcrawler/internal/board"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Backoff   BackoffConfig   `mapstructure:"backoff"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Navigator NavigatorConfig `mapstructure:"navigator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs session scope and artifact placement.
type CrawlerConfig struct {
	Board      string `mapstructure:"board"`
	OutputDir  string `mapstructure:"output_dir"`
	StateDir   string `mapstructure:"state_dir"`
	CutoffDays int    `mapstructure:"cutoff_days"`
	Timezone   string `mapstructure:"timezone"`
}

// BackoffConfig holds the pacing tier constants in primitive units.
type BackoffConfig struct {
	ItemDelayMinSec    int `mapstructure:"item_delay_min_seconds"`
	ItemDelayMaxSec    int `mapstructure:"item_delay_max_seconds"`
	ItemRestEvery      int `mapstructure:"item_rest_every"`
	ItemRestMinSec     int `mapstructure:"item_rest_min_seconds"`
	ItemRestMaxSec     int `mapstructure:"item_rest_max_seconds"`
	PageDelayMinSec    int `mapstructure:"page_delay_min_seconds"`
	PageDelayMaxSec    int `mapstructure:"page_delay_max_seconds"`
	PageRestEvery      int `mapstructure:"page_rest_every"`
	PageRestMinSec     int `mapstructure:"page_rest_min_seconds"`
	PageRestMaxSec     int `mapstructure:"page_rest_max_seconds"`
	PageLongRestEvery  int `mapstructure:"page_long_rest_every"`
	PageLongRestMinSec int `mapstructure:"page_long_rest_min_seconds"`
	PageLongRestMaxSec int `mapstructure:"page_long_rest_max_seconds"`
}

// RecoveryConfig bounds the stall-recovery protocol.
type RecoveryConfig struct {
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
	WaitMinutes   int `mapstructure:"wait_minutes"`
}

// NavigatorConfig selects and tunes the page-rendering engine.
type NavigatorConfig struct {
	Mode      string  `mapstructure:"mode"` // chromedp or http
	Headless  bool    `mapstructure:"headless"`
	UserAgent string  `mapstructure:"user_agent"`
	HostQPS   float64 `mapstructure:"host_qps"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOARDCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.board", "community")
	v.SetDefault("crawler.output_dir", "data")
	v.SetDefault("crawler.state_dir", "state")
	v.SetDefault("crawler.cutoff_days", 90)
	v.SetDefault("crawler.timezone", "Asia/Seoul")

	v.SetDefault("backoff.item_delay_min_seconds", 2)
	v.SetDefault("backoff.item_delay_max_seconds", 5)
	v.SetDefault("backoff.item_rest_every", 10)
	v.SetDefault("backoff.item_rest_min_seconds", 10)
	v.SetDefault("backoff.item_rest_max_seconds", 15)
	v.SetDefault("backoff.page_delay_min_seconds", 2)
	v.SetDefault("backoff.page_delay_max_seconds", 6)
	v.SetDefault("backoff.page_rest_every", 3)
	v.SetDefault("backoff.page_rest_min_seconds", 60)
	v.SetDefault("backoff.page_rest_max_seconds", 180)
	v.SetDefault("backoff.page_long_rest_every", 10)
	v.SetDefault("backoff.page_long_rest_min_seconds", 480)
	v.SetDefault("backoff.page_long_rest_max_seconds", 720)

	v.SetDefault("recovery.nav_timeout_seconds", 180)
	v.SetDefault("recovery.wait_minutes", 15)

	v.SetDefault("navigator.mode", "chromedp")
	v.SetDefault("navigator.headless", true)
	v.SetDefault("navigator.user_agent", "fconline-board-crawler/1.0")
	v.SetDefault("navigator.host_qps", 0.5)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9180")

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Board == "" {
		return fmt.Errorf("crawler.board must be set")
	}
	if c.Crawler.CutoffDays <= 0 {
		return fmt.Errorf("crawler.cutoff_days must be > 0")
	}
	if c.Backoff.ItemDelayMinSec < 0 || c.Backoff.ItemDelayMaxSec < c.Backoff.ItemDelayMinSec {
		return fmt.Errorf("backoff.item_delay range is invalid")
	}
	if c.Recovery.NavTimeoutSec <= 0 {
		return fmt.Errorf("recovery.nav_timeout_seconds must be > 0")
	}
	if c.Recovery.WaitMinutes <= 0 {
		return fmt.Errorf("recovery.wait_minutes must be > 0")
	}
	switch c.Navigator.Mode {
	case "chromedp", "http":
	default:
		return fmt.Errorf("navigator.mode must be chromedp or http, got %q", c.Navigator.Mode)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// CutoffWindow returns the crawl window as a duration.
func (c Config) CutoffWindow() time.Duration {
	return time.Duration(c.Crawler.CutoffDays) * 24 * time.Hour
}

// NavTimeout returns the per-operation navigation deadline.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Recovery.NavTimeoutSec) * time.Second
}

// RecoveryWait returns the fixed wait between recovery and retry.
func (c Config) RecoveryWait() time.Duration {
	return time.Duration(c.Recovery.WaitMinutes) * time.Minute
}

// BackoffTiers converts the primitive tier constants into the scheduler's
// duration-based config.
func (c Config) BackoffTiers() board.BackoffConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return board.BackoffConfig{
		ItemDelayMin:      sec(c.Backoff.ItemDelayMinSec),
		ItemDelayMax:      sec(c.Backoff.ItemDelayMaxSec),
		ItemRestEvery:     c.Backoff.ItemRestEvery,
		ItemRestMin:       sec(c.Backoff.ItemRestMinSec),
		ItemRestMax:       sec(c.Backoff.ItemRestMaxSec),
		PageDelayMin:      sec(c.Backoff.PageDelayMinSec),
		PageDelayMax:      sec(c.Backoff.PageDelayMaxSec),
		PageRestEvery:     c.Backoff.PageRestEvery,
		PageRestMin:       sec(c.Backoff.PageRestMinSec),
		PageRestMax:       sec(c.Backoff.PageRestMaxSec),
		PageLongRestEvery: c.Backoff.PageLongRestEvery,
		PageLongRestMin:   sec(c.Backoff.PageLongRestMinSec),
		PageLongRestMax:   sec(c.Backoff.PageLongRestMaxSec),
	}
}

// Location resolves the configured timezone, falling back to a fixed KST
// offset when the tz database is unavailable.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Crawler.Timezone)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}
