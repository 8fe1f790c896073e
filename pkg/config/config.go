// Package config loads and persists the daemon configuration.
//
// All empirically tuned numeric bounds (retry counts, stale timeout, the
// maxAttempts clamp, pacing ranges) and every target-site selector live here,
// so UI drift on the target site can be patched by editing the config file
// rather than control flow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the outreach daemon.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Browser      BrowserConfig      `yaml:"browser"`
	Automation   AutomationConfig   `yaml:"automation"`
	Pacing       PacingConfig       `yaml:"pacing"`
	Selectors    SelectorConfig     `yaml:"selectors"`
	Store        StoreConfig        `yaml:"store"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8700"
	Addr string `yaml:"addr"`
}

// BrowserConfig configures the Playwright browser layer.
type BrowserConfig struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool `yaml:"headless"`

	// BaseURL is the target site root
	BaseURL string `yaml:"base_url"`

	// ViewportWidth and ViewportHeight set the browser viewport
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// NavigationTimeoutMs bounds every page navigation (milliseconds)
	NavigationTimeoutMs float64 `yaml:"navigation_timeout_ms"`

	// StateDir holds temporary storage-state files handed to Playwright
	StateDir string `yaml:"state_dir"`
}

// AutomationConfig holds the orchestrator's tuned bounds. None of these are
// analytically justified; they were tuned against the live site and should be
// treated as knobs, not invariants.
type AutomationConfig struct {
	// MaxAttemptsMultiplier, MaxAttemptsFloor and MaxAttemptsCeiling define
	// maxAttempts(target) = clamp(target*multiplier, floor, ceiling)
	MaxAttemptsMultiplier int `yaml:"max_attempts_multiplier"`
	MaxAttemptsFloor      int `yaml:"max_attempts_floor"`
	MaxAttemptsCeiling    int `yaml:"max_attempts_ceiling"`

	// StaleTimeoutMinutes is how long a run may stay "running" before a new
	// start is allowed to reclaim it
	StaleTimeoutMinutes int `yaml:"stale_timeout_minutes"`

	// InteractionRetries bounds retries of transient browser interactions
	InteractionRetries int `yaml:"interaction_retries"`

	// RetryBackoffMs is the base backoff between interaction retries
	RetryBackoffMs int `yaml:"retry_backoff_ms"`

	// EmptyScrollBudget is the number of consecutive scrolls that may yield
	// no new candidates before the feed is declared exhausted
	EmptyScrollBudget int `yaml:"empty_scroll_budget"`

	// ChallengeRefreshLimit bounds consecutive automatic QR refreshes
	ChallengeRefreshLimit int `yaml:"challenge_refresh_limit"`

	// InterstitialWaitBudget is the number of consecutive rests the runner
	// spends waiting for a verification overlay to clear before giving up
	InterstitialWaitBudget int `yaml:"interstitial_wait_budget"`

	// DetailCloseGraceMs is the fixed wait substituted for a confirmed close
	// when every close probe fails
	DetailCloseGraceMs int `yaml:"detail_close_grace_ms"`
}

// PacingRange is a half-open delay range in milliseconds.
type PacingRange struct {
	MinMs int `yaml:"min_ms"`
	MaxMs int `yaml:"max_ms"`
}

// PacingConfig configures the timing-realism policy.
type PacingConfig struct {
	ClickWait PacingRange `yaml:"click_wait"`
	Read      PacingRange `yaml:"read"`
	Decide    PacingRange `yaml:"decide"`
	Settle    PacingRange `yaml:"settle"`
	Close     PacingRange `yaml:"close"`
	Next      PacingRange `yaml:"next"`

	// RestEvery triggers a long rest after this many send actions
	RestEvery int `yaml:"rest_every"`

	// RestSeconds is the nominal long-rest duration (jittered ±10s, min 5s)
	RestSeconds int `yaml:"rest_seconds"`

	// ActionsPerMinute caps send actions with a token bucket
	ActionsPerMinute int `yaml:"actions_per_minute"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path"`
}

// NotificationConfig configures the outbound webhook notifier.
type NotificationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
}

// Default returns the configuration with every tuned bound at the value the
// automation was calibrated with.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8700",
		},
		Browser: BrowserConfig{
			Headless:            true,
			BaseURL:             "https://www.zhipin.com",
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			StateDir:            defaultStateDir(),
		},
		Automation: AutomationConfig{
			MaxAttemptsMultiplier:  3,
			MaxAttemptsFloor:       100,
			MaxAttemptsCeiling:     1000,
			StaleTimeoutMinutes:    30,
			InteractionRetries:     3,
			RetryBackoffMs:         500,
			EmptyScrollBudget:      5,
			ChallengeRefreshLimit:  3,
			DetailCloseGraceMs:     1500,
			InterstitialWaitBudget: 3,
		},
		Pacing: PacingConfig{
			ClickWait:        PacingRange{MinMs: 1000, MaxMs: 2000},
			Read:             PacingRange{MinMs: 2000, MaxMs: 4000},
			Decide:           PacingRange{MinMs: 500, MaxMs: 1500},
			Settle:           PacingRange{MinMs: 2000, MaxMs: 3000},
			Close:            PacingRange{MinMs: 300, MaxMs: 800},
			Next:             PacingRange{MinMs: 1000, MaxMs: 2000},
			RestEvery:        20,
			RestSeconds:      45,
			ActionsPerMinute: 30,
		},
		Selectors: DefaultSelectors(),
		Store: StoreConfig{
			Path: filepath.Join(defaultStateDir(), "outreach.db"),
		},
		Notification: NotificationConfig{
			Enabled: false,
		},
	}
}

func defaultStateDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".outreach"
	}
	return filepath.Join(homeDir, ".outreach")
}

// Load reads the configuration from path, applying defaults for anything the
// file omits. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename).
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Automation.MaxAttemptsMultiplier < 1 {
		return fmt.Errorf("automation.max_attempts_multiplier must be >= 1")
	}
	if c.Automation.MaxAttemptsFloor > c.Automation.MaxAttemptsCeiling {
		return fmt.Errorf("automation.max_attempts_floor exceeds ceiling")
	}
	if c.Automation.StaleTimeoutMinutes < 1 {
		return fmt.Errorf("automation.stale_timeout_minutes must be >= 1")
	}
	if c.Pacing.RestEvery < 1 {
		return fmt.Errorf("pacing.rest_every must be >= 1")
	}
	ranges := []PacingRange{
		c.Pacing.ClickWait, c.Pacing.Read, c.Pacing.Decide,
		c.Pacing.Settle, c.Pacing.Close, c.Pacing.Next,
	}
	for _, r := range ranges {
		if r.MinMs < 0 || r.MaxMs < r.MinMs {
			return fmt.Errorf("pacing range [%d, %d] is invalid", r.MinMs, r.MaxMs)
		}
	}
	return nil
}

// NavigationTimeout returns the navigation timeout as a duration.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}

// StaleTimeout returns the orphaned-run timeout as a duration.
func (a AutomationConfig) StaleTimeout() time.Duration {
	return time.Duration(a.StaleTimeoutMinutes) * time.Minute
}

// RetryBackoff returns the base interaction retry backoff as a duration.
func (a AutomationConfig) RetryBackoff() time.Duration {
	if a.RetryBackoffMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(a.RetryBackoffMs) * time.Millisecond
}

// DetailCloseGrace returns the unconfirmed-close grace wait as a duration.
func (a AutomationConfig) DetailCloseGrace() time.Duration {
	if a.DetailCloseGraceMs <= 0 {
		return time.Second
	}
	return time.Duration(a.DetailCloseGraceMs) * time.Millisecond
}
