package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Bounds(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Automation.MaxAttemptsMultiplier)
	assert.Equal(t, 100, cfg.Automation.MaxAttemptsFloor)
	assert.Equal(t, 1000, cfg.Automation.MaxAttemptsCeiling)
	assert.Equal(t, 30, cfg.Automation.StaleTimeoutMinutes)
	assert.Equal(t, 3, cfg.Automation.InteractionRetries)
	assert.Equal(t, 3, cfg.Automation.ChallengeRefreshLimit)
	assert.NoError(t, cfg.Validate())
}

func TestDefault_SelectorsPopulated(t *testing.T) {
	sel := DefaultSelectors()

	assert.NotEmpty(t, sel.LoginButton)
	assert.NotEmpty(t, sel.GreetButtons)
	assert.NotEmpty(t, sel.CloseButtons)
	assert.NotEmpty(t, sel.BlockDialogs)
	assert.GreaterOrEqual(t, len(sel.BlockKeywords), 2)
	assert.NotEmpty(t, sel.Interstitials)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Automation, cfg.Automation)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: "0.0.0.0:9000"
automation:
  stale_timeout_minutes: 10
  empty_scroll_budget: 2
pacing:
  rest_every: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Automation.StaleTimeoutMinutes)
	assert.Equal(t, 2, cfg.Automation.EmptyScrollBudget)
	assert.Equal(t, 5, cfg.Pacing.RestEvery)
	// Untouched fields keep defaults.
	assert.Equal(t, 3, cfg.Automation.InteractionRetries)
	assert.Equal(t, "https://www.zhipin.com", cfg.Browser.BaseURL)
}

func TestLoad_RejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "zero multiplier",
			content: `
automation:
  max_attempts_multiplier: 0
`,
		},
		{
			name: "floor above ceiling",
			content: `
automation:
  max_attempts_floor: 2000
`,
		},
		{
			name: "inverted pacing range",
			content: `
pacing:
  read:
    min_ms: 5000
    max_ms: 100
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := Default()
	cfg.Server.Addr = "127.0.0.1:9999"
	cfg.Automation.EmptyScrollBudget = 7
	cfg.Notification.Enabled = true
	cfg.Notification.Webhook = "https://example.com/hook"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server, loaded.Server)
	assert.Equal(t, cfg.Automation, loaded.Automation)
	assert.Equal(t, cfg.Notification, loaded.Notification)
}
