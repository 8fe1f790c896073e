package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomUserAgent_FromPool(t *testing.T) {
	for i := 0; i < 50; i++ {
		ua := randomUserAgent()
		assert.Contains(t, userAgents, ua)
		assert.True(t, strings.HasPrefix(ua, "Mozilla/5.0"))
	}
}

func TestLaunchArgsDisableAutomationFlags(t *testing.T) {
	assert.Contains(t, launchArgs, "--disable-blink-features=AutomationControlled")
}

func TestStealthScriptCoversKnownProbes(t *testing.T) {
	for _, probe := range []string{
		"navigator, 'webdriver'",
		"window.chrome",
		"permissions.query",
		"cdc_adoQpoasnfa76pfcZLmcfl_Array",
		"WebGLRenderingContext",
	} {
		assert.Contains(t, stealthScript, probe)
	}
}
