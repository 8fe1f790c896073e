package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/pkg/config"
)

func testConfig() config.PacingConfig {
	cfg := config.Default().Pacing
	cfg.RestEvery = 3
	cfg.RestSeconds = 45
	cfg.ActionsPerMinute = 0 // no token bucket in unit tests
	return cfg
}

func TestDelay_StaysWithinRange(t *testing.T) {
	p := New(testConfig()).withSeed(1)

	tests := []struct {
		name   string
		action Action
		min    time.Duration
		max    time.Duration
	}{
		{"click wait", ActionClickWait, time.Second, 2 * time.Second},
		{"read", ActionRead, 2 * time.Second, 4 * time.Second},
		{"decide", ActionDecide, 500 * time.Millisecond, 1500 * time.Millisecond},
		{"settle", ActionSettle, 2 * time.Second, 3 * time.Second},
		{"close", ActionClose, 300 * time.Millisecond, 800 * time.Millisecond},
		{"next", ActionNext, time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				d := p.Delay(tt.action)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}

func TestDelay_UnknownActionIsZero(t *testing.T) {
	p := New(testConfig())
	assert.Equal(t, time.Duration(0), p.Delay(Action(99)))
}

func TestRestDue_TriggersEveryNthAction(t *testing.T) {
	p := New(testConfig())
	ctx := context.Background()

	assert.False(t, p.RestDue(), "no actions yet")

	for i := 1; i <= 7; i++ {
		require.NoError(t, p.BeforeSend(ctx))
		due := p.RestDue()
		if i%3 == 0 {
			assert.True(t, due, "action %d should trigger rest", i)
		} else {
			assert.False(t, due, "action %d should not trigger rest", i)
		}
	}
}

func TestRestDuration_JitteredWithFloor(t *testing.T) {
	p := New(testConfig()).withSeed(7)

	for i := 0; i < 200; i++ {
		d := p.RestDuration()
		assert.GreaterOrEqual(t, d, 35*time.Second)
		assert.LessOrEqual(t, d, 55*time.Second)
	}

	// A tiny base still rests at least 5s.
	small := testConfig()
	small.RestSeconds = 1
	p = New(small).withSeed(7)
	for i := 0; i < 200; i++ {
		assert.GreaterOrEqual(t, p.RestDuration(), 5*time.Second)
	}
}

func TestPause_HonorsCancelledContext(t *testing.T) {
	p := New(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Pause(ctx, ActionRead)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBeforeSend_RateLimiterHonorsCancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.ActionsPerMinute = 1
	p := New(cfg)

	ctx := context.Background()
	require.NoError(t, p.BeforeSend(ctx)) // first token is available

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.BeforeSend(cancelled))
}
