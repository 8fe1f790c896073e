// Package pacing generates the randomized delays that make automated browser
// interaction resemble a human operator. It never fails; every method returns
// early only when the context is cancelled.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outreach/pkg/config"
)

// Action classifies a micro-interaction so each gets a believable delay range.
type Action int

const (
	// ActionClickWait follows clicking a candidate card
	ActionClickWait Action = iota
	// ActionRead simulates reading an opened detail view
	ActionRead
	// ActionDecide simulates hesitating before pressing the send control
	ActionDecide
	// ActionSettle waits out the server response after a send
	ActionSettle
	// ActionClose precedes locating and pressing the close control
	ActionClose
	// ActionNext separates one candidate from the next
	ActionNext
)

// Policy produces jittered delays, a periodic long rest, and a global cap on
// send actions. Safe for use from a single run loop; the action counter is
// guarded so status queries may race it.
type Policy struct {
	ranges    map[Action]config.PacingRange
	restEvery int
	restBase  time.Duration
	limiter   *rate.Limiter

	mu      sync.Mutex
	rand    *rand.Rand
	actions int
}

// New builds a policy from configuration.
func New(cfg config.PacingConfig) *Policy {
	p := &Policy{
		ranges: map[Action]config.PacingRange{
			ActionClickWait: cfg.ClickWait,
			ActionRead:      cfg.Read,
			ActionDecide:    cfg.Decide,
			ActionSettle:    cfg.Settle,
			ActionClose:     cfg.Close,
			ActionNext:      cfg.Next,
		},
		restEvery: cfg.RestEvery,
		restBase:  time.Duration(cfg.RestSeconds) * time.Second,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.ActionsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(cfg.ActionsPerMinute)/60.0), 1)
	}
	return p
}

// withSeed pins the random source, for tests.
func (p *Policy) withSeed(seed int64) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rand = rand.New(rand.NewSource(seed))
	return p
}

// Delay returns a randomized duration for the action class without sleeping.
func (p *Policy) Delay(action Action) time.Duration {
	r, ok := p.ranges[action]
	if !ok || r.MaxMs <= 0 {
		return 0
	}
	span := r.MaxMs - r.MinMs
	p.mu.Lock()
	ms := r.MinMs
	if span > 0 {
		ms += p.rand.Intn(span + 1)
	}
	p.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// Pause sleeps for a randomized duration appropriate to the action class.
func (p *Policy) Pause(ctx context.Context, action Action) error {
	return sleep(ctx, p.Delay(action))
}

// BeforeSend blocks until the send-rate token bucket admits another action,
// then records it toward the periodic rest.
func (p *Policy) BeforeSend(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.actions++
	p.mu.Unlock()
	return nil
}

// RestDue reports whether enough send actions have accumulated to warrant the
// long periodic rest.
func (p *Policy) RestDue() bool {
	if p.restEvery <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actions > 0 && p.actions%p.restEvery == 0
}

// RestDuration returns the jittered long-rest duration: the configured base
// plus up to ±10s of jitter, never below 5s.
func (p *Policy) RestDuration() time.Duration {
	p.mu.Lock()
	jitter := time.Duration(p.rand.Int63n(int64(20*time.Second))) - 10*time.Second
	p.mu.Unlock()

	d := p.restBase + jitter
	if d < 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// Rest sleeps for the jittered long-rest duration.
func (p *Policy) Rest(ctx context.Context) error {
	return sleep(ctx, p.RestDuration())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
