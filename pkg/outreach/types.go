// Package outreach implements the single-flight task orchestrator that drives
// a browser session through the candidate feed: dedup, filtering, pacing,
// block detection, and terminal-state reporting.
package outreach

import (
	"context"
	"errors"
	"strings"
	"time"

	"outreach/pkg/logging"
	"outreach/pkg/pacing"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusLimitReached Status = "limit_reached"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status requires an explicit reset before a new
// run may start.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusLimitReached, StatusCancelled:
		return true
	}
	return false
}

// Orchestrator errors.
var (
	// ErrAlreadyRunning is returned by Start while a non-stale run is active
	ErrAlreadyRunning = errors.New("a task is already running")

	// ErrPreconditionFailed is returned by Start without an authenticated,
	// initialized browser session
	ErrPreconditionFailed = errors.New("no authenticated browser session")

	// ErrNotRunning is returned by Stop when no run is active
	ErrNotRunning = errors.New("no task is running")

	// ErrRunInProgress is returned by Reset while a run is still active
	ErrRunInProgress = errors.New("task is still running; stop it first")
)

// Candidate is one entry of the rendered feed window.
type Candidate struct {
	// Name is the candidate's display name
	Name string

	// Position is the candidate's declared target position; empty when the
	// card carries none
	Position string
}

// Ref is the ephemeral per-run dedup identity. The feed is virtually
// scrolled, so positions are meaningless across queries; identity derives
// from rendered content instead.
type Ref string

// Ref derives the dedup identity for the candidate.
func (c Candidate) Ref() Ref {
	return Ref(strings.ToLower(strings.TrimSpace(c.Name)) + "|" + strings.ToLower(strings.TrimSpace(c.Position)))
}

// SendOutcome classifies what happened when the send control was exercised.
type SendOutcome int

const (
	// OutcomeSent means the greeting was dispatched
	OutcomeSent SendOutcome = iota

	// OutcomeAlreadyContacted means the control showed a continue-conversation
	// label; no message was sent
	OutcomeAlreadyContacted

	// OutcomeNoControl means no send control could be located
	OutcomeNoControl
)

// Counters tracks per-run outcomes. success+failed+skipped always equals the
// number of distinct refs processed, which never exceeds attempted.
type Counters struct {
	Attempted int `json:"attempted"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Params configures one run.
type Params struct {
	// TargetCount is the number of successful sends to reach
	TargetCount int

	// PositionFilter holds keywords; empty means no filtering. A candidate
	// passes when their declared position contains any keyword,
	// case-insensitively.
	PositionFilter []string

	// Message is the greeting template; {name} and {position} placeholders
	// are rendered per candidate
	Message string
}

// Summary is the durable record of a finished (or resumable) run.
type Summary struct {
	RunID          string        `json:"run_id"`
	Status         Status        `json:"status"`
	Counters       Counters      `json:"counters"`
	TargetCount    int           `json:"target_count"`
	PositionFilter []string      `json:"position_filter"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Elapsed        time.Duration `json:"elapsed"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// Snapshot is the queryable view of the task in any state.
type Snapshot struct {
	RunID          string    `json:"run_id,omitempty"`
	Status         Status    `json:"status"`
	Counters       Counters  `json:"counters"`
	TargetCount    int       `json:"target_count"`
	PositionFilter []string  `json:"position_filter,omitempty"`
	Processed      int       `json:"processed"`
	MaxAttempts    int       `json:"max_attempts"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Driver is the capability surface the runner drives. The production
// implementation adapts a Playwright page; tests substitute a scripted fake.
type Driver interface {
	// VisibleCandidates returns the candidate entries currently rendered in
	// the feed's visible window
	VisibleCandidates(ctx context.Context) ([]Candidate, error)

	// LoadMore triggers an incremental scroll so the feed materializes more
	// entries
	LoadMore(ctx context.Context) error

	// OpenDetail opens the candidate's detail view
	OpenDetail(ctx context.Context, c Candidate) error

	// Send exercises the send control and classifies the outcome
	Send(ctx context.Context, message string) (SendOutcome, error)

	// CloseDetail closes the detail view
	CloseDetail(ctx context.Context) error
}

// BlockDetector is the advisory block/limit signal consulted each iteration.
type BlockDetector interface {
	// Blocked reports a rate-limit/block signal; it ends the run
	Blocked(ctx context.Context) (bool, error)

	// Interstitial reports a transient verification overlay; the run waits
	// it out rather than treating it as a limit
	Interstitial(ctx context.Context) (bool, error)
}

// Pacer supplies the timing-realism delays. One Pacer instance is created per
// run so the periodic-rest counter starts fresh.
type Pacer interface {
	Pause(ctx context.Context, action pacing.Action) error
	BeforeSend(ctx context.Context) error
	RestDue() bool
	Rest(ctx context.Context) error
}

// SessionGate answers whether an authenticated, initialized page exists.
type SessionGate interface {
	Authenticated() bool
}

// Sink persists run summaries and the append-only run log.
type Sink interface {
	logging.Sink
	SaveRunSummary(ctx context.Context, s Summary) error
}

// Notifier delivers the structured summary of a terminal run.
type Notifier interface {
	NotifyRun(ctx context.Context, s Summary) error
}
