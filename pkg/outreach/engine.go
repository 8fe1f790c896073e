package outreach

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outreach/pkg/config"
	"outreach/pkg/logging"
	"outreach/pkg/pacing"
)

// Engine owns the single task slot. All state transitions happen under the
// mutex; the run loop itself reads shared state only through snapshots and
// writes only through the engine's locked mutators.
type Engine struct {
	driver   Driver
	detector BlockDetector
	gate     SessionGate
	sink     Sink
	notifier Notifier
	newPacer func() Pacer
	bounds   config.AutomationConfig
	logger   zerolog.Logger
	ring     *logging.Ring
	clock    func() time.Time

	mu          sync.Mutex
	runID       string
	status      Status
	params      Params
	counters    Counters
	processed   map[Ref]struct{}
	maxAttempts int
	startedAt   time.Time
	endedAt     time.Time
	errMsg      string
	stopFlag    *atomic.Bool
	done        chan struct{}
}

// Options carries the engine's collaborators.
type Options struct {
	Driver   Driver
	Detector BlockDetector
	Gate     SessionGate
	Sink     Sink
	Notifier Notifier

	// NewPacer builds a fresh pacer per run; defaults to pacing.New over the
	// supplied pacing config when nil
	NewPacer func() Pacer

	Automation config.AutomationConfig
	Pacing     config.PacingConfig
	Logger     zerolog.Logger
}

// NewEngine creates an idle engine.
func NewEngine(opts Options) *Engine {
	newPacer := opts.NewPacer
	if newPacer == nil {
		pcfg := opts.Pacing
		newPacer = func() Pacer { return pacing.New(pcfg) }
	}
	return &Engine{
		driver:    opts.Driver,
		detector:  opts.Detector,
		gate:      opts.Gate,
		sink:      opts.Sink,
		notifier:  opts.Notifier,
		newPacer:  newPacer,
		bounds:    opts.Automation,
		logger:    opts.Logger.With().Str("component", "outreach").Logger(),
		ring:      logging.NewRing(logging.DefaultRingCapacity),
		clock:     time.Now,
		status:    StatusIdle,
		processed: make(map[Ref]struct{}),
	}
}

// Start begins a run. It fails without mutating state when the session
// precondition is unmet, the params are invalid, or a live run is in flight.
// A run that has exceeded the stale timeout without reaching a terminal state
// is treated as crashed and auto-reset. A terminal status does not block a
// new start; it is replaced.
func (e *Engine) Start(params Params) (string, error) {
	if params.TargetCount < 1 {
		return "", fmt.Errorf("target count must be at least 1, got %d", params.TargetCount)
	}
	if strings.TrimSpace(params.Message) == "" {
		return "", errors.New("greeting message must not be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning {
		if !e.staleLocked() {
			return "", ErrAlreadyRunning
		}
		e.logger.Warn().Str("run_id", e.runID).
			Time("started_at", e.startedAt).
			Msg("auto-resetting stale run")
		// If the abandoned goroutine is somehow still alive, this makes it
		// exit at its next cycle; its runID no longer matches, so it cannot
		// touch the replacement run's state either way.
		e.stopFlag.Store(true)
		e.resetLocked()
	}

	if e.gate != nil && !e.gate.Authenticated() {
		return "", ErrPreconditionFailed
	}

	e.resetLocked()
	e.runID = uuid.NewString()
	e.status = StatusRunning
	e.params = params
	e.maxAttempts = maxAttempts(params.TargetCount, e.bounds)
	e.startedAt = e.clock()
	e.stopFlag = &atomic.Bool{}
	e.done = make(chan struct{})

	runlog := logging.NewRunLog(e.runID, e.ring, e.logger, e.sink)
	runlog.Infof("run started: target=%d filter=%v max_attempts=%d",
		params.TargetCount, params.PositionFilter, e.maxAttempts)

	go e.run(e.runID, params, e.maxAttempts, e.stopFlag, e.done, runlog)
	return e.runID, nil
}

// Stop requests cancellation. The run loop observes the flag at the top of
// the candidate cycle; any action already underway finishes first.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return ErrNotRunning
	}
	e.stopFlag.Store(true)
	return nil
}

// Reset returns a terminal or idle engine to idle, clearing counters and the
// log ring. It refuses while a run is active.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning && !e.staleLocked() {
		return ErrRunInProgress
	}
	e.resetLocked()
	return nil
}

// ForceReset unconditionally returns the engine to idle. A live run is told
// to stop and abandoned; its runID no longer matches, so it cannot touch the
// state that replaces it.
func (e *Engine) ForceReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning && e.stopFlag != nil {
		e.logger.Warn().Str("run_id", e.runID).Msg("force reset while run in flight")
		e.stopFlag.Store(true)
	}
	e.resetLocked()
}

// Snapshot returns the current view of the task.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		RunID:          e.runID,
		Status:         e.status,
		Counters:       e.counters,
		TargetCount:    e.params.TargetCount,
		PositionFilter: e.params.PositionFilter,
		Processed:      len(e.processed),
		MaxAttempts:    e.maxAttempts,
		StartedAt:      e.startedAt,
		EndedAt:        e.endedAt,
		ErrorMessage:   e.errMsg,
	}
	switch {
	case e.status == StatusRunning:
		snap.ElapsedSeconds = e.clock().Sub(e.startedAt).Seconds()
	case !e.endedAt.IsZero():
		snap.ElapsedSeconds = e.endedAt.Sub(e.startedAt).Seconds()
	}
	return snap
}

// Logs returns up to n recent run log lines, oldest first.
func (e *Engine) Logs(n int) []logging.Line {
	return e.ring.Last(n)
}

func (e *Engine) resetLocked() {
	e.runID = ""
	e.status = StatusIdle
	e.params = Params{}
	e.counters = Counters{}
	e.processed = make(map[Ref]struct{})
	e.maxAttempts = 0
	e.startedAt = time.Time{}
	e.endedAt = time.Time{}
	e.errMsg = ""
	e.stopFlag = nil
	e.done = nil
	e.ring.Clear()
}

func (e *Engine) staleLocked() bool {
	return e.status == StatusRunning && e.clock().Sub(e.startedAt) > e.bounds.StaleTimeout()
}

// maxAttempts clamps target*multiplier to the configured floor and ceiling.
func maxAttempts(target int, b config.AutomationConfig) int {
	n := target * b.MaxAttemptsMultiplier
	if n < b.MaxAttemptsFloor {
		n = b.MaxAttemptsFloor
	}
	if n > b.MaxAttemptsCeiling {
		n = b.MaxAttemptsCeiling
	}
	return n
}

// renderMessage fills the {name} and {position} placeholders.
func renderMessage(template string, c Candidate) string {
	msg := strings.ReplaceAll(template, "{name}", c.Name)
	return strings.ReplaceAll(msg, "{position}", c.Position)
}

// matchesFilter reports whether the candidate's declared position contains
// any keyword, case-insensitively. A candidate with no declared position
// never matches a non-empty filter.
func matchesFilter(position string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	if position == "" {
		return false
	}
	lower := strings.ToLower(position)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
