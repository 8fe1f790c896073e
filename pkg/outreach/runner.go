package outreach

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"outreach/pkg/logging"
	"outreach/pkg/pacing"
)

// stopReason tells the loop why it is terminating.
type stopReason struct {
	status Status
	detail string
}

// run is the candidate loop. It executes on its own goroutine with a
// background context: cancellation is cooperative through the stop flag,
// observed only at the top of each cycle so no browser action is abandoned
// midway.
func (e *Engine) run(runID string, params Params, maxAttempts int, stop *atomic.Bool, done chan struct{}, runlog *logging.RunLog) {
	ctx := context.Background()
	pacer := e.newPacer()

	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.finalize(ctx, runID, stopReason{StatusError, fmt.Sprintf("run panicked: %v", r)}, runlog)
		}
	}()

	reason := e.loop(ctx, runID, params, maxAttempts, stop, pacer, runlog)
	e.finalize(ctx, runID, reason, runlog)
}

func (e *Engine) loop(ctx context.Context, runID string, params Params, maxAttempts int, stop *atomic.Bool, pacer Pacer, runlog *logging.RunLog) stopReason {
	emptyScrolls := 0
	interstitialWaits := 0

	for {
		if stop.Load() {
			runlog.Infof("stop requested, ending run")
			return stopReason{StatusCancelled, ""}
		}

		// A verification overlay is waited out, not acted through; if it
		// never clears the run ends as an error rather than spinning.
		present, perr := e.detector.Interstitial(ctx)
		if perr != nil {
			runlog.Warnf("verification check failed: %v", perr)
		}
		if present {
			interstitialWaits++
			if interstitialWaits > e.bounds.InterstitialWaitBudget {
				runlog.Errorf("verification challenge did not clear after %d waits, ending run", interstitialWaits-1)
				return stopReason{StatusError, "verification challenge persisted"}
			}
			runlog.Warnf("verification challenge present, waiting it out")
			if err := pacer.Rest(ctx); err != nil {
				return stopReason{StatusError, err.Error()}
			}
			continue
		}
		interstitialWaits = 0

		counters, ok := e.countersView(runID)
		if !ok {
			// This goroutine was superseded by a stale-run auto-reset.
			return stopReason{StatusCancelled, ""}
		}
		if counters.Success >= params.TargetCount {
			runlog.Infof("target reached: %d greetings sent", counters.Success)
			return stopReason{StatusCompleted, ""}
		}
		if counters.Attempted >= maxAttempts {
			runlog.Warnf("attempt budget exhausted after %d candidates, sent %d of %d",
				counters.Attempted, counters.Success, params.TargetCount)
			return stopReason{StatusCompleted, "attempt budget exhausted"}
		}

		candidate, found, err := e.nextCandidate(ctx, runID)
		if err != nil {
			runlog.Errorf("feed query failed: %v", err)
			return stopReason{StatusError, fmt.Sprintf("feed query failed: %v", err)}
		}
		if !found {
			emptyScrolls++
			if emptyScrolls > e.bounds.EmptyScrollBudget {
				runlog.Warnf("feed exhausted after %d scrolls without new candidates", emptyScrolls-1)
				return stopReason{StatusCompleted, "feed exhausted"}
			}
			if err := e.driver.LoadMore(ctx); err != nil {
				runlog.Warnf("scroll failed: %v", err)
			}
			if err := pacer.Pause(ctx, pacing.ActionNext); err != nil {
				return stopReason{StatusError, err.Error()}
			}
			continue
		}
		emptyScrolls = 0

		// Dedup before acting: the ref is recorded even if every later step
		// fails, so one candidate is never retried within a run.
		e.markProcessed(runID, candidate)

		if !matchesFilter(candidate.Position, params.PositionFilter) {
			e.addSkipped(runID)
			runlog.Infof("skipped %s: position %q does not match filter", candidate.Name, candidate.Position)
			continue
		}

		outcome := e.contact(ctx, runID, candidate, params, pacer, runlog)

		blocked, berr := e.detector.Blocked(ctx)
		if berr != nil {
			runlog.Warnf("block check failed: %v", berr)
		}
		if blocked {
			runlog.Errorf("block signal detected after contacting %s, ending run", candidate.Name)
			return stopReason{StatusLimitReached, "platform block or daily limit detected"}
		}

		if outcome == contactOpened {
			e.closeDetail(ctx, pacer, runlog)
		}

		if err := pacer.Pause(ctx, pacing.ActionNext); err != nil {
			return stopReason{StatusError, err.Error()}
		}
		if pacer.RestDue() {
			runlog.Infof("taking a short rest")
			if err := pacer.Rest(ctx); err != nil {
				return stopReason{StatusError, err.Error()}
			}
		}
	}
}

type contactResult int

const (
	contactNotOpened contactResult = iota
	contactOpened
)

// contact runs the open/read/send sequence for one candidate and classifies
// the result into exactly one counter.
func (e *Engine) contact(ctx context.Context, runID string, c Candidate, params Params, pacer Pacer, runlog *logging.RunLog) contactResult {
	if err := e.withRetry(ctx, func() error { return e.driver.OpenDetail(ctx, c) }); err != nil {
		e.addFailed(runID)
		runlog.Warnf("could not open detail for %s: %v", c.Name, err)
		// The card click may have landed even though the panel never
		// settled; close whatever half-opened so it cannot jam the feed.
		e.closeDetail(ctx, pacer, runlog)
		return contactNotOpened
	}

	if err := pacer.Pause(ctx, pacing.ActionRead); err != nil {
		e.addFailed(runID)
		return contactOpened
	}
	if err := pacer.BeforeSend(ctx); err != nil {
		e.addFailed(runID)
		return contactOpened
	}

	outcome, err := e.driver.Send(ctx, renderMessage(params.Message, c))
	switch {
	case err != nil:
		e.addFailed(runID)
		runlog.Warnf("send failed for %s: %v", c.Name, err)
	case outcome == OutcomeSent:
		e.addSuccess(runID)
		runlog.Infof("greeted %s (%s)", c.Name, c.Position)
	case outcome == OutcomeAlreadyContacted:
		e.addSkipped(runID)
		runlog.Infof("skipped %s: conversation already exists", c.Name)
	default:
		e.addFailed(runID)
		runlog.Warnf("no greet control found for %s", c.Name)
	}

	if err := pacer.Pause(ctx, pacing.ActionSettle); err != nil {
		return contactOpened
	}
	return contactOpened
}

// nextCandidate returns the first visible candidate not yet processed.
func (e *Engine) nextCandidate(ctx context.Context, runID string) (Candidate, bool, error) {
	var cards []Candidate
	err := e.withRetry(ctx, func() error {
		var qerr error
		cards, qerr = e.driver.VisibleCandidates(ctx)
		return qerr
	})
	if err != nil {
		return Candidate{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID != runID {
		return Candidate{}, false, nil
	}
	for _, c := range cards {
		if _, seen := e.processed[c.Ref()]; !seen {
			return c, true, nil
		}
	}
	return Candidate{}, false, nil
}

// closeDetail tries the close probes with bounded retries; if the panel
// refuses to close, the loop waits out a grace period and moves on rather
// than aborting the run.
func (e *Engine) closeDetail(ctx context.Context, pacer Pacer, runlog *logging.RunLog) {
	if err := pacer.Pause(ctx, pacing.ActionClose); err != nil {
		return
	}
	if err := e.withRetry(ctx, func() error { return e.driver.CloseDetail(ctx) }); err != nil {
		runlog.Warnf("detail panel did not close: %v", err)
		e.sleep(ctx, e.bounds.DetailCloseGrace())
	}
}

// withRetry runs op up to InteractionRetries times with a fixed backoff.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	var err error
	retries := e.bounds.InteractionRetries
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < retries-1 {
			e.sleep(ctx, e.bounds.RetryBackoff())
		}
	}
	return err
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// finalize records the terminal state, persists the summary, and notifies.
// Persistence and notification failures are logged but never change the
// terminal status. State is left in place for inspection until Reset.
func (e *Engine) finalize(ctx context.Context, runID string, reason stopReason, runlog *logging.RunLog) {
	e.mu.Lock()
	if e.runID != runID {
		// A stale-run auto-reset replaced this slot; drop the result.
		e.mu.Unlock()
		return
	}
	e.status = reason.status
	e.errMsg = reason.detail
	e.endedAt = e.clock()

	summary := Summary{
		RunID:          e.runID,
		Status:         e.status,
		Counters:       e.counters,
		TargetCount:    e.params.TargetCount,
		PositionFilter: e.params.PositionFilter,
		StartedAt:      e.startedAt,
		EndedAt:        e.endedAt,
		Elapsed:        e.endedAt.Sub(e.startedAt),
		ErrorMessage:   e.errMsg,
	}
	e.mu.Unlock()

	runlog.Infof("run finished: status=%s success=%d failed=%d skipped=%d attempted=%d elapsed=%s",
		summary.Status, summary.Counters.Success, summary.Counters.Failed,
		summary.Counters.Skipped, summary.Counters.Attempted, summary.Elapsed.Round(time.Second))

	if e.sink != nil {
		if err := e.sink.SaveRunSummary(ctx, summary); err != nil {
			e.logger.Error().Err(err).Str("run_id", runID).Msg("failed to persist run summary")
		}
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyRun(ctx, summary); err != nil {
			e.logger.Error().Err(err).Str("run_id", runID).Msg("failed to deliver run notification")
		}
	}
}

// The counter mutators are runID-guarded so a goroutine abandoned by a
// stale-run auto-reset can never mutate its replacement's state.

func (e *Engine) countersView(runID string) (Counters, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID != runID {
		return Counters{}, false
	}
	return e.counters, true
}

func (e *Engine) markProcessed(runID string, c Candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID != runID {
		return
	}
	e.processed[c.Ref()] = struct{}{}
	e.counters.Attempted++
}

func (e *Engine) addSuccess(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID == runID {
		e.counters.Success++
	}
}

func (e *Engine) addFailed(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID == runID {
		e.counters.Failed++
	}
}

func (e *Engine) addSkipped(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID == runID {
		e.counters.Skipped++
	}
}
