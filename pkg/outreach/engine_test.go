package outreach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/pkg/config"
	"outreach/pkg/logging"
	"outreach/pkg/pacing"
)

// fakeDriver serves scripted feed windows and per-candidate send outcomes.
type fakeDriver struct {
	mu       sync.Mutex
	windows  [][]Candidate
	window   int
	outcomes map[string]SendOutcome
	sendErr  map[string]error
	openErr  map[string]error
	onSend   func(name string)

	current   Candidate
	sent      []string
	loadMores int
	closes    int

	entered chan struct{} // closed on first VisibleCandidates call
	release chan struct{} // first VisibleCandidates blocks until closed
	once    sync.Once
}

func (f *fakeDriver) VisibleCandidates(ctx context.Context) ([]Candidate, error) {
	f.once.Do(func() {
		if f.entered != nil {
			close(f.entered)
		}
		if f.release != nil {
			<-f.release
		}
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.windows) == 0 {
		return nil, nil
	}
	i := f.window
	if i >= len(f.windows) {
		i = len(f.windows) - 1
	}
	return f.windows[i], nil
}

func (f *fakeDriver) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadMores++
	f.window++
	return nil
}

func (f *fakeDriver) OpenDetail(ctx context.Context, c Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[c.Name]; err != nil {
		return err
	}
	f.current = c
	return nil
}

func (f *fakeDriver) Send(ctx context.Context, message string) (SendOutcome, error) {
	f.mu.Lock()
	name := f.current.Name
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[name]; err != nil {
		return OutcomeSent, err
	}
	outcome, ok := f.outcomes[name]
	if !ok {
		outcome = OutcomeSent
	}
	if outcome == OutcomeSent {
		f.sent = append(f.sent, name)
	}
	return outcome, nil
}

func (f *fakeDriver) CloseDetail(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeDriver) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeDriver) sentNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakePacer struct{}

func (fakePacer) Pause(ctx context.Context, a pacing.Action) error { return nil }
func (fakePacer) BeforeSend(ctx context.Context) error             { return nil }
func (fakePacer) RestDue() bool                                    { return false }
func (fakePacer) Rest(ctx context.Context) error                   { return nil }

type fakeDetector struct {
	mu      sync.Mutex
	blocked bool

	// interstitials is consumed one value per Interstitial call; exhausted
	// means no overlay
	interstitials []bool
}

func (d *fakeDetector) Blocked(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocked, nil
}

func (d *fakeDetector) Interstitial(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.interstitials) == 0 {
		return false, nil
	}
	v := d.interstitials[0]
	d.interstitials = d.interstitials[1:]
	return v, nil
}

func (d *fakeDetector) block() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked = true
}

type fakeGate struct{ authed bool }

func (g fakeGate) Authenticated() bool { return g.authed }

type memSink struct {
	mu        sync.Mutex
	summaries []Summary
	lines     []logging.Line
}

func (s *memSink) AppendRunLog(runID string, line logging.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *memSink) SaveRunSummary(ctx context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

func (s *memSink) saved() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Summary(nil), s.summaries...)
}

type memNotifier struct {
	mu        sync.Mutex
	summaries []Summary
}

func (n *memNotifier) NotifyRun(ctx context.Context, s Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return nil
}

func testAutomation() config.AutomationConfig {
	auto := config.Default().Automation
	auto.InteractionRetries = 1
	auto.RetryBackoffMs = 0
	auto.DetailCloseGraceMs = 0
	return auto
}

func newTestEngine(driver Driver, detector BlockDetector) (*Engine, *memSink, *memNotifier) {
	sink := &memSink{}
	notifier := &memNotifier{}
	e := NewEngine(Options{
		Driver:     driver,
		Detector:   detector,
		Gate:       fakeGate{authed: true},
		Sink:       sink,
		Notifier:   notifier,
		NewPacer:   func() Pacer { return fakePacer{} },
		Automation: testAutomation(),
		Logger:     zerolog.Nop(),
	})
	return e, sink, notifier
}

func waitDone(t *testing.T, e *Engine) {
	t.Helper()
	e.mu.Lock()
	ch := e.done
	e.mu.Unlock()
	require.NotNil(t, ch)
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func candidates(names ...string) []Candidate {
	out := make([]Candidate, len(names))
	for i, n := range names {
		out[i] = Candidate{Name: n, Position: "Sales Manager"}
	}
	return out
}

func TestRun_ReachesTargetSkippingExistingConversations(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A", "B", "C", "D", "E", "F", "G", "H")},
		outcomes: map[string]SendOutcome{
			"B": OutcomeAlreadyContacted,
			"D": OutcomeAlreadyContacted,
		},
	}
	e, sink, notifier := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 5, Message: "hello {name}"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 5, snap.Counters.Success)
	assert.Equal(t, 2, snap.Counters.Skipped)
	assert.Equal(t, 0, snap.Counters.Failed)
	assert.Equal(t, 7, snap.Counters.Attempted)
	assert.Equal(t, []string{"A", "C", "E", "F", "G"}, driver.sentNames())

	require.Len(t, sink.saved(), 1)
	assert.Equal(t, StatusCompleted, sink.saved()[0].Status)
	assert.Len(t, notifier.summaries, 1)
}

func TestRun_BlockSignalEndsRunAsLimitReached(t *testing.T) {
	detector := &fakeDetector{}
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A", "B", "C", "D", "E", "F")},
		sendErr: map[string]error{"D": errors.New("send control unresponsive")},
	}
	// The 4th send trips the platform limit.
	driver.onSend = func(name string) {
		if name == "D" {
			detector.block()
		}
	}
	e, sink, _ := newTestEngine(driver, detector)

	_, err := e.Start(Params{TargetCount: 10, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusLimitReached, snap.Status)
	assert.Equal(t, 3, snap.Counters.Success)
	assert.Equal(t, 1, snap.Counters.Failed)
	assert.Equal(t, 4, snap.Counters.Attempted)
	assert.NotEmpty(t, snap.ErrorMessage)

	require.Len(t, sink.saved(), 1)
	assert.Equal(t, StatusLimitReached, sink.saved()[0].Status)
}

func TestRun_DedupAcrossRepeatedWindows(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{
			candidates("A", "B"),
			candidates("A", "B"), // scroll surfaced nothing new
			candidates("A", "B", "C"),
		},
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 3, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, []string{"A", "B", "C"}, driver.sentNames(), "each candidate greeted exactly once")
	assert.Equal(t, 3, snap.Counters.Success)
	assert.GreaterOrEqual(t, driver.loadMores, 2)
}

func TestRun_FeedExhausted(t *testing.T) {
	driver := &fakeDriver{windows: [][]Candidate{candidates("A", "B")}}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 5, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Counters.Success)
	assert.Equal(t, "feed exhausted", snap.ErrorMessage)
}

func TestRun_PositionFilter(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{{
			{Name: "A", Position: "Senior Sales Manager"},
			{Name: "B", Position: "Backend Engineer"},
			{Name: "C", Position: ""},
			{Name: "D", Position: "sales representative"},
		}},
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 2, PositionFilter: []string{"sales"}, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, []string{"A", "D"}, driver.sentNames())
	assert.Equal(t, 2, snap.Counters.Skipped, "non-matching and positionless candidates skipped")
}

func TestRun_OpenDetailFailureCountsAsFailed(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A", "B", "C")},
		openErr: map[string]error{"B": errors.New("card not clickable")},
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 2, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Counters.Success)
	assert.Equal(t, 1, snap.Counters.Failed)
	assert.Equal(t, []string{"A", "C"}, driver.sentNames())
}

func TestRun_OpenDetailFailureStillClosesView(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A")},
		openErr: map[string]error{"A": errors.New("panel never appeared")},
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Counters.Failed)
	// The card click may have landed before the panel wait failed, so the
	// close probes must still run.
	assert.GreaterOrEqual(t, driver.closeCount(), 1)
}

func TestRun_InterstitialIsWaitedOut(t *testing.T) {
	driver := &fakeDriver{windows: [][]Candidate{candidates("A")}}
	detector := &fakeDetector{interstitials: []bool{true, true}}
	e, _, _ := newTestEngine(driver, detector)

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.Counters.Success)
	assert.Equal(t, []string{"A"}, driver.sentNames())
}

func TestRun_PersistentInterstitialEndsRunAsError(t *testing.T) {
	driver := &fakeDriver{windows: [][]Candidate{candidates("A")}}
	detector := &fakeDetector{
		interstitials: []bool{true, true, true, true, true, true},
	}
	e, _, _ := newTestEngine(driver, detector)

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "verification challenge")
	assert.Empty(t, driver.sentNames(), "no contact is attempted through an overlay")
}

func TestRun_CounterInvariant(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A", "B", "C", "D", "E")},
		outcomes: map[string]SendOutcome{
			"B": OutcomeAlreadyContacted,
			"C": OutcomeNoControl,
		},
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 3, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)

	snap := e.Snapshot()
	sum := snap.Counters.Success + snap.Counters.Failed + snap.Counters.Skipped
	assert.Equal(t, snap.Processed, sum)
	assert.Equal(t, snap.Counters.Attempted, sum)
}

func TestStart_SingleFlight(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	<-driver.entered

	_, err = e.Start(Params{TargetCount: 1, Message: "hi"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(driver.release)
	waitDone(t, e)
}

func TestStart_StaleRunIsAutoReset(t *testing.T) {
	blocked := &fakeDriver{
		windows: [][]Candidate{candidates("A")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, sink, _ := newTestEngine(blocked, &fakeDetector{})
	defer close(blocked.release)

	first, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	<-blocked.entered

	// Simulate a run that started long ago and never finished.
	e.mu.Lock()
	e.startedAt = time.Now().Add(-e.bounds.StaleTimeout() - time.Minute)
	e.driver = &fakeDriver{windows: [][]Candidate{candidates("Z")}}
	e.mu.Unlock()

	second, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	waitDone(t, e)
	for _, s := range sink.saved() {
		assert.NotEqual(t, first, s.RunID, "abandoned run must not record a summary")
	}
}

func TestStart_RequiresAuthenticatedSession(t *testing.T) {
	e := NewEngine(Options{
		Driver:     &fakeDriver{},
		Detector:   &fakeDetector{},
		Gate:       fakeGate{authed: false},
		NewPacer:   func() Pacer { return fakePacer{} },
		Automation: testAutomation(),
		Logger:     zerolog.Nop(),
	})

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, StatusIdle, e.Snapshot().Status, "failed start must not mutate state")
}

func TestStart_ValidatesParams(t *testing.T) {
	e, _, _ := newTestEngine(&fakeDriver{}, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 0, Message: "hi"})
	assert.Error(t, err)

	_, err = e.Start(Params{TargetCount: 1, Message: "   "})
	assert.Error(t, err)
}

func TestStopAndReset(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A", "B", "C")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	assert.ErrorIs(t, e.Stop(), ErrNotRunning)

	_, err := e.Start(Params{TargetCount: 3, Message: "hi"})
	require.NoError(t, err)
	<-driver.entered

	require.NoError(t, e.Stop())
	close(driver.release)
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.LessOrEqual(t, snap.Processed, 1, "stop observed within one candidate cycle")

	require.NoError(t, e.Reset())
	reset := e.Snapshot()
	assert.Equal(t, StatusIdle, reset.Status)
	assert.Zero(t, reset.Counters)
	assert.Empty(t, e.Logs(10))

	// A fresh run may start after reset.
	driver2 := &fakeDriver{windows: [][]Candidate{candidates("X")}}
	e.mu.Lock()
	e.driver = driver2
	e.mu.Unlock()
	_, err = e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	waitDone(t, e)
	assert.Equal(t, StatusCompleted, e.Snapshot().Status)
}

func TestReset_RefusedWhileRunning(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	<-driver.entered

	assert.ErrorIs(t, e.Reset(), ErrRunInProgress)

	close(driver.release)
	waitDone(t, e)
}

func TestForceReset_ClearsStateWhileRunning(t *testing.T) {
	driver := &fakeDriver{
		windows: [][]Candidate{candidates("A")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, _, _ := newTestEngine(driver, &fakeDetector{})

	_, err := e.Start(Params{TargetCount: 1, Message: "hi"})
	require.NoError(t, err)
	<-driver.entered

	e.ForceReset()
	assert.Equal(t, StatusIdle, e.Snapshot().Status)
	assert.Zero(t, e.Snapshot().Counters)

	// The orphaned goroutine drains without touching the cleared state.
	close(driver.release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusIdle, e.Snapshot().Status)
	assert.Zero(t, e.Snapshot().Counters)
}

func TestMaxAttempts_Clamped(t *testing.T) {
	b := config.Default().Automation

	assert.Equal(t, 100, maxAttempts(5, b), "floor applies to small targets")
	assert.Equal(t, 150, maxAttempts(50, b))
	assert.Equal(t, 1000, maxAttempts(500, b), "ceiling applies to large targets")
}

func TestRenderMessage(t *testing.T) {
	c := Candidate{Name: "李雷", Position: "销售经理"}
	got := renderMessage("你好{name}，看到你在找{position}的机会", c)
	assert.Equal(t, "你好李雷，看到你在找销售经理的机会", got)
}

func TestMatchesFilter(t *testing.T) {
	assert.True(t, matchesFilter("Senior Sales Manager", []string{"sales"}))
	assert.True(t, matchesFilter("anything", nil), "empty filter passes everyone")
	assert.False(t, matchesFilter("Backend Engineer", []string{"sales"}))
	assert.False(t, matchesFilter("", []string{"sales"}), "missing position fails a non-empty filter")
	assert.True(t, matchesFilter("销售经理", []string{"经理", "sales"}))
}
