package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/pkg/logging"
	"outreach/pkg/outreach"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "outreach.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ", zerolog.Nop())
	assert.Error(t, err)
}

func TestRunSummaryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-2 * time.Minute).UTC()
	sum := outreach.Summary{
		RunID:          "run-1",
		Status:         outreach.StatusCompleted,
		Counters:       outreach.Counters{Attempted: 7, Success: 5, Skipped: 2},
		TargetCount:    5,
		PositionFilter: []string{"sales", "经理"},
		StartedAt:      started,
		EndedAt:        started.Add(2 * time.Minute),
		Elapsed:        2 * time.Minute,
	}
	require.NoError(t, s.SaveRunSummary(ctx, sum))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, sum.RunID, got.RunID)
	assert.Equal(t, sum.Status, got.Status)
	assert.Equal(t, sum.Counters, got.Counters)
	assert.Equal(t, sum.PositionFilter, got.PositionFilter)
	assert.Equal(t, sum.Elapsed, got.Elapsed)
	assert.True(t, got.StartedAt.Equal(sum.StartedAt))
}

func TestRunSummaryUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sum := outreach.Summary{RunID: "run-1", Status: outreach.StatusRunning, TargetCount: 3, StartedAt: time.Now()}
	require.NoError(t, s.SaveRunSummary(ctx, sum))

	sum.Status = outreach.StatusLimitReached
	sum.Counters.Success = 2
	sum.ErrorMessage = "platform block detected"
	require.NoError(t, s.SaveRunSummary(ctx, sum))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, outreach.StatusLimitReached, runs[0].Status)
	assert.Equal(t, 2, runs[0].Counters.Success)
	assert.Equal(t, "platform block detected", runs[0].ErrorMessage)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRunSummary(ctx, outreach.Summary{
			RunID: id, Status: outreach.StatusCompleted, TargetCount: 1, StartedAt: time.Now(),
		}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestRunLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.AppendRunLog("run-1", logging.Line{Timestamp: now, Level: logging.LevelInfo, Message: "started"}))
	require.NoError(t, s.AppendRunLog("run-1", logging.Line{Timestamp: now.Add(time.Second), Level: logging.LevelWarn, Message: "scroll failed"}))
	require.NoError(t, s.AppendRunLog("run-2", logging.Line{Timestamp: now, Level: logging.LevelInfo, Message: "other run"}))

	lines, err := s.RunLogs(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "started", lines[0].Message)
	assert.Equal(t, logging.LevelWarn, lines[1].Level)
}

func TestAccountLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := Account{ID: "acc-1", Name: "work", Identity: "张三", Bundle: []byte(`{"cookies":[]}`)}
	require.NoError(t, s.SaveAccount(ctx, acc))

	got, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "work", got.Name)
	assert.Equal(t, "张三", got.Identity)
	assert.Equal(t, acc.Bundle, got.Bundle)

	// Metadata edits with a nil bundle keep the stored credentials.
	require.NoError(t, s.SaveAccount(ctx, Account{ID: "acc-1", Name: "renamed"}))
	got, err = s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, acc.Bundle, got.Bundle)

	// Listing omits bundles.
	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Bundle)

	require.NoError(t, s.ClearBundle(ctx, "acc-1"))
	got, err = s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, got.Bundle)

	require.NoError(t, s.DeleteAccount(ctx, "acc-1"))
	_, err = s.GetAccount(ctx, "acc-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteAccount(ctx, "acc-1"), ErrNotFound)
}

func TestCurrentAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CurrentAccount(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveAccount(ctx, Account{ID: "acc-1", Name: "work"}))
	require.NoError(t, s.SetCurrentAccount(ctx, "acc-1"))

	id, err := s.CurrentAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id)

	// Deleting the current account clears the setting.
	require.NoError(t, s.DeleteAccount(ctx, "acc-1"))
	_, err = s.CurrentAccount(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTemplates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.Error(t, s.SaveTemplate(ctx, Template{ID: "t1", Body: "  "}), "empty body rejected")

	require.NoError(t, s.SaveTemplate(ctx, Template{ID: "t1", Name: "default", Body: "你好{name}"}))
	require.NoError(t, s.SaveTemplate(ctx, Template{ID: "t2", Name: "sales", Body: "hi {name}, about {position}"}))

	list, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "你好{name}", list[0].Body)

	require.NoError(t, s.SaveTemplate(ctx, Template{ID: "t1", Name: "default", Body: "updated"}))
	list, err = s.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, s.DeleteTemplate(ctx, "t2"))
	assert.ErrorIs(t, s.DeleteTemplate(ctx, "t2"), ErrNotFound)
}
