// Package store persists run history, run logs, saved accounts, and greeting
// templates in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"outreach/pkg/logging"
	"outreach/pkg/outreach"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const settingCurrentAccount = "current_account"

// Account is a saved login: the identity shown to the operator plus the
// opaque credential bundle that restores the browser session.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Identity  string    `json:"identity,omitempty"`
	Bundle    []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Template is a reusable greeting message.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store wraps the SQLite handle. A single writer connection keeps SQLite
// happy under the engine's concurrent log appends.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: logger.With().Str("component", "store").Logger()}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRunSummary upserts the summary keyed by run id.
func (s *Store) SaveRunSummary(ctx context.Context, sum outreach.Summary) error {
	filter, err := json.Marshal(sum.PositionFilter)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, status, target_count, attempted, success, failed, skipped, position_filter, error, started_at, ended_at, elapsed_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, attempted=excluded.attempted, success=excluded.success,
		   failed=excluded.failed, skipped=excluded.skipped, error=excluded.error,
		   ended_at=excluded.ended_at, elapsed_ms=excluded.elapsed_ms`,
		sum.RunID, string(sum.Status), sum.TargetCount,
		sum.Counters.Attempted, sum.Counters.Success, sum.Counters.Failed, sum.Counters.Skipped,
		string(filter), nullStr(sum.ErrorMessage),
		sum.StartedAt.Format(time.RFC3339Nano), sum.EndedAt.Format(time.RFC3339Nano),
		sum.Elapsed.Milliseconds(),
	)
	return err
}

// ListRuns returns the most recent run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]outreach.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, target_count, attempted, success, failed, skipped, position_filter, error, started_at, ended_at, elapsed_ms
		 FROM runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outreach.Summary
	for rows.Next() {
		var (
			sum            outreach.Summary
			status         string
			filter, errMsg sql.NullString
			started, ended string
			elapsedMS      int64
		)
		if err := rows.Scan(&sum.RunID, &status, &sum.TargetCount,
			&sum.Counters.Attempted, &sum.Counters.Success, &sum.Counters.Failed, &sum.Counters.Skipped,
			&filter, &errMsg, &started, &ended, &elapsedMS); err != nil {
			return nil, err
		}
		sum.Status = outreach.Status(status)
		sum.ErrorMessage = errMsg.String
		sum.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if filter.Valid && filter.String != "" {
			if err := json.Unmarshal([]byte(filter.String), &sum.PositionFilter); err != nil {
				s.log.Warn().Err(err).Str("run_id", sum.RunID).Msg("bad position filter in runs table")
			}
		}
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		sum.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AppendRunLog records one run log line. It satisfies the run logger's sink
// interface, which carries no context; appends use a short internal deadline.
func (s *Store) AppendRunLog(runID string, line logging.Line) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs(run_id, at, level, message) VALUES(?,?,?,?)`,
		runID, line.Timestamp.Format(time.RFC3339Nano), line.Level, line.Message)
	return err
}

// RunLogs returns the log lines for a run, oldest first.
func (s *Store) RunLogs(ctx context.Context, runID string, limit int) ([]logging.Line, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, level, message FROM run_logs WHERE run_id = ? ORDER BY id LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []logging.Line
	for rows.Next() {
		var line logging.Line
		var at string
		if err := rows.Scan(&at, &line.Level, &line.Message); err != nil {
			return nil, err
		}
		line.Timestamp, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, line)
	}
	return out, rows.Err()
}

// SaveAccount upserts an account. A nil bundle preserves the stored one so
// metadata edits do not wipe credentials.
func (s *Store) SaveAccount(ctx context.Context, a Account) error {
	if a.ID == "" {
		return errors.New("account id is required")
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, name, identity, bundle, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, identity=excluded.identity,
		   bundle=COALESCE(excluded.bundle, accounts.bundle),
		   updated_at=excluded.updated_at`,
		a.ID, a.Name, nullStr(a.Identity), a.Bundle,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// GetAccount returns the account with its credential bundle.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, identity, bundle, created_at, updated_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccounts returns all accounts without their credential bundles.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, identity, created_at, updated_at FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var acc Account
		var identity sql.NullString
		var created, updated string
		if err := rows.Scan(&acc.ID, &acc.Name, &identity, &created, &updated); err != nil {
			return nil, err
		}
		acc.Identity = identity.String
		acc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		acc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, acc)
	}
	return out, rows.Err()
}

// DeleteAccount removes an account; deleting the current account clears the
// current-account setting.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	current, err := s.CurrentAccount(ctx)
	if err == nil && current == id {
		_, err = s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, settingCurrentAccount)
		return err
	}
	return nil
}

// ClearBundle drops stored credentials for an account, keeping the record.
func (s *Store) ClearBundle(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET bundle = NULL WHERE id = ?`, id)
	return err
}

// SetCurrentAccount records which saved account the session belongs to.
func (s *Store) SetCurrentAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		settingCurrentAccount, id)
	return err
}

// CurrentAccount returns the active account id, or ErrNotFound.
func (s *Store) CurrentAccount(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, settingCurrentAccount).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// SaveTemplate upserts a greeting template.
func (s *Store) SaveTemplate(ctx context.Context, t Template) error {
	if t.ID == "" {
		return errors.New("template id is required")
	}
	if strings.TrimSpace(t.Body) == "" {
		return errors.New("template body is required")
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates(id, name, body, created_at, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, body=excluded.body, updated_at=excluded.updated_at`,
		t.ID, t.Name, t.Body,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// ListTemplates returns all templates, oldest first.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, body, created_at, updated_at FROM templates ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Name, &t.Body, &created, &updated); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (Account, error) {
	var (
		a                Account
		identity         sql.NullString
		created, updated string
	)
	err := row.Scan(&a.ID, &a.Name, &identity, &a.Bundle, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.Identity = identity.String
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return a, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
