// Package account owns the per-account authentication lifecycle: the QR
// challenge flow, credential bundle persistence, session verification, and
// account switching.
package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"outreach/pkg/config"
	"outreach/pkg/store"
)

// Status is the session lifecycle state. Transitions only move
// unauthenticated -> challenge_pending -> authenticated -> expired ->
// unauthenticated.
type Status string

const (
	StatusUnauthenticated  Status = "unauthenticated"
	StatusChallengePending Status = "challenge_pending"
	StatusAuthenticated    Status = "authenticated"
	StatusExpired          Status = "expired"
)

// Lifecycle errors.
var (
	// ErrNeedsLogin means no usable credential bundle exists for the account
	ErrNeedsLogin = errors.New("account needs a fresh login")

	// ErrChallengeExpired means the QR challenge expired more times than the
	// automatic refresh budget allows
	ErrChallengeExpired = errors.New("login challenge expired; begin login again")

	// ErrNoChallenge is returned by PollChallenge outside a login flow
	ErrNoChallenge = errors.New("no login challenge in progress")
)

// Identity is what the remote identity endpoint reports for a signed-in user.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	ShowName string `json:"show_name,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ProbeState classifies what the gateway sees on the page.
type ProbeState int

const (
	// ProbePending means the challenge is still displayed and unconfirmed
	ProbePending ProbeState = iota

	// ProbeChallenge means a fresh challenge artifact is displayed
	ProbeChallenge

	// ProbeChallengeExpired means the artifact expired and offers a refresh
	ProbeChallengeExpired

	// ProbeAuthenticated means the page has left the login flow and the
	// remote identity endpoint confirmed the session
	ProbeAuthenticated
)

// LoginProbe is one observation of the login flow.
type LoginProbe struct {
	State    ProbeState
	QR       string
	Identity Identity
}

// Gateway is the browser-facing capability surface the manager drives. The
// production implementation lives in the browser layer; tests script a fake.
type Gateway interface {
	// Open launches (or relaunches) the browser session, restoring the
	// credential bundle when non-nil
	Open(ctx context.Context, bundle []byte) error

	// BeginLogin navigates to the site and either confirms an existing
	// session or surfaces the QR challenge
	BeginLogin(ctx context.Context) (LoginProbe, error)

	// Probe re-inspects the login flow without navigating
	Probe(ctx context.Context) (LoginProbe, error)

	// RefreshChallenge requests a new challenge artifact
	RefreshChallenge(ctx context.Context) (string, error)

	// VerifyIdentity revalidates the live session against the remote
	// identity endpoint
	VerifyIdentity(ctx context.Context) (Identity, error)

	// ExportBundle serializes the session's credentials as an opaque blob
	ExportBundle(ctx context.Context) ([]byte, error)

	// Close tears the browser session down
	Close() error
}

// Store is the slice of persistence the manager needs.
type Store interface {
	SaveAccount(ctx context.Context, a store.Account) error
	GetAccount(ctx context.Context, id string) (store.Account, error)
	ClearBundle(ctx context.Context, id string) error
	SetCurrentAccount(ctx context.Context, id string) error
	CurrentAccount(ctx context.Context) (string, error)
}

// Snapshot is the queryable session state.
type Snapshot struct {
	Status         Status    `json:"status"`
	AccountID      string    `json:"account_id,omitempty"`
	Identity       *Identity `json:"identity,omitempty"`
	ChallengeQR    string    `json:"challenge_qr,omitempty"`
	LastVerifiedAt time.Time `json:"last_verified_at,omitempty"`
}

// Manager is the session lifecycle state machine.
type Manager struct {
	gw     Gateway
	st     Store
	bounds config.AutomationConfig
	log    zerolog.Logger
	clock  func() time.Time

	mu           sync.Mutex
	status       Status
	identity     Identity
	accountID    string
	challengeQR  string
	refreshes    int
	lastVerified time.Time
	opened       bool
}

// NewManager creates an unauthenticated manager.
func NewManager(gw Gateway, st Store, bounds config.AutomationConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		gw:     gw,
		st:     st,
		bounds: bounds,
		log:    logger.With().Str("component", "account").Logger(),
		clock:  time.Now,
		status: StatusUnauthenticated,
	}
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Status:         m.status,
		AccountID:      m.accountID,
		ChallengeQR:    m.challengeQR,
		LastVerifiedAt: m.lastVerified,
	}
	if m.status == StatusAuthenticated {
		id := m.identity
		snap.Identity = &id
	}
	return snap
}

// Authenticated reports whether an authenticated, initialized session exists.
// This is the orchestrator's start precondition.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusAuthenticated && m.opened
}

// BeginLogin opens the browser and starts the login flow. If a persisted
// bundle for accountHint (or the current account) restores a valid session,
// the challenge is skipped and the identity reported directly.
func (m *Manager) BeginLogin(ctx context.Context, accountHint string) (Snapshot, error) {
	m.mu.Lock()
	if m.status == StatusAuthenticated && m.opened {
		m.mu.Unlock()
		return m.Snapshot(), nil
	}
	m.mu.Unlock()

	bundle := m.loadBundle(ctx, accountHint)
	if err := m.withNavRetry(ctx, func() error { return m.gw.Open(ctx, bundle) }); err != nil {
		return m.Snapshot(), fmt.Errorf("failed to open browser session: %w", err)
	}
	m.setOpened(true)

	var probe LoginProbe
	err := m.withNavRetry(ctx, func() error {
		var perr error
		probe, perr = m.gw.BeginLogin(ctx)
		return perr
	})
	if err != nil {
		return m.Snapshot(), fmt.Errorf("login navigation failed: %w", err)
	}

	switch probe.State {
	case ProbeAuthenticated:
		if err := m.confirm(ctx, probe.Identity); err != nil {
			return m.Snapshot(), err
		}
	case ProbeChallenge, ProbePending:
		m.mu.Lock()
		m.status = StatusChallengePending
		m.challengeQR = probe.QR
		m.refreshes = 0
		m.mu.Unlock()
	case ProbeChallengeExpired:
		qr, rerr := m.gw.RefreshChallenge(ctx)
		if rerr != nil {
			return m.Snapshot(), fmt.Errorf("failed to refresh login challenge: %w", rerr)
		}
		m.mu.Lock()
		m.status = StatusChallengePending
		m.challengeQR = qr
		m.refreshes = 1
		m.mu.Unlock()
	}
	return m.Snapshot(), nil
}

// PollChallenge checks whether the pending challenge was confirmed. Expired
// challenges are refreshed transparently up to the configured budget; beyond
// that the flow fails instead of looping forever.
func (m *Manager) PollChallenge(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.status != StatusChallengePending {
		m.mu.Unlock()
		return m.Snapshot(), ErrNoChallenge
	}
	m.mu.Unlock()

	probe, err := m.gw.Probe(ctx)
	if err != nil {
		return m.Snapshot(), fmt.Errorf("challenge poll failed: %w", err)
	}

	switch probe.State {
	case ProbeAuthenticated:
		if err := m.confirm(ctx, probe.Identity); err != nil {
			return m.Snapshot(), err
		}

	case ProbeChallengeExpired:
		m.mu.Lock()
		m.refreshes++
		over := m.refreshes > m.bounds.ChallengeRefreshLimit
		if over {
			m.status = StatusUnauthenticated
			m.challengeQR = ""
		}
		m.mu.Unlock()
		if over {
			return m.Snapshot(), ErrChallengeExpired
		}

		qr, rerr := m.gw.RefreshChallenge(ctx)
		if rerr != nil {
			return m.Snapshot(), fmt.Errorf("failed to refresh login challenge: %w", rerr)
		}
		m.log.Info().Int("refresh", m.refreshCount()).Msg("login challenge refreshed")
		m.mu.Lock()
		m.challengeQR = qr
		m.mu.Unlock()
	}
	return m.Snapshot(), nil
}

// VerifySession revalidates the live session against the remote system. A
// rejection purges the persisted bundle and returns the manager to
// unauthenticated; it is a state transition, not an error.
func (m *Manager) VerifySession(ctx context.Context) (bool, error) {
	m.mu.Lock()
	opened := m.opened
	accountID := m.accountID
	m.mu.Unlock()

	if !opened {
		return false, nil
	}

	identity, err := m.gw.VerifyIdentity(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("session verification rejected, purging credentials")
		m.invalidate(ctx, accountID)
		return false, nil
	}

	m.mu.Lock()
	m.status = StatusAuthenticated
	m.identity = identity
	m.lastVerified = m.clock()
	m.mu.Unlock()
	return true, nil
}

// SwitchAccount tears down the current session and restores the target
// account's persisted bundle. Fails with ErrNeedsLogin when the bundle is
// absent or rejected by the remote system.
func (m *Manager) SwitchAccount(ctx context.Context, accountID string) (Snapshot, error) {
	rec, err := m.st.GetAccount(ctx, accountID)
	if err != nil || len(rec.Bundle) == 0 {
		return m.Snapshot(), ErrNeedsLogin
	}

	if err := m.gw.Close(); err != nil {
		m.log.Warn().Err(err).Msg("error closing session during account switch")
	}
	m.setOpened(false)
	m.mu.Lock()
	m.status = StatusUnauthenticated
	m.identity = Identity{}
	m.challengeQR = ""
	m.mu.Unlock()

	if err := m.withNavRetry(ctx, func() error { return m.gw.Open(ctx, rec.Bundle) }); err != nil {
		return m.Snapshot(), fmt.Errorf("failed to restore session: %w", err)
	}
	m.setOpened(true)

	identity, err := m.gw.VerifyIdentity(ctx)
	if err != nil {
		m.invalidate(ctx, accountID)
		return m.Snapshot(), ErrNeedsLogin
	}

	m.mu.Lock()
	m.status = StatusAuthenticated
	m.identity = identity
	m.accountID = accountID
	m.lastVerified = m.clock()
	m.mu.Unlock()

	if err := m.st.SetCurrentAccount(ctx, accountID); err != nil {
		m.log.Error().Err(err).Msg("failed to record current account")
	}
	return m.Snapshot(), nil
}

// Logout purges the account's credential bundle and tears the session down.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	accountID := m.accountID
	m.status = StatusUnauthenticated
	m.identity = Identity{}
	m.accountID = ""
	m.challengeQR = ""
	m.opened = false
	m.mu.Unlock()

	if accountID != "" {
		if err := m.st.ClearBundle(ctx, accountID); err != nil {
			m.log.Error().Err(err).Str("account_id", accountID).Msg("failed to purge credential bundle")
		}
	}
	return m.gw.Close()
}

// Close tears down the browser session without touching credentials.
func (m *Manager) Close() error {
	m.setOpened(false)
	return m.gw.Close()
}

// confirm records a verified login: exports and persists the credential
// bundle, then transitions to authenticated.
func (m *Manager) confirm(ctx context.Context, identity Identity) error {
	bundle, err := m.gw.ExportBundle(ctx)
	if err != nil {
		return fmt.Errorf("failed to export credentials: %w", err)
	}

	accountID := strconv.FormatInt(identity.UserID, 10)
	name := identity.ShowName
	if name == "" {
		name = identity.Name
	}
	idJSON := identity.Name
	if identity.Brand != "" {
		idJSON = fmt.Sprintf("%s @ %s", identity.Name, identity.Brand)
	}

	if err := m.st.SaveAccount(ctx, store.Account{
		ID:       accountID,
		Name:     name,
		Identity: idJSON,
		Bundle:   bundle,
	}); err != nil {
		return fmt.Errorf("failed to persist account: %w", err)
	}
	if err := m.st.SetCurrentAccount(ctx, accountID); err != nil {
		m.log.Error().Err(err).Msg("failed to record current account")
	}

	m.mu.Lock()
	m.status = StatusAuthenticated
	m.identity = identity
	m.accountID = accountID
	m.challengeQR = ""
	m.refreshes = 0
	m.lastVerified = m.clock()
	m.mu.Unlock()

	m.log.Info().Str("account_id", accountID).Str("name", name).Msg("login confirmed")
	return nil
}

// invalidate walks authenticated -> expired -> unauthenticated and purges
// the persisted bundle.
func (m *Manager) invalidate(ctx context.Context, accountID string) {
	m.mu.Lock()
	m.status = StatusExpired
	m.mu.Unlock()

	if accountID != "" {
		if err := m.st.ClearBundle(ctx, accountID); err != nil {
			m.log.Error().Err(err).Str("account_id", accountID).Msg("failed to purge credential bundle")
		}
	}

	m.mu.Lock()
	m.status = StatusUnauthenticated
	m.identity = Identity{}
	m.mu.Unlock()
}

// loadBundle resolves the bundle for the hinted account, falling back to the
// recorded current account. Absence is not an error; it just means the QR
// flow runs.
func (m *Manager) loadBundle(ctx context.Context, accountHint string) []byte {
	id := accountHint
	if id == "" {
		current, err := m.st.CurrentAccount(ctx)
		if err != nil {
			return nil
		}
		id = current
	}
	rec, err := m.st.GetAccount(ctx, id)
	if err != nil {
		return nil
	}
	return rec.Bundle
}

func (m *Manager) withNavRetry(ctx context.Context, op func() error) error {
	var err error
	retries := m.bounds.InteractionRetries
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < retries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.bounds.RetryBackoff()):
			}
		}
	}
	return err
}

func (m *Manager) setOpened(v bool) {
	m.mu.Lock()
	m.opened = v
	m.mu.Unlock()
}

func (m *Manager) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}
