// Package browser is the Playwright driver layer: one exclusively-owned
// browser session per process, launched with a randomized fingerprint, plus
// the site-specific adapters for login and the candidate feed.
package browser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"outreach/pkg/config"
)

// Manager owns the Playwright runtime and the single browser session.
// Ownership of the session is handed off between the login flow and the task
// runner; it is never shared concurrently.
type Manager struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	session     *Session
	cfg         config.BrowserConfig
	sel         config.SelectorConfig
	log         zerolog.Logger
	initialized bool
}

// NewManager creates an uninitialized manager.
func NewManager(cfg config.BrowserConfig, sel config.SelectorConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg: cfg,
		sel: sel,
		log: logger.With().Str("component", "browser").Logger(),
	}
}

// Initialize installs (if needed) and starts the Playwright runtime. Must be
// called before any session is started.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.pw = pw
	m.initialized = true
	return nil
}

// StartSession launches the browser session, replacing any existing one. A
// non-nil bundle restores persisted cookies and local storage into the new
// context.
func (m *Manager) StartSession(bundle []byte) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}

	if m.session != nil {
		m.log.Info().Msg("replacing existing browser session")
		m.session.close()
		m.session = nil
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     launchArgs,
	}
	browser, err := m.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.cfg.ViewportWidth,
			Height: m.cfg.ViewportHeight,
		},
		UserAgent: playwright.String(randomUserAgent()),
	}

	// Playwright restores storage state from a file path; the bundle is
	// written to a scratch file that is removed once the context exists.
	var statePath string
	if len(bundle) > 0 {
		statePath, err = m.writeStateFile(bundle)
		if err != nil {
			browser.Close()
			return nil, err
		}
		contextOpts.StorageStatePath = playwright.String(statePath)
	}

	context, err := browser.NewContext(contextOpts)
	if statePath != "" {
		os.Remove(statePath)
	}
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err := page.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to inject stealth script: %w", err)
	}

	page.SetDefaultTimeout(m.cfg.NavigationTimeoutMs)

	session := &Session{
		Browser:   browser,
		Context:   context,
		Page:      page,
		cfg:       m.cfg,
		sel:       m.sel,
		log:       m.log,
		CreatedAt: time.Now(),
	}
	m.session = session
	return session, nil
}

// Session returns the active session, if any.
func (m *Manager) Session() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session != nil
}

// CloseSession tears down the active session.
func (m *Manager) CloseSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	m.session.close()
	m.session = nil
	return nil
}

// Shutdown closes the session and stops the Playwright runtime.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.close()
		m.session = nil
	}

	if m.initialized && m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}

func (m *Manager) writeStateFile(bundle []byte) (string, error) {
	dir := m.cfg.StateDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "storage-state-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create state file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(bundle); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write state file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}
