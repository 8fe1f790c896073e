package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"outreach/pkg/account"
)

// Gateway adapts the browser session to the account manager's login flow.
type Gateway struct {
	mgr *Manager
}

// NewGateway creates the login gateway over the session manager.
func NewGateway(mgr *Manager) *Gateway {
	return &Gateway{mgr: mgr}
}

var _ account.Gateway = (*Gateway)(nil)

// Open launches a fresh session, restoring the credential bundle when given.
func (g *Gateway) Open(ctx context.Context, bundle []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := g.mgr.StartSession(bundle)
	return err
}

// BeginLogin navigates to the site root and classifies what it finds: an
// already-valid session, or the QR challenge.
func (g *Gateway) BeginLogin(ctx context.Context) (account.LoginProbe, error) {
	s, ok := g.mgr.Session()
	if !ok {
		return account.LoginProbe{}, fmt.Errorf("no browser session")
	}

	if err := s.Navigate(ctx, s.cfg.BaseURL); err != nil {
		return account.LoginProbe{}, err
	}
	s.JiggleMouse()

	// A visible login button means no session cookie was accepted; click it
	// and let the site route us.
	loginBtn := s.Page.Locator(s.sel.LoginButton).First()
	if count, err := loginBtn.Count(); err == nil && count > 0 {
		if err := loginBtn.Click(); err != nil {
			return account.LoginProbe{}, fmt.Errorf("failed to click login button: %w", err)
		}
		if err := s.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State: playwright.LoadStateNetworkidle,
		}); err != nil {
			return account.LoginProbe{}, fmt.Errorf("login navigation did not settle: %w", err)
		}
	}

	if g.onAuthedPage(s) {
		identity, err := g.VerifyIdentity(ctx)
		if err == nil {
			return account.LoginProbe{State: account.ProbeAuthenticated, Identity: identity}, nil
		}
		// Cookie routed us to a logged-in URL but the identity endpoint
		// rejected the session; fall through to the challenge flow.
	}

	if !strings.Contains(s.URL(), s.sel.LoginPageURLPart) {
		return account.LoginProbe{}, fmt.Errorf("unexpected page after login click: %s", s.URL())
	}

	qr, err := g.surfaceQR(ctx, s)
	if err != nil {
		return account.LoginProbe{}, err
	}
	return account.LoginProbe{State: account.ProbeChallenge, QR: qr}, nil
}

// Probe re-inspects the login flow without navigating.
func (g *Gateway) Probe(ctx context.Context) (account.LoginProbe, error) {
	s, ok := g.mgr.Session()
	if !ok {
		return account.LoginProbe{}, fmt.Errorf("no browser session")
	}

	if strings.Contains(s.URL(), s.sel.LoginPageURLPart) {
		refresh := s.Page.Locator(s.sel.QRRefreshButton).First()
		if count, err := refresh.Count(); err == nil && count > 0 {
			if visible, err := refresh.IsVisible(); err == nil && visible {
				return account.LoginProbe{State: account.ProbeChallengeExpired}, nil
			}
		}
		return account.LoginProbe{State: account.ProbePending}, nil
	}

	// The page left the login flow; the scan may have been confirmed.
	identity, err := g.VerifyIdentity(ctx)
	if err != nil {
		return account.LoginProbe{State: account.ProbePending}, nil
	}
	return account.LoginProbe{State: account.ProbeAuthenticated, Identity: identity}, nil
}

// RefreshChallenge clicks the expired QR's refresh control and returns the
// new artifact.
func (g *Gateway) RefreshChallenge(ctx context.Context) (string, error) {
	s, ok := g.mgr.Session()
	if !ok {
		return "", fmt.Errorf("no browser session")
	}

	refresh := s.Page.Locator(s.sel.QRRefreshButton).First()
	if err := refresh.Click(); err != nil {
		return "", fmt.Errorf("failed to click QR refresh: %w", err)
	}
	return g.readQR(ctx, s)
}

// VerifyIdentity fetches the identity endpoint from inside the page, so the
// request carries the session's cookies.
func (g *Gateway) VerifyIdentity(ctx context.Context) (account.Identity, error) {
	s, ok := g.mgr.Session()
	if !ok {
		return account.Identity{}, fmt.Errorf("no browser session")
	}
	if err := ctx.Err(); err != nil {
		return account.Identity{}, err
	}

	script := fmt.Sprintf(`async () => {
        const response = await fetch(%q);
        return await response.json();
    }`, s.sel.IdentityAPI)

	raw, err := s.Page.Evaluate(script)
	if err != nil {
		return account.Identity{}, fmt.Errorf("identity request failed: %w", err)
	}

	body, ok := raw.(map[string]any)
	if !ok {
		return account.Identity{}, fmt.Errorf("identity endpoint returned unexpected payload")
	}
	if code := asInt(body["code"]); code != 0 {
		return account.Identity{}, fmt.Errorf("identity endpoint rejected session: code %d %v", code, body["message"])
	}

	data, _ := body["zpData"].(map[string]any)
	return account.Identity{
		UserID:   int64(asInt(data["userId"])),
		Name:     asString(data["name"]),
		ShowName: asString(data["showName"]),
		Brand:    asString(data["brandName"]),
		Avatar:   asString(data["largeAvatar"]),
		Email:    asString(data["email"]),
	}, nil
}

// ExportBundle serializes the live session's credentials.
func (g *Gateway) ExportBundle(ctx context.Context) ([]byte, error) {
	s, ok := g.mgr.Session()
	if !ok {
		return nil, fmt.Errorf("no browser session")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ExportStorageState()
}

// Close tears down the browser session.
func (g *Gateway) Close() error {
	return g.mgr.CloseSession()
}

// surfaceQR switches the login page to QR mode if needed and reads the code.
func (g *Gateway) surfaceQR(ctx context.Context, s *Session) (string, error) {
	// The switch control is absent when the page already shows the QR.
	if _, err := s.clickFirstVisible(ctx, []string{s.sel.QRSwitchButton}); err != nil {
		s.log.Debug().Err(err).Msg("QR switch not clicked; page may already show the code")
	}
	return g.readQR(ctx, s)
}

// readQR waits for the QR image and returns its source, absolutized against
// the site root when relative.
func (g *Gateway) readQR(ctx context.Context, s *Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img := s.Page.Locator(s.sel.QRImage).First()
	if err := img.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(10000),
	}); err != nil {
		return "", fmt.Errorf("QR code did not appear: %w", err)
	}

	src, err := img.GetAttribute("src")
	if err != nil {
		return "", fmt.Errorf("failed to read QR source: %w", err)
	}
	if src != "" && !strings.HasPrefix(src, "data:") && !strings.HasPrefix(src, "http") {
		src = s.cfg.BaseURL + src
	}
	return src, nil
}

// onAuthedPage reports whether the current URL belongs to the logged-in area.
func (g *Gateway) onAuthedPage(s *Session) bool {
	url := s.URL()
	for _, part := range s.sel.AuthedURLParts {
		if strings.Contains(url, part) {
			return true
		}
	}
	return false
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return -1
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
