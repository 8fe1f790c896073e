package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"outreach/pkg/config"
)

// Session is the exclusively-owned browser session: one browser, one context,
// one page.
type Session struct {
	Browser playwright.Browser
	Context playwright.BrowserContext
	Page    playwright.Page

	cfg config.BrowserConfig
	sel config.SelectorConfig
	log zerolog.Logger

	CreatedAt time.Time
}

// probeTimeoutMs bounds the cheap existence/visibility probes so a missing
// element answers quickly instead of consuming the full default timeout.
const probeTimeoutMs = 2000

func (s *Session) close() {
	_ = s.Page.Close()
	_ = s.Context.Close()
	_ = s.Browser.Close()
}

// Navigate loads url and waits for the network to go idle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(s.cfg.NavigationTimeoutMs),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// URL returns the page's current URL.
func (s *Session) URL() string {
	return s.Page.URL()
}

// Content returns the serialized HTML of the main page.
func (s *Session) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := s.Page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}

// FirstVisibleText probes the ordered selectors and returns the inner text of
// the first visible match.
func (s *Session) FirstVisibleText(ctx context.Context, selectors []string) (string, bool, error) {
	for _, selector := range selectors {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		loc := s.Page.Locator(selector).First()
		count, err := loc.Count()
		if err != nil || count == 0 {
			continue
		}
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		text, err := loc.InnerText(playwright.LocatorInnerTextOptions{
			Timeout: playwright.Float(probeTimeoutMs),
		})
		if err != nil {
			continue
		}
		return text, true, nil
	}
	return "", false, nil
}

// AnyPresent reports whether any selector matches an element, visible or not.
func (s *Session) AnyPresent(ctx context.Context, selectors []string) (bool, error) {
	for _, selector := range selectors {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		count, err := s.Page.Locator(selector).Count()
		if err != nil {
			continue
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot() ([]byte, error) {
	data, err := s.Page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// ExportStorageState serializes the context's cookies and local storage as an
// opaque JSON blob. The core never interprets its contents.
func (s *Session) ExportStorageState() ([]byte, error) {
	state, err := s.Context.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to export storage state: %w", err)
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode storage state: %w", err)
	}
	return blob, nil
}

// JiggleMouse makes a small random cursor move.
func (s *Session) JiggleMouse() {
	x := float64(100 + rand.Intn(700))
	y := float64(100 + rand.Intn(500))
	if err := s.Page.Mouse().Move(x, y); err != nil {
		s.log.Debug().Err(err).Msg("mouse move failed")
	}
}

// ScrollBy scrolls the main page by the given vertical delta.
func (s *Session) ScrollBy(delta int) error {
	_, err := s.Page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta))
	return err
}

// TypeHuman fills an input one keystroke at a time with per-character delay.
func (s *Session) TypeHuman(selector, text string) error {
	loc := s.Page.Locator(selector).First()
	if err := loc.Click(); err != nil {
		return fmt.Errorf("failed to focus %s: %w", selector, err)
	}
	return loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(float64(50 + rand.Intn(100))),
	})
}

// clickFirstVisible probes the ordered selectors and clicks the first visible
// match, returning the matched selector.
func (s *Session) clickFirstVisible(ctx context.Context, selectors []string) (string, error) {
	for _, selector := range selectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		loc := s.Page.Locator(selector).First()
		count, err := loc.Count()
		if err != nil || count == 0 {
			continue
		}
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := loc.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(probeTimeoutMs),
		}); err != nil {
			continue
		}
		return selector, nil
	}
	return "", fmt.Errorf("no visible element among %d probes", len(selectors))
}

// feedFrame resolves the candidate feed's iframe by name.
func (s *Session) feedFrame() (playwright.Frame, error) {
	for _, frame := range s.Page.Frames() {
		if frame.Name() == s.sel.FeedFrameName {
			return frame, nil
		}
	}
	return nil, fmt.Errorf("frame %q not found; is the recommendation page open", s.sel.FeedFrameName)
}
