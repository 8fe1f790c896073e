package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/playwright-community/playwright-go"

	"outreach/pkg/outreach"
)

// Feed adapts the recommendation iframe to the orchestrator's driver
// interface. The feed is virtually scrolled: only a window of cards exists in
// the DOM at a time, and scrolling materializes more.
type Feed struct {
	mgr *Manager
}

// NewFeed creates the candidate feed driver over the session manager.
func NewFeed(mgr *Manager) *Feed {
	return &Feed{mgr: mgr}
}

var _ outreach.Driver = (*Feed)(nil)

// extractPositionJS pulls the direct text nodes of the expectation row; the
// first is the candidate's city, the second their declared position.
const extractPositionJS = `(el) => {
    const parts = [];
    for (const child of el.childNodes) {
        if (child.nodeType === Node.TEXT_NODE) {
            const text = child.textContent.trim();
            if (text) {
                parts.push(text);
            }
        }
    }
    return parts.length > 1 ? parts[1] : null;
}`

// VisibleCandidates reads the cards currently rendered in the feed window.
// Cards whose name cannot be read are dropped rather than failing the query.
func (f *Feed) VisibleCandidates(ctx context.Context) ([]outreach.Candidate, error) {
	s, frame, err := f.frame(ctx)
	if err != nil {
		return nil, err
	}

	cards := frame.Locator(s.sel.CardList)
	count, err := cards.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count feed cards: %w", err)
	}

	out := make([]outreach.Candidate, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		card := cards.Nth(i)

		name, err := card.Locator(s.sel.CardName).First().InnerText(playwright.LocatorInnerTextOptions{
			Timeout: playwright.Float(probeTimeoutMs),
		})
		if err != nil || strings.TrimSpace(name) == "" {
			continue
		}

		out = append(out, outreach.Candidate{
			Name:     strings.TrimSpace(name),
			Position: f.extractPosition(card),
		})
	}
	return out, nil
}

// LoadMore scrolls the feed frame to its bottom so the virtual list
// materializes the next window of cards.
func (f *Feed) LoadMore(ctx context.Context) error {
	s, frame, err := f.frame(ctx)
	if err != nil {
		return err
	}
	s.JiggleMouse()
	// A small main-page scroll first, like a reader would before reaching
	// into the list.
	_ = s.ScrollBy(200 + rand.Intn(300))
	_, err = frame.Evaluate(`window.scrollTo({
        top: document.documentElement.scrollHeight,
        behavior: 'smooth'
    })`)
	if err != nil {
		return fmt.Errorf("feed scroll failed: %w", err)
	}
	return nil
}

// OpenDetail clicks the card matching the candidate and waits for the detail
// panel. The card is re-located by identity because the window may have
// shifted since the query.
func (f *Feed) OpenDetail(ctx context.Context, c outreach.Candidate) error {
	s, frame, err := f.frame(ctx)
	if err != nil {
		return err
	}

	cards := frame.Locator(s.sel.CardList)
	count, err := cards.Count()
	if err != nil {
		return fmt.Errorf("failed to count feed cards: %w", err)
	}

	want := c.Ref()
	for i := 0; i < count; i++ {
		card := cards.Nth(i)
		name, err := card.Locator(s.sel.CardName).First().InnerText(playwright.LocatorInnerTextOptions{
			Timeout: playwright.Float(probeTimeoutMs),
		})
		if err != nil {
			continue
		}
		got := outreach.Candidate{Name: strings.TrimSpace(name), Position: f.extractPosition(card)}
		if got.Ref() != want {
			continue
		}

		if err := card.Click(); err != nil {
			return fmt.Errorf("failed to click candidate card: %w", err)
		}
		if err := frame.Locator(s.sel.DetailPanel).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(10000),
		}); err != nil {
			return fmt.Errorf("detail panel did not appear: %w", err)
		}
		return nil
	}
	return fmt.Errorf("candidate %q no longer rendered in the feed window", c.Name)
}

// Send probes the greet controls in order and classifies the outcome by the
// first visible control's label.
func (f *Feed) Send(ctx context.Context, message string) (outreach.SendOutcome, error) {
	s, frame, err := f.frame(ctx)
	if err != nil {
		return outreach.OutcomeNoControl, err
	}

	for _, selector := range s.sel.GreetButtons {
		if err := ctx.Err(); err != nil {
			return outreach.OutcomeNoControl, err
		}
		button := frame.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		visible, err := button.IsVisible()
		if err != nil || !visible {
			continue
		}

		label, err := button.InnerText(playwright.LocatorInnerTextOptions{
			Timeout: playwright.Float(probeTimeoutMs),
		})
		if err != nil {
			continue
		}
		if strings.Contains(label, s.sel.AlreadyContactedLabel) {
			return outreach.OutcomeAlreadyContacted, nil
		}

		if err := button.Click(); err != nil {
			return outreach.OutcomeNoControl, fmt.Errorf("greet click failed: %w", err)
		}
		f.typeMessageIfPrompted(s, message)
		return outreach.OutcomeSent, nil
	}
	return outreach.OutcomeNoControl, nil
}

// CloseDetail probes the close controls in order and clicks the first
// visible one.
func (f *Feed) CloseDetail(ctx context.Context) error {
	s, frame, err := f.frame(ctx)
	if err != nil {
		return err
	}

	for _, selector := range s.sel.CloseButtons {
		if err := ctx.Err(); err != nil {
			return err
		}
		button := frame.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		visible, err := button.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := button.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(probeTimeoutMs),
		}); err != nil {
			continue
		}
		return nil
	}
	return fmt.Errorf("no close control visible on detail panel")
}

// typeMessageIfPrompted handles the variant where greeting opens an inline
// chat box instead of sending the site's canned opener.
func (f *Feed) typeMessageIfPrompted(s *Session, message string) {
	if message == "" || s.sel.ChatInput == "" {
		return
	}
	input := s.Page.Locator(s.sel.ChatInput).First()
	if err := input.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(probeTimeoutMs),
	}); err != nil {
		return
	}
	if err := s.TypeHuman(s.sel.ChatInput, message); err != nil {
		s.log.Warn().Err(err).Msg("failed to type greeting message")
		return
	}
	send := s.Page.Locator(s.sel.SendMessageButton).First()
	if visible, err := send.IsVisible(); err == nil && visible {
		if err := send.Click(); err != nil {
			s.log.Warn().Err(err).Msg("failed to click message send")
		}
	}
}

func (f *Feed) extractPosition(card playwright.Locator) string {
	s, ok := f.mgr.Session()
	if !ok {
		return ""
	}
	row := card.Locator(s.sel.CardPosition).First()
	if count, err := row.Count(); err != nil || count == 0 {
		return ""
	}
	raw, err := row.Evaluate(extractPositionJS, nil)
	if err != nil {
		return ""
	}
	position, _ := raw.(string)
	return strings.TrimSpace(position)
}

func (f *Feed) frame(ctx context.Context) (*Session, playwright.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s, ok := f.mgr.Session()
	if !ok {
		return nil, nil, fmt.Errorf("no browser session")
	}
	frame, err := s.feedFrame()
	if err != nil {
		return nil, nil, err
	}
	return s, frame, nil
}
