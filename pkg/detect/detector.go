package detect

import (
	"context"

	"outreach/pkg/config"
)

// PageSurface is the slice of the browser layer the detectors inspect.
type PageSurface interface {
	// Content returns the serialized HTML of the main page
	Content(ctx context.Context) (string, error)

	// FirstVisibleText returns the inner text of the first visible element
	// matching any of the ordered selector probes
	FirstVisibleText(ctx context.Context, selectors []string) (string, bool, error)

	// AnyPresent reports whether any of the selectors matches an element,
	// visible or not
	AnyPresent(ctx context.Context, selectors []string) (bool, error)
}

// Detector evaluates the dual block heuristics and the interstitial probe
// against a live page.
type Detector struct {
	page PageSurface
	sel  config.SelectorConfig
}

// New creates a detector bound to a page surface and selector inventory.
func New(page PageSurface, sel config.SelectorConfig) *Detector {
	return &Detector{page: page, sel: sel}
}

// Blocked reports whether the page shows a rate-limit/block signal. The two
// heuristics are independent and OR-ed: a structural probe of known block
// dialog containers, then a keyword scan over all visible dialog-like
// containers. Probe errors degrade to "not blocked" so a flaky DOM read
// cannot end a run by itself.
func (d *Detector) Blocked(ctx context.Context) (bool, error) {
	// Structural: a known block dialog is visible and its text names both
	// the action category and a limit marker.
	text, found, err := d.page.FirstVisibleText(ctx, d.sel.BlockDialogs)
	if err == nil && found {
		if ContainsLimitMarkers(text, d.sel.BlockActionMarkers, d.sel.BlockLimitMarkers) {
			return true, nil
		}
	}

	// Textual: scan every dialog-like container in the serialized page.
	content, err := d.page.Content(ctx)
	if err != nil {
		return false, err
	}
	if DialogBlocked(content, d.sel.BlockKeywords) {
		return true, nil
	}
	if _, hit := PageLimitPhrase(content, d.sel.LimitPagePhrases); hit {
		return true, nil
	}
	return false, nil
}

// Interstitial reports whether a transient verification overlay is present.
// Distinct from the block signal: an interstitial should be dismissed or
// waited out, not treated as a limit.
func (d *Detector) Interstitial(ctx context.Context) (bool, error) {
	return d.page.AnyPresent(ctx, d.sel.Interstitials)
}
