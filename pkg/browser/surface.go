package browser

import (
	"context"
	"fmt"

	"outreach/pkg/detect"
)

// Surface exposes the manager's current session to the block detectors.
// Sessions are replaced across logins and account switches, so the detectors
// hold this indirection rather than a session.
type Surface struct {
	mgr *Manager
}

// NewSurface creates the detector-facing page surface.
func NewSurface(mgr *Manager) *Surface {
	return &Surface{mgr: mgr}
}

var _ detect.PageSurface = (*Surface)(nil)

func (s *Surface) Content(ctx context.Context) (string, error) {
	sess, ok := s.mgr.Session()
	if !ok {
		return "", fmt.Errorf("no browser session")
	}
	return sess.Content(ctx)
}

func (s *Surface) FirstVisibleText(ctx context.Context, selectors []string) (string, bool, error) {
	sess, ok := s.mgr.Session()
	if !ok {
		return "", false, fmt.Errorf("no browser session")
	}
	return sess.FirstVisibleText(ctx, selectors)
}

func (s *Surface) AnyPresent(ctx context.Context, selectors []string) (bool, error) {
	sess, ok := s.mgr.Session()
	if !ok {
		return false, fmt.Errorf("no browser session")
	}
	return sess.AnyPresent(ctx, selectors)
}
