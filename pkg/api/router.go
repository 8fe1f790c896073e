// Package api is the HTTP control surface: a chi router exposing the greeting
// task, the login flow, saved accounts, and greeting templates to the local
// frontend.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"outreach/pkg/account"
	"outreach/pkg/logging"
	"outreach/pkg/outreach"
	"outreach/pkg/store"
)

// GreetingService is the task-facing slice of the orchestrator.
type GreetingService interface {
	Start(params outreach.Params) (string, error)
	Stop() error
	Reset() error
	ForceReset()
	Snapshot() outreach.Snapshot
	Logs(n int) []logging.Line
}

// SessionService is the auth-facing slice of the account manager.
type SessionService interface {
	Snapshot() account.Snapshot
	BeginLogin(ctx context.Context, accountHint string) (account.Snapshot, error)
	PollChallenge(ctx context.Context) (account.Snapshot, error)
	VerifySession(ctx context.Context) (bool, error)
	SwitchAccount(ctx context.Context, accountID string) (account.Snapshot, error)
	Logout(ctx context.Context) error
}

// Archive is the persistence slice the handlers read and edit directly.
type Archive interface {
	ListRuns(ctx context.Context, limit int) ([]outreach.Summary, error)
	RunLogs(ctx context.Context, runID string, limit int) ([]logging.Line, error)
	ListAccounts(ctx context.Context) ([]store.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	CurrentAccount(ctx context.Context) (string, error)
	SaveTemplate(ctx context.Context, t store.Template) error
	ListTemplates(ctx context.Context) ([]store.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(
	greeting GreetingService,
	session SessionService,
	archive Archive,
	logger zerolog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(greeting, session, archive)
	greetingH := NewGreetingHandler(greeting, archive)
	authH := NewAuthHandler(session)
	accountH := NewAccountHandler(session, archive)
	templateH := NewTemplateHandler(archive)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthH.Health)

		r.Route("/greeting", func(r chi.Router) {
			r.Get("/status", greetingH.Status)
			r.Post("/start", greetingH.Start)
			r.Post("/stop", greetingH.Stop)
			r.Post("/reset", greetingH.Reset)
			r.Post("/force-reset", greetingH.ForceReset)
			r.Get("/logs", greetingH.Logs)
			r.Get("/runs", greetingH.Runs)
			r.Get("/runs/{id}/logs", greetingH.RunLogs)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Get("/session", authH.Session)
			r.Post("/login", authH.Login)
			r.Get("/qrcode", authH.QRCode)
			r.Get("/poll", authH.Poll)
			r.Post("/verify", authH.Verify)
			r.Post("/logout", authH.Logout)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountH.List)
			r.Delete("/{id}", accountH.Delete)
			r.Post("/{id}/switch", accountH.Switch)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", templateH.List)
			r.Post("/", templateH.Create)
			r.Put("/{id}", templateH.Update)
			r.Delete("/{id}", templateH.Delete)
		})
	})

	return r
}
