// outreachd is the candidate outreach daemon: it owns the browser session,
// the greeting task orchestrator, and the local HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"outreach/pkg/account"
	"outreach/pkg/api"
	"outreach/pkg/browser"
	"outreach/pkg/config"
	"outreach/pkg/detect"
	"outreach/pkg/notify"
	"outreach/pkg/outreach"
	"outreach/pkg/store"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to config yaml")
	flag.Parse()

	// A .env next to the binary may carry the webhook secret; absence is fine.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()

	if err := run(cfgPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
}

func run(cfgPath string, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if secret := os.Getenv("OUTREACH_WEBHOOK_SECRET"); secret != "" {
		cfg.Notification.Secret = secret
	}

	db, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr := browser.NewManager(cfg.Browser, cfg.Selectors, logger)
	if err := mgr.Initialize(); err != nil {
		return err
	}
	defer mgr.Shutdown()

	accounts := account.NewManager(browser.NewGateway(mgr), db, cfg.Automation, logger)
	defer accounts.Close()

	engine := outreach.NewEngine(outreach.Options{
		Driver:     browser.NewFeed(mgr),
		Detector:   detect.New(browser.NewSurface(mgr), cfg.Selectors),
		Gate:       accounts,
		Sink:       db,
		Notifier:   notify.New(cfg.Notification, logger),
		Automation: cfg.Automation,
		Pacing:     cfg.Pacing,
		Logger:     logger,
	})

	router := api.NewRouter(engine, accounts, db, logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("control surface listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	if err := engine.Stop(); err != nil && !errors.Is(err, outreach.ErrNotRunning) {
		logger.Warn().Err(err).Msg("failed to stop running task")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
