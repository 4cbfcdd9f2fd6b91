package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/export"
	"github.com/testpulse/admitflow/internal/log"
	"github.com/testpulse/admitflow/internal/orchestrator"
	"github.com/testpulse/admitflow/internal/payment"
	"github.com/testpulse/admitflow/internal/registry"
	"github.com/testpulse/admitflow/internal/repository"
	"github.com/testpulse/admitflow/internal/server"
	"github.com/testpulse/admitflow/internal/session"
)

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:          "admitd",
		Short:        "Admission automation daemon",
		Long:         "admitd runs the admission automation API: application intake, stage-sequenced form automation with human-in-the-loop suspensions, payment, and export.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), verbose)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, verbose bool) error {
	logger := log.New(verbose)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		return err
	}
	defer db.Close()

	if err := db.HealthCheck(ctx, 3*time.Second); err != nil {
		logger.Error("database health check failed", "error", err)
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("applying schema", "error", err)
		return err
	}
	logger.Info("database ready", "dsn", cfg.Database.DSN)

	apps := repository.NewApplicationRepository(db, logger)
	jobs := repository.NewJobRepository(db, logger)
	reg := registry.New()

	// Dry-run driver: walks every stage without a real browser. The
	// production Playwright driver plugs in through the same factory.
	factory := session.Factory(func(ctx context.Context) (session.Session, error) {
		s := session.NewScripted(cfg.Uploads.DiagnosticDir)
		s.DocumentDir = cfg.Uploads.DocumentDir
		return s, nil
	})

	orch := orchestrator.New(apps, jobs, reg, factory, cfg.Automation, logger)
	payments := payment.NewClient(cfg.Payment, cfg.Server.BackendURL, logger)
	exporter := export.NewService(apps, jobs, logger)
	api := server.New(orch, apps, payments, exporter, db, cfg.Server.FrontendURL, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		orch.RunReaper(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		orch.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("daemon exited", "error", err)
		return err
	}
	logger.Info("stopped")
	return nil
}
