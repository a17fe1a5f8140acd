package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/api"
	"github.com/kidandcat/workboard/internal/blobstore"
	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/config"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/jobs"
	"github.com/kidandcat/workboard/internal/mail"
	"github.com/kidandcat/workboard/internal/notify"
	"github.com/kidandcat/workboard/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workboard: %v\n", err)
		os.Exit(2)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "workboard: invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "workboard: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Logger(os.Stderr)
	clk := clock.Real()

	store, err := db.Open(ctx, cfg.DataDir, db.Options{Clock: clk, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blobstore.New(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		return err
	}

	mailer := mail.New(cfg.Email, logger)

	bus := events.NewBus(events.BusOptions{Clock: clk, Logger: logger.With("component", "events")})
	notify.New(notify.Options{
		Store:         store,
		Mailer:        mailer,
		BaseURL:       cfg.BaseURL,
		InvitationTTL: cfg.Invitations.TTL,
		Logger:        logger.With("component", "notify"),
	}).Register(bus)

	mapping, err := cfg.TeamRoles()
	if err != nil {
		return err
	}
	svc := service.New(service.Options{
		Store:          store,
		Blobs:          blobs,
		Graph:          access.NewGraph(mapping),
		Events:         bus,
		Clock:          clk,
		Logger:         logger.With("component", "service"),
		InvitationTTL:  cfg.Invitations.TTL,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
	})

	// Sync admin users from config
	if err := svc.SyncAdmins(ctx, cfg.AdminEmails); err != nil {
		return fmt.Errorf("syncing admins: %w", err)
	}

	scheduler := jobs.New(clk, logger.With("component", "jobs"))
	jobs.Register(scheduler, svc, cfg.Jobs)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.New(api.Options{
			Service: svc,
			Store:   store,
			Mailer:  mailer,
			Config:  cfg,
			Clock:   clk,
			Logger:  logger.With("component", "api"),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The bus outlives the server so events raised by in-flight requests
	// are still delivered.
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBus()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(busCtx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("workboard running", "addr", cfg.Addr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopBus()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
