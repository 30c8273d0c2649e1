package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/byarielm/atlast/internal/cleanup"
	"github.com/byarielm/atlast/internal/config"
	"github.com/byarielm/atlast/internal/identity"
	"github.com/byarielm/atlast/internal/session"
	"github.com/byarielm/atlast/internal/store"
	"github.com/byarielm/atlast/internal/tokencrypt"
	"github.com/byarielm/atlast/internal/web"
	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "atlast",
		Usage:   "atproto oauth session service",
		Version: versioninfo.Short(),
		Action:  run,
	}

	app.RunAndExitOnError()
}

func run(cmd *cli.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cipher, err := tokencrypt.New(cfg.TokenEncKey)
	if err != nil {
		return err
	}
	if !cipher.Enabled() {
		logger.Warn("token encryption key not set, storing tokens unencrypted")
	}

	st, err := store.Open(cfg.DatabasePath, cipher, logger)
	if err != nil {
		return fmt.Errorf("could not open store: %w", err)
	}
	defer st.Close()

	svc, err := session.NewService(session.ServiceArgs{
		Store:       st,
		BuildClient: web.AuthorityClientBuilder(cfg),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := cleanup.NewJob(st, logger, cleanup.DefaultInterval)
	if err := job.Start(ctx); err != nil {
		return fmt.Errorf("could not start cleanup job: %w", err)
	}
	defer job.Stop()

	srv, err := web.NewServer(web.ServerArgs{
		Config:   cfg,
		Store:    st,
		Sessions: svc,
		Resolver: identity.NewResolver(nil),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
