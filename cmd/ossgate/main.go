package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ossgate/internal/app"
	"ossgate/internal/config"
	"ossgate/internal/core"
	"ossgate/internal/metrics"

	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "path to a YAML configuration file")
	listen := flag.String("listen", "", "HTTP listen address, overrides server.listen")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	if err := app.SetupLogging(os.Stdout, cfg.Log); err != nil {
		return err
	}

	st, err := app.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	store, err := app.OpenSessionStore(ctx, cfg.Session)
	if err != nil {
		return err
	}

	defer store.Close()

	collector, err := metrics.NewCollector(cfg.Metrics)
	if err != nil {
		return err
	}

	server, err := core.NewServer(ctx, core.NewConfig(
		core.WithGateway(st.Gateway),
		core.WithLocator(st.Locator),
		core.WithCodec(st.Codec),
		core.WithSessionStore(store),
		core.WithMetrics(collector),
		core.WithPrefix(cfg.Server.Prefix),
		core.WithMaxConcurrency(cfg.Upload.MaxConcurrency),
		core.WithMaxChunkSize(cfg.Upload.MaxChunkSize),
		core.WithSessionTTL(cfg.Session.TTL, cfg.Session.SweepInterval),
	))
	if err != nil {
		return fmt.Errorf("failed to create ossgate server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		return server.RunSweeper(ctx)
	})

	eg.Go(func() error {
		slog.Info("Starting ossgate HTTP server", "listen", cfg.Server.Listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("ossgate Started")
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := Run(ctx)
	stop()

	if err != nil {
		slog.Error("ossgate exited with error", "error", err)
		os.Exit(1)
	}
}
