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
	"ossgate/internal/storage"
	"ossgate/internal/tree"
	"ossgate/internal/ui"

	"golang.org/x/sync/errgroup"
)

const browseBase = "/browse/"

type Server struct {
	ops *storage.Ops
}

func (s *Server) Browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := r.PathValue("prefix")

	objects, err := s.ops.ListRaw(ctx, prefix)
	if err != nil {
		slog.Error("ListObjects error", "prefix", prefix, "err", err)
		http.Error(w, fmt.Sprintf("failed to list objects: %v", err), http.StatusBadGateway)
		return
	}

	root := tree.Build(prefix, objects, s.ops.Locator().URL)
	tree.SortChildren(root)

	if err := ui.TreePage(s.ops.Gateway().Bucket(), browseBase, root).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render tree page: %v", err), http.StatusInternalServerError)
		return
	}
}

func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "path to a YAML configuration file")
	listen := flag.String("listen", ":9100", "HTTP listen address")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := app.SetupLogging(os.Stdout, cfg.Log); err != nil {
		return err
	}

	// The browser only reads, it never creates the bucket.
	cfg.Storage.AutoCreateBucket = false
	cfg.Storage.CORS = false

	st, err := app.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	server := &Server{
		ops: storage.NewOps(st.Gateway, st.Locator, st.Codec),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, browseBase, http.StatusSeeOther)
	})
	mux.HandleFunc("GET "+browseBase+"{prefix...}", server.Browse)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		slog.Info("Starting ossgate UI server", "listen", *listen, "gateway", st.Gateway.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ossgate UI server failed: %w", err)
		}
		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := Run(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
