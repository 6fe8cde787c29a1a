package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ossgate/internal/app"
	"ossgate/internal/client"
	"ossgate/internal/config"
	"ossgate/internal/storage"

	"github.com/dustin/go-humanize"
)

// Run uploads a file through the chunk endpoints of a running gateway, or,
// with -dir or -download, moves whole folders straight against the
// configured storage.
func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "path to a YAML configuration file")
	server := flag.String("server", "http://localhost:8080/oss", "base URL of the ossgate chunk API")
	file := flag.String("file", "", "local file to upload in chunks")
	remote := flag.String("path", "", "remote folder to store the upload under")
	name := flag.String("name", "", "remote file name (defaults to the local name)")
	guid := flag.String("guid", "", "upload session id; reuse it to resume an interrupted upload")
	chunkSize := flag.String("chunk-size", "8MiB", "chunk size, or the maximum chunk size in cdc mode")
	mode := flag.String("mode", "fixed", "chunking mode: fixed or cdc")
	concurrency := flag.Int("concurrency", 4, "chunks sent in parallel")
	dir := flag.String("dir", "", "local directory to upload directly to storage")
	download := flag.String("download", "", "remote folder to download from storage")
	out := flag.String("out", ".", "local directory for -download")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := app.SetupLogging(os.Stderr, cfg.Log); err != nil {
		return err
	}

	switch {
	case *download != "":
		ops, err := openOps(ctx, cfg)
		if err != nil {
			return err
		}

		n, err := ops.DownloadFolder(ctx, *download, *out)
		if err != nil {
			return err
		}
		slog.Info("Downloaded folder", "prefix", *download, "dir", *out, "files", n)
		return nil

	case *dir != "":
		ops, err := openOps(ctx, cfg)
		if err != nil {
			return err
		}

		uploaded, err := ops.UploadDir(ctx, *dir, *remote)
		if err != nil {
			return err
		}
		slog.Info("Uploaded directory", "dir", *dir, "prefix", *remote, "files", len(uploaded))
		return nil

	case *file != "":
		size, err := humanize.ParseBytes(*chunkSize)
		if err != nil {
			return fmt.Errorf("invalid -chunk-size: %w", err)
		}
		if size == 0 || int64(size) > cfg.Upload.MaxChunkSize {
			return fmt.Errorf("-chunk-size must be between 1 and %s", humanize.IBytes(uint64(cfg.Upload.MaxChunkSize)))
		}

		m, err := client.ParseMode(*mode)
		if err != nil {
			return err
		}

		c := client.New(*server,
			client.WithMode(m),
			client.WithChunkSize(int(size)),
			client.WithConcurrency(*concurrency),
		)

		info, err := c.Upload(ctx, client.FileUpload{
			GUID:      *guid,
			LocalPath: *file,
			Path:      *remote,
			Filename:  *name,
		})
		if err != nil {
			return err
		}

		fmt.Println(info.URL)
		return nil

	default:
		flag.Usage()
		return errors.New("one of -file, -dir or -download is required")
	}
}

// openOps connects to the configured storage without touching the bucket
// layout.
func openOps(ctx context.Context, cfg *config.Configuration) (*storage.Ops, error) {
	cfg.Storage.AutoCreateBucket = false
	cfg.Storage.CORS = false

	st, err := app.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return storage.NewOps(st.Gateway, st.Locator, st.Codec), nil
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
