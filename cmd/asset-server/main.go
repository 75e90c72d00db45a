// Command asset-server runs the image-ingest HTTP server: it accepts raw
// image uploads, content-addresses them by digest, and fans each one out
// into a configurable set of resized variants across a configurable set
// of encoded formats.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-processor/internal/api/handler"
	"github.com/aliskhannn/image-processor/internal/api/router"
	"github.com/aliskhannn/image-processor/internal/api/server"
	"github.com/aliskhannn/image-processor/internal/config"
	"github.com/aliskhannn/image-processor/internal/dedup"
	"github.com/aliskhannn/image-processor/internal/imageproc"
	"github.com/aliskhannn/image-processor/internal/pool"
	"github.com/aliskhannn/image-processor/internal/storage"
	fsbackend "github.com/aliskhannn/image-processor/internal/storage/fs"
	s3backend "github.com/aliskhannn/image-processor/internal/storage/s3"
)

func main() {
	configFile := flag.String("config-file", "./config/server.conf", "path to the server config file")
	flag.Parse()

	zlog.Init()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asset-server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asset-server: %v\n", err)
		os.Exit(1)
	}

	workers := pool.New(cfg.ThreadPoolSizeOrDefault())
	defer workers.Shutdown()

	factory := &imageproc.Factory{
		Pool:     workers,
		Backend:  backend,
		Registry: dedup.New(),
		Config:   cfg,
	}

	h := handler.New(cfg, factory)
	r := router.Setup(h)
	srv := server.New(fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort), r)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Logger.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	zlog.Logger.Info().Str("addr", srv.Addr).Msg("asset-server listening")

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("server shutdown did not complete cleanly")
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageType {
	case "fs":
		dataDir := cfg.StorageParams["data_dir"]
		tempDir := cfg.StorageParams["temp_dir"]
		if dataDir == "" || tempDir == "" {
			return nil, fmt.Errorf("storage.type=fs requires storage.data_dir and storage.temp_dir")
		}
		return fsbackend.New(filepath.Clean(dataDir), filepath.Clean(tempDir))
	case "s3":
		endpoint := cfg.StorageParams["endpoint"]
		accessKey := cfg.StorageParams["access_key"]
		secretKey := cfg.StorageParams["secret_key"]
		bucket := cfg.StorageParams["bucket"]
		useSSL := cfg.StorageParams["use_ssl"] == "true"
		if endpoint == "" || bucket == "" {
			return nil, fmt.Errorf("storage.type=s3 requires storage.endpoint and storage.bucket")
		}
		return s3backend.New(ctx, endpoint, accessKey, secretKey, bucket, useSSL)
	default:
		return nil, fmt.Errorf("unknown storage.type %q", cfg.StorageType)
	}
}
