package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mlog-app/mlog-store/internal/api"
	"github.com/mlog-app/mlog-store/internal/auth"
	"github.com/mlog-app/mlog-store/internal/backend"
	"github.com/mlog-app/mlog-store/internal/config"
	"github.com/mlog-app/mlog-store/internal/logger"
	"github.com/mlog-app/mlog-store/internal/media"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	basePath := flag.String("base-path", "", "mount every route under this prefix")
	flag.Parse()

	if err := logger.InitFromEnv(filepath.Join(config.DataDir(), "api.log")); err != nil {
		panic(err)
	}
	defer logger.Close()

	if err := run(*configPath, *basePath); err != nil {
		logger.Errorf("api: %v", err)
		os.Exit(1)
	}
}

func run(configPath, basePath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Log.Apply(); err != nil {
		logger.Warnf("Ignoring log config: %v", err)
	}
	if cfg.API.JWTSecret == "" {
		return errors.New("a JWT secret is required (api.jwt_secret or " + config.EnvJWTSecret + ")")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := backend.Open(ctx, cfg.Store, reg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Infof("Opened %s record store", cfg.Store.Backend)

	tokens := auth.NewTokens(cfg.API.JWTSecret, cfg.API.TokenTTL)
	dir := auth.NewDirectory(store, tokens, 0)

	var bucket media.Bucket
	if cfg.Media.Bucket != "" {
		b, err := media.NewS3Bucket(ctx, media.S3Options{
			Bucket:    cfg.Media.Bucket,
			Region:    cfg.Media.Region,
			Endpoint:  cfg.Media.Endpoint,
			AccessKey: cfg.Media.AccessKey,
			SecretKey: cfg.Media.SecretKey,
		})
		if err != nil {
			return err
		}
		bucket = b
		logger.Infof("Storing images in bucket %s", cfg.Media.Bucket)
	} else {
		logger.Warnf("No media bucket configured; image routes are disabled")
	}

	srv := api.New(store, dir, tokens, bucket, api.Options{
		BasePath:       basePath,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		SignedURLTTL:   cfg.Media.SignedURLTTL,
		CORSOrigin:     cfg.API.CORSOrigin,
		Registry:       reg,
	})

	httpSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", cfg.API.Addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
