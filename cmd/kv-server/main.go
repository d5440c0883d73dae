package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mlog-app/mlog-store/internal/backend"
	"github.com/mlog-app/mlog-store/internal/config"
	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := logger.InitFromEnv(filepath.Join(config.DataDir(), "kv-server.log")); err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}
	if cfg.Store.Backend == config.BackendRemote {
		logger.Errorf("kv-server cannot serve the remote backend; choose a local medium")
		os.Exit(1)
	}
	if err := cfg.Log.Apply(); err != nil {
		logger.Warnf("Ignoring log config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sock := cfg.Store.Socket

	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(sock), 0o755)
	_ = os.Remove(sock)

	l, err := net.Listen("unix", sock)
	if err != nil {
		logger.Errorf("Failed to listen on %s: %v", sock, err)
		os.Exit(1)
	}
	_ = os.Chmod(sock, 0o600)

	store, err := backend.Open(ctx, cfg.Store, nil)
	if err != nil {
		_ = l.Close()
		logger.Errorf("Failed to open record store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.Infof("Serving %s record store on %s", cfg.Store.Backend, sock)
	if err := kv.Serve(ctx, l, store); err != nil {
		logger.Errorf("kv-server stopped: %v", err)
	}
	_ = os.Remove(sock)
}
