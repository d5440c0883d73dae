package kv_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/kv/kvtest"
)

func TestMemoryConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend { return kv.NewMemory() })
}

func TestBoltConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		b, err := kv.OpenBolt(filepath.Join(t.TempDir(), "records.bbolt"), kv.BoltOptions{Bucket: "test"})
		require.NoError(t, err)
		return b
	})
}

func TestClientConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		return kv.NewClient(startDaemon(t, kv.NewMemory()))
	})
}

// startDaemon serves b on a fresh socket and returns its path.
func startDaemon(t *testing.T, b kv.Backend) string {
	t.Helper()
	// Unix socket paths are length-limited; t.TempDir can be too deep.
	dir, err := os.MkdirTemp("", "kvd")
	require.NoError(t, err)
	sock := filepath.Join(dir, "kv.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	store := kv.NewStore(b)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = kv.Serve(ctx, l, store)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = store.Close()
		_ = os.RemoveAll(dir)
	})
	return sock
}
