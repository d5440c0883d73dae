package kv_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
)

// listenTemp opens a unix listener in a short temporary directory.
func listenTemp(t *testing.T) (net.Listener, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kvd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "kv.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	return l, sock
}

func TestIdleConnectionIsClosed(t *testing.T) {
	l, sock := listenTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := &kv.Server{Store: kv.NewStore(kv.NewMemory()), IdleTimeout: 50 * time.Millisecond}
	go func() { _ = srv.Serve(ctx, l) }()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServeClosesConnectionsOnShutdown(t *testing.T) {
	l, sock := listenTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv := &kv.Server{Store: kv.NewStore(kv.NewMemory()), IdleTimeout: time.Hour}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	// One round trip so the connection is being served.
	require.NoError(t, json.NewEncoder(conn).Encode(kv.Request{Op: "get", Key: "musical:1"}))
	dec := json.NewDecoder(conn)
	var resp kv.Response
	require.NoError(t, dec.Decode(&resp))
	assert.True(t, resp.OK)
	assert.False(t, resp.Found)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	assert.ErrorIs(t, dec.Decode(&resp), io.EOF)
}
