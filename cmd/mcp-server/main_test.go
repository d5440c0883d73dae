package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDaemonEnvForcesLocalBackend(t *testing.T) {
	env := daemonEnv([]string{"HOME=/home/u", "MLOG_BACKEND=remote", "MLOG_KV_SOCK=/tmp/kv.sock"})
	assert.Equal(t, []string{"HOME=/home/u", "MLOG_KV_SOCK=/tmp/kv.sock", "MLOG_BACKEND=bolt"}, env)
}

func TestMultiline(t *testing.T) {
	assert.Equal(t, "a\nb", multiline("a", "b"))
}
