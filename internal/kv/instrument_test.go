package kv_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
)

func TestInstrumentCountsOperations(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := kv.NewMetrics(reg)
	mem := kv.NewMemory()
	s := kv.NewStore(kv.Instrument(mem, m))

	require.NoError(t, s.Set(ctx, "musical:1", json.RawMessage(`{}`)))
	_, err := s.Get(ctx, "musical:1")
	require.NoError(t, err)
	_, err = s.Get(ctx, "musical:2")
	require.NoError(t, err)
	_, err = s.GetByPrefix(ctx, "musical:")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("set", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("scan", "ok")))

	require.NoError(t, mem.Close())
	_, err = s.Get(ctx, "musical:1")
	require.ErrorIs(t, err, kv.ErrUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", "error")))

	// Invalid input never reaches the medium.
	_, err = s.Get(ctx, "")
	require.ErrorIs(t, err, kv.ErrInvalidArgument)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", "error")))

	count, err := testutil.GatherAndCount(reg, "mlog_kv_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
