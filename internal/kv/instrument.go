package kv

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by instrumented backends.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates the kv collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlog",
			Subsystem: "kv",
			Name:      "operations_total",
			Help:      "Total number of storage operations by result",
		}, []string{"op", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mlog",
			Subsystem: "kv",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.Duration)
	}
	return m
}

type instrumented struct {
	next Backend
	m    *Metrics
}

// Instrument wraps b so every call is counted and timed.
func Instrument(b Backend, m *Metrics) Backend {
	return &instrumented{next: b, m: m}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	i.m.Operations.WithLabelValues(op, result).Inc()
	i.m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := i.next.Get(ctx, key)
	i.observe(opGet, start, err)
	return v, err
}

func (i *instrumented) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	start := time.Now()
	v, err := i.next.GetMany(ctx, keys)
	i.observe(opGetMany, start, err)
	return v, err
}

func (i *instrumented) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.next.Put(ctx, key, value)
	i.observe(opSet, start, err)
	return err
}

func (i *instrumented) PutMany(ctx context.Context, entries []Entry) error {
	start := time.Now()
	err := i.next.PutMany(ctx, entries)
	i.observe(opSetMany, start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe(opDelete, start, err)
	return err
}

func (i *instrumented) DeleteMany(ctx context.Context, keys []string) error {
	start := time.Now()
	err := i.next.DeleteMany(ctx, keys)
	i.observe(opDeleteMany, start, err)
	return err
}

func (i *instrumented) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	start := time.Now()
	v, err := i.next.Scan(ctx, prefix)
	i.observe(opScan, start, err)
	return v, err
}

func (i *instrumented) Close() error { return i.next.Close() }
