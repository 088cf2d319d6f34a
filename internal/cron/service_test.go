package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/angelmondragon/tableside/pkg/metrics"
)

type heldLock struct{}

func (heldLock) Acquire(context.Context) (bool, error) { return false, nil }
func (heldLock) Release(context.Context) error         { return nil }

type testJob struct {
	name string
	err  error

	mu   sync.Mutex
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()
	return t.err
}

func (t *testJob) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &LocalLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop()})
	require.Error(t, err)
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	registry, err := NewRegistry(success, failure)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     &LocalLock{},
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	assert.Equal(t, 1, success.count())
	assert.Equal(t, 1, failure.count())

	families, err := reg.Gather()
	require.NoError(t, err)
	series := 0
	for _, family := range families {
		if family.GetName() == "cron_job_runs_total" {
			series = len(family.GetMetric())
		}
	}
	assert.Equal(t, 2, series, "one success and one failure series")
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "cart-purge"}
	registry, err := NewRegistry(job)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     heldLock{},
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	assert.Zero(t, job.count())

	assert.Equal(t, 1.0, gatheredValue(t, reg, "cron_cycles_skipped_total"))
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.NotEmpty(t, family.GetMetric())
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestServiceRunCycleReleasesLock(t *testing.T) {
	registry, err := NewRegistry(&testJob{name: "cart-purge"})
	require.NoError(t, err)
	lock := &LocalLock{}
	service, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: lock})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	acquired, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestServiceRunTicksUntilCancelled(t *testing.T) {
	job := &testJob{name: "cart-purge"}
	registry, err := NewRegistry(job)
	require.NoError(t, err)
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     &LocalLock{},
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	assert.Eventually(t, func() bool { return job.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
}

func TestServiceRunReturnsWithoutJobs(t *testing.T) {
	service, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &LocalLock{}})
	require.NoError(t, err)
	assert.NoError(t, service.Run(context.Background()))
}
