package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresJobsInOrder(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	require.NoError(t, registry.Register(jobA))
	require.NoError(t, registry.Register(jobB))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, jobA, jobs[0])
	assert.Same(t, jobB, jobs[1])

	// the returned slice is a copy
	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0])
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "cart-purge"}, &stubJob{name: "cart-purge"})
	require.Error(t, err)

	var registry Registry
	require.NoError(t, registry.Register(&stubJob{name: "x"}))
	assert.Error(t, registry.Register(&stubJob{name: "x"}))
	assert.Equal(t, 1, registry.Len())
}
