package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler("every day at six", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: parse schedule")

	_, err = NewScheduler("0 6 * * * *", nil, nil)
	assert.Error(t, err, "six fields are rejected")
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	h := newHarness()
	s, err := NewScheduler("0 6 * * *", h.orch, []Search{{Query: "plumbing", Location: "Miami"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_TickRunsDailyBatch(t *testing.T) {
	h := newHarness()
	s, err := NewScheduler("0 6 * * *", h.orch, []Search{{Query: "plumbing", Location: "Miami"}})
	require.NoError(t, err)

	s.tick()
	jobs, err := h.jobs.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "plumbing", jobs[0].Query)
}

func TestScheduler_SkipsOverlappingTick(t *testing.T) {
	h := newHarness()
	s, err := NewScheduler("0 6 * * *", h.orch, []Search{{Query: "plumbing", Location: "Miami"}})
	require.NoError(t, err)

	s.running = true
	s.tick()
	assert.Empty(t, h.google.calls)
}

func TestScheduler_TickStopsWhenRunContextDone(t *testing.T) {
	h := newHarness()
	s, err := NewScheduler("0 6 * * *", h.orch, []Search{
		{Query: "plumbing", Location: "Miami"},
		{Query: "roofing", Location: "Tampa"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	s.tick()
	jobs, err := h.jobs.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.False(t, s.running)
}
