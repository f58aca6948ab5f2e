package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })
	q := NewQueue(client, 1)

	m := NewManager(q, 0)
	assert.Equal(t, DefaultSweepInterval, m.sweepInterval)
	assert.Same(t, q, m.GetQueue())
	assert.False(t, m.IsRunning())

	m = NewManager(q, 15*time.Minute)
	assert.Equal(t, 15*time.Minute, m.sweepInterval)
}

func TestManager_StopWithoutStart(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })
	m := NewManager(NewQueue(client, 1), time.Hour)

	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManager_StartStopAndTicker(t *testing.T) {
	q, _ := newTestQueue(t)
	rec := &fakeReconciler{}
	q.SetReconciler(rec)
	m := NewManager(q, 50*time.Millisecond)

	m.Start()
	assert.True(t, m.IsRunning())
	m.Start()

	swept := waitFor(func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.sweeps >= 1
	}, 5*time.Second)
	m.Stop()
	assert.True(t, swept)
	assert.False(t, m.IsRunning())
}

func TestManager_RunSweepOnceDedupes(t *testing.T) {
	q, _ := newTestQueue(t)
	m := NewManager(q, time.Hour)
	ctx := context.Background()

	require.NoError(t, m.RunSweepOnce(ctx, "manual"))
	require.NoError(t, m.RunSweepOnce(ctx, "manual"))

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}
