package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"grid_trader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 100}, logging.NewNopLogger())

	var counter int64
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(func() { atomic.AddInt64(&counter, 1) }))
	}
	pool.Stop()

	assert.Equal(t, int64(50), atomic.LoadInt64(&counter))
	assert.Equal(t, uint64(50), pool.Stats()["successful_tasks"])
}

func TestWorkerPool_NonBlockingRejectsWhenFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "tiny", MaxWorkers: 1, MaxCapacity: 1, NonBlocking: true}, logging.NewNopLogger())

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	require.NoError(t, pool.Submit(func() {
		started.Done()
		<-release
	}))
	started.Wait()

	// one slot in the queue, then full
	require.NoError(t, pool.Submit(func() {}))
	err := pool.Submit(func() {})
	assert.ErrorContains(t, err, "is full")

	close(release)
	pool.Stop()
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panicky", MaxWorkers: 1}, logging.NewNopLogger())

	var ran atomic.Bool
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	require.NoError(t, pool.Submit(func() { ran.Store(true) }))
	pool.Stop()

	assert.True(t, ran.Load())
	assert.Equal(t, uint64(1), pool.Stats()["failed_tasks"])
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "stopped"}, logging.NewNopLogger())
	pool.Stop()

	assert.Error(t, pool.Submit(func() {}))
}
