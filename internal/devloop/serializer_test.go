package devloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializerCoalescesTriggersDuringRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var runs, concurrent, maxConcurrent atomic.Int32

	s := newSerializer(func(context.Context) {
		n := concurrent.Add(1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		started <- struct{}{}
		<-release
		concurrent.Add(-1)
	})

	ctx := context.Background()
	assert.True(t, s.Trigger(ctx))
	<-started

	// Five triggers during the first run collapse into one re-run.
	for i := 0; i < 5; i++ {
		assert.True(t, s.Trigger(ctx))
	}
	release <- struct{}{}
	<-started
	release <- struct{}{}

	s.Close()
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestSerializerIdleTriggerRunsOnce(t *testing.T) {
	var runs atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	s := newSerializer(func(context.Context) {
		runs.Add(1)
		wg.Done()
	})

	s.Trigger(context.Background())
	wg.Wait()
	s.Close()
	assert.Equal(t, int32(1), runs.Load())
}

func TestSerializerCloseWaitsAndRejects(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool

	s := newSerializer(func(context.Context) {
		close(started)
		<-release
		finished.Store(true)
	})
	s.Trigger(context.Background())
	<-started
	s.Trigger(context.Background())

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-closed

	assert.True(t, finished.Load())
	assert.False(t, s.Trigger(context.Background()))
}
