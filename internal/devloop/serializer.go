package devloop

import (
	"context"
	"sync"
)

// serializer runs one job at a time. A trigger that arrives during a run
// marks the job dirty, and the run is repeated exactly once afterwards no
// matter how many triggers arrived.
type serializer struct {
	run func(ctx context.Context)

	mu      sync.Mutex
	running bool
	dirty   bool
	closed  bool
	wg      sync.WaitGroup
}

func newSerializer(run func(ctx context.Context)) *serializer {
	return &serializer{run: run}
}

// Trigger requests a run. It reports false once the serializer is closed.
func (s *serializer) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.running {
		s.dirty = true
		return true
	}
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)
	return true
}

func (s *serializer) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.run(ctx)

		s.mu.Lock()
		if !s.dirty || s.closed {
			s.running = false
			s.dirty = false
			s.mu.Unlock()
			return
		}
		s.dirty = false
		s.mu.Unlock()
	}
}

// Close stops accepting triggers, drops a pending re-run and waits for the
// in-flight run to finish.
func (s *serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
