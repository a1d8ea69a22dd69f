package quota

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lockPartitions spreads lock creation across independent map shards
// so the hot path never funnels through one process-wide mutex
const lockPartitions = 64

// fairMutex is a channel-based mutex. Waiters are served in arrival
// order by the runtime's channel queue, and a blocked Lock can be
// abandoned through context cancellation.
type fairMutex struct {
	ch chan struct{}
}

func newFairMutex() *fairMutex {
	return &fairMutex{ch: make(chan struct{}, 1)}
}

// Lock acquires the mutex or returns the context's error
func (m *fairMutex) Lock(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the mutex. Unlocking an unheld mutex panics.
func (m *fairMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("quota: unlock of unlocked mutex")
	}
}

// keyedMutexPool hands out one fair mutex per string key, creating
// them lazily. Keys hash into fixed partitions; only the owning
// partition locks during lookup.
type keyedMutexPool struct {
	parts [lockPartitions]struct {
		mu    sync.Mutex
		locks map[string]*fairMutex
	}
}

func newKeyedMutexPool() *keyedMutexPool {
	p := &keyedMutexPool{}
	for i := range p.parts {
		p.parts[i].locks = make(map[string]*fairMutex)
	}
	return p
}

// get returns the mutex for key, creating it on first use
func (p *keyedMutexPool) get(key string) *fairMutex {
	part := &p.parts[xxhash.Sum64String(key)%lockPartitions]
	part.mu.Lock()
	m, ok := part.locks[key]
	if !ok {
		m = newFairMutex()
		part.locks[key] = m
	}
	part.mu.Unlock()
	return m
}
