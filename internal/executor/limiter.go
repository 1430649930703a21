package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// HostLimiter bounds concurrent SSH sessions per remote host so parallel
// deployments cannot saturate a single host. It is the only state shared
// across concurrent executor invocations.
type HostLimiter struct {
	mu      sync.Mutex
	sems    map[string]*semaphore.Weighted
	perHost int64
}

// NewHostLimiter creates a limiter allowing perHost concurrent sessions
// to each host. perHost <= 0 means unlimited (Acquire is a no-op).
func NewHostLimiter(perHost int) *HostLimiter {
	return &HostLimiter{
		sems:    make(map[string]*semaphore.Weighted),
		perHost: int64(perHost),
	}
}

// Acquire blocks until a session slot for host is available or ctx is done.
// The returned release function must be called exactly once.
func (l *HostLimiter) Acquire(ctx context.Context, host string) (release func(), err error) {
	if l == nil || l.perHost <= 0 {
		return func() {}, nil
	}

	l.mu.Lock()
	sem, ok := l.sems[host]
	if !ok {
		sem = semaphore.NewWeighted(l.perHost)
		l.sems[host] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
