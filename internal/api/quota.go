package api

import (
	"context"
	"sync"
)

// quotaGate admits a query only while stored usage plus queries still in
// flight stays under the limit. Usage is read under the lock, and release
// must run after the increment is stored. The gate is per process; replicas
// sharing one store can still overshoot by their combined in-flight count.
type quotaGate struct {
	mu      sync.Mutex
	pending map[string]int
}

func newQuotaGate() *quotaGate {
	return &quotaGate{pending: map[string]int{}}
}

func (g *quotaGate) reserve(ctx context.Context, userID string, limit int, usage func(context.Context, string) (int, error)) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	used, err := usage(ctx, userID)
	if err != nil {
		return false, err
	}
	if used+g.pending[userID] >= limit {
		return false, nil
	}
	g.pending[userID]++
	return true, nil
}

func (g *quotaGate) release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[userID] <= 1 {
		delete(g.pending, userID)
		return
	}
	g.pending[userID]--
}
