package memory

import (
	"context"
	"sync"
	"time"
)

// Guard is a process local run guard. Keys expire after their ttl.
type Guard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewGuard() *Guard {
	return &Guard{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim reports whether the caller is the first to claim key within ttl.
func (g *Guard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claims[key] = now.Add(ttl)
	return true, nil
}

// Release drops key so the next Claim succeeds.
func (g *Guard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}
