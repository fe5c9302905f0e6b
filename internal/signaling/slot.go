package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telehealth-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotGuard enforces the at-most-one-active-call-per-user invariant.
type SlotGuard interface {
	// Acquire claims the user's call slot. False when the slot is held.
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisSlotGuard backs the guard with the Lua-scripted slot counter so the
// invariant holds across instances. The TTL covers crashed processes that
// never release.
type RedisSlotGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSlotGuard(rdb *redis.Client, ttl time.Duration) *RedisSlotGuard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSlotGuard{rdb: rdb, ttl: ttl}
}

func slotKey(userID string) string {
	return fmt.Sprintf("call:slot:%s", userID)
}

func (g *RedisSlotGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireSlot(ctx, g.rdb, slotKey(userID), 1, g.ttl)
}

func (g *RedisSlotGuard) Release(ctx context.Context, userID string) error {
	return utils.ReleaseSlot(ctx, g.rdb, slotKey(userID))
}

// MemorySlotGuard backs tests and single-instance local runs.
type MemorySlotGuard struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemorySlotGuard() *MemorySlotGuard {
	return &MemorySlotGuard{held: make(map[string]bool)}
}

func (g *MemorySlotGuard) Acquire(_ context.Context, userID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[userID] {
		return false, nil
	}
	g.held[userID] = true
	return true, nil
}

func (g *MemorySlotGuard) Release(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, userID)
	return nil
}
