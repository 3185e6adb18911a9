package cache

import (
	"context"
	"sync"
	"time"

	"multikasir/backend/internal/domain"
)

// CategoryTreeCache holds built category trees per tenant. Any category write
// for a tenant must call InvalidateTree before the next read can be trusted.
type CategoryTreeCache interface {
	GetTree(ctx context.Context, tenantID string, includeInactive bool) ([]*domain.CategoryNode, bool, error)
	SetTree(ctx context.Context, tenantID string, includeInactive bool, tree []*domain.CategoryNode, ttl time.Duration) error
	InvalidateTree(ctx context.Context, tenantID string) error
}

type NoopCategoryTreeCache struct{}

func (NoopCategoryTreeCache) GetTree(_ context.Context, _ string, _ bool) ([]*domain.CategoryNode, bool, error) {
	return nil, false, nil
}

func (NoopCategoryTreeCache) SetTree(_ context.Context, _ string, _ bool, _ []*domain.CategoryNode, _ time.Duration) error {
	return nil
}

func (NoopCategoryTreeCache) InvalidateTree(_ context.Context, _ string) error {
	return nil
}

// TokenDenylist remembers revoked token ids until the token would have
// expired anyway. Revoke reports false when the id was already revoked, so
// exactly one caller wins a race on the same token.
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *MemoryDenylist) Revoke(_ context.Context, tokenID string, until time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, id)
		}
	}
	if _, taken := d.entries[tokenID]; taken {
		return false, nil
	}
	if until.After(now) {
		d.entries[tokenID] = until
	}
	return true, nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !exp.After(d.now()) {
		delete(d.entries, tokenID)
		return false, nil
	}
	return true, nil
}
