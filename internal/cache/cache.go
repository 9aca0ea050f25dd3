package cache

import (
	"context"
	"time"

	"dukapos/backend/internal/domain"
)

// SearchCache holds recent catalog name-search results. Implementations are
// best-effort: a miss or an error just means the search runs again.
type SearchCache interface {
	Get(ctx context.Context, key string) ([]domain.ProductMatch, bool, error)
	Set(ctx context.Context, key string, matches []domain.ProductMatch, ttl time.Duration) error
}

type NoopSearchCache struct{}

func (NoopSearchCache) Get(_ context.Context, _ string) ([]domain.ProductMatch, bool, error) {
	return nil, false, nil
}

func (NoopSearchCache) Set(_ context.Context, _ string, _ []domain.ProductMatch, _ time.Duration) error {
	return nil
}
