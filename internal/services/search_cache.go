package services

import (
	"context"
	"log"
	"slices"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

// searchCacheTTL matches how long a search result is considered fresh
const searchCacheTTL = 5 * time.Minute

// CachedSearcher memoizes successful searches by normalized query
type CachedSearcher struct {
	next  Searcher
	cache *cache.Cache
}

// NewCachedSearcher wraps a searcher with a TTL cache
func NewCachedSearcher(next Searcher, ttl time.Duration) *CachedSearcher {
	if ttl <= 0 {
		ttl = searchCacheTTL
	}
	return &CachedSearcher{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedSearcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if cached, found := c.cache.Get(key); found {
		log.Printf("✅ [SEARCH] Cache hit for: '%s'", query)
		return slices.Clone(cached.([]models.SearchResult)), nil
	}

	results, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	// Empty result sets are not cached so a later query can find new material
	if len(results) > 0 {
		c.cache.Set(key, slices.Clone(results), cache.DefaultExpiration)
	}
	return results, nil
}
