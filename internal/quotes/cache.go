package quotes

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stockledger/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const cacheExpiration = 5 * time.Minute

// Cache decorates a Provider with a Redis price cache. Cache failures
// degrade to a provider hit, they never fail a lookup.
type Cache struct {
	next Provider
	rdb  *redis.Client
}

// NewCache wraps next with a Redis cache
func NewCache(next Provider, rdb *redis.Client) *Cache {
	return &Cache{next: next, rdb: rdb}
}

func cacheKey(symbol string) string {
	return fmt.Sprintf("stock:%s:price", strings.ToUpper(symbol))
}

// Lookup serves from Redis when a fresh price is cached, otherwise asks
// the wrapped provider and caches its answer.
func (c *Cache) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = strings.ToUpper(symbol)

	cached, err := c.rdb.Get(ctx, cacheKey(symbol)).Result()
	if err == nil {
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return &models.Quote{Symbol: symbol, Name: symbol, Price: price}, nil
		}
	} else if err != redis.Nil {
		log.Printf("quote cache read failed for %s: %v", symbol, err)
	}

	quote, err := c.next.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := c.rdb.Set(ctx, cacheKey(symbol), quote.Price.String(), cacheExpiration).Err(); err != nil {
		log.Printf("quote cache write failed for %s: %v", symbol, err)
	}
	return quote, nil
}
