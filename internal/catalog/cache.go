package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketing/internal/domain/models"
)

// Source is anything that can answer a fare lookup.
type Source interface {
	GetTripFare(ctx context.Context, tripID string) (models.TripFare, error)
}

// Cache fronts a Source with Redis. Only successful lookups are cached and
// a Redis failure falls through to the source.
type Cache struct {
	Next   Source
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (c Cache) GetTripFare(ctx context.Context, tripID string) (models.TripFare, error) {
	key := cacheKey(tripID)

	raw, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var f models.TripFare
		if jerr := json.Unmarshal(raw, &f); jerr == nil {
			return f, nil
		}
		log.Printf("[CATALOG] dropping undecodable cache entry %s", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("[CATALOG] redis get %s failed: %v", key, err)
	}

	f, err := c.Next.GetTripFare(ctx, tripID)
	if err != nil {
		return models.TripFare{}, err
	}
	if raw, err := json.Marshal(f); err == nil {
		if err := c.Client.Set(ctx, key, raw, c.TTL).Err(); err != nil {
			log.Printf("[CATALOG] redis set %s failed: %v", key, err)
		}
	}
	return f, nil
}

func cacheKey(tripID string) string {
	return "ticketing:trip-fare:" + tripID
}
