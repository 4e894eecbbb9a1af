package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/pkg/models"
)

// ResultCache stores ranked lists keyed by query signature. Two
// concurrent misses for one key may both compute and the last write
// wins; lists for the same key from the same generation are equivalent,
// so this costs duplicated work, never correctness.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]models.ScoredProduct, bool)
	Set(ctx context.Context, key string, products []models.ScoredProduct)
}

type cacheEntry struct {
	Products   []models.ScoredProduct `json:"products"`
	ComputedAt time.Time              `json:"computed_at"`
}

// RedisResultCache is the production ResultCache. Cache errors are
// logged and treated as misses; the query path never fails on the cache.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisResultCache(client *redis.Client, cfg config.CacheConfig, logger *logrus.Logger) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: cfg.ResultTTL, logger: logger}
}

func (c *RedisResultCache) Get(ctx context.Context, key string) ([]models.ScoredProduct, bool) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("key", key).Warn("Result cache read failed")
		}
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Result cache entry corrupt")
		return nil, false
	}
	return entry.Products, true
}

func (c *RedisResultCache) Set(ctx context.Context, key string, products []models.ScoredProduct) {
	data, err := json.Marshal(cacheEntry{Products: products, ComputedAt: time.Now()})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Result cache write failed")
	}
}

// cacheKey encodes operation, subject, limit and the extra parameters
// that change the result. The exclude set is sorted so semantically
// identical requests share an entry.
func cacheKey(prefix, op, subject string, k int, window time.Duration, exclude []uuid.UUID) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(op)
	b.WriteByte(':')
	b.WriteString(subject)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(k))
	if window > 0 {
		b.WriteString(":w")
		b.WriteString(strconv.FormatInt(int64(window/time.Second), 10))
	}
	if len(exclude) > 0 {
		ids := make([]string, len(exclude))
		for i, id := range exclude {
			ids[i] = id.String()
		}
		sort.Strings(ids)
		b.WriteString(":x")
		b.WriteString(strings.Join(ids, ","))
	}
	return b.String()
}
