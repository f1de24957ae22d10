package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/notas/internal/domain"
)

const generationKey = "generation"

// CountCache caches list totals per entity and predicate set. Every entry
// key embeds the entity's generation, so bumping the generation hides all
// totals cached before a write without scanning for them.
type CountCache struct {
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCountCache creates a count cache. A non-positive ttl disables it.
func NewCountCache(c domain.Cache, ttl time.Duration, logger *slog.Logger) *CountCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &CountCache{cache: c, ttl: ttl, logger: logger}
}

// Get returns a cached total. Cache failures are reported as misses.
func (c *CountCache) Get(ctx context.Context, entity string, preds []domain.Predicate) (int, bool) {
	if !c.enabled() {
		return 0, false
	}
	key, ok := c.key(ctx, entity, preds)
	if !ok {
		return 0, false
	}
	val, err := c.cache.Get(ctx, entity, key)
	if err != nil {
		c.logger.Warn("count cache read failed", "entity", entity, "error", err)
		return 0, false
	}
	if val == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(val))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set stores a total under the current generation.
func (c *CountCache) Set(ctx context.Context, entity string, preds []domain.Predicate, total int) {
	if !c.enabled() {
		return
	}
	key, ok := c.key(ctx, entity, preds)
	if !ok {
		return
	}
	if err := c.cache.Set(ctx, entity, key, []byte(strconv.Itoa(total)), c.ttl); err != nil {
		c.logger.Warn("count cache write failed", "entity", entity, "error", err)
	}
}

// Bump invalidates every cached total of entity.
func (c *CountCache) Bump(ctx context.Context, entity string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	_, err := c.cache.Incr(ctx, entity, generationKey)
	return err
}

// Generation returns the entity's current generation, 0 when never bumped.
func (c *CountCache) Generation(ctx context.Context, entity string) (int64, error) {
	val, err := c.cache.Get(ctx, entity, generationKey)
	if err != nil || val == nil {
		return 0, err
	}
	return strconv.ParseInt(string(val), 10, 64)
}

func (c *CountCache) enabled() bool {
	return c != nil && c.cache != nil && c.ttl > 0
}

func (c *CountCache) key(ctx context.Context, entity string, preds []domain.Predicate) (string, bool) {
	gen, err := c.Generation(ctx, entity)
	if err != nil {
		c.logger.Warn("count cache generation read failed", "entity", entity, "error", err)
		return "", false
	}
	fp, err := Fingerprint(preds)
	if err != nil {
		return "", false
	}
	return "count:" + strconv.FormatInt(gen, 10) + ":" + fp, true
}

// Fingerprint hashes a predicate list. Equal lists in equal order hash equal.
func Fingerprint(preds []domain.Predicate) (string, error) {
	b, err := json.Marshal(preds)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}
