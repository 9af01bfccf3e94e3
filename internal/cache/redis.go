/**
 * Redis Result Cache
 *
 * Finished results are cached by image content hash plus a digest of the
 * settings that produced them. Results carrying an error are never cached.
 */

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

const keyPrefix = "ocr:result:"

// Settings are the request parameters that change a recognition result
type Settings struct {
	Mode     string
	Backends []string
	Language string
	Enhanced bool
}

// digest is order sensitive for Backends since candidate order decides ties
func (s Settings) digest() string {
	h := sha256.New()
	h.Write([]byte(s.Mode))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(s.Backends, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(s.Language)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(s.Enhanced)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Key builds the cache key for an image under the given settings
func Key(image []byte, settings Settings) string {
	sum := sha256.Sum256(image)
	return keyPrefix + hex.EncodeToString(sum[:]) + ":" + settings.digest()
}

// ResultCache stores recognition results in Redis
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewResultCache connects to Redis. A zero ttl keeps entries until evicted.
func NewResultCache(redisURL string, ttl time.Duration) (*ResultCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ResultCache{
		client: client,
		ttl:    ttl,
		logger: logging.NewLogger("ResultCache"),
	}, nil
}

// Get returns the cached result for key; found is false on a miss
func (c *ResultCache) Get(ctx context.Context, key string) (*recognition.Result, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewCacheFailedError(key, err)
	}

	var result recognition.Result
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt entry is a miss; drop it so the next Set replaces it
		c.client.Del(ctx, key)
		c.logger.Warn("Discarding unreadable cache entry", "key", key, "error", err)
		return nil, false, nil
	}

	return &result, true, nil
}

// Set stores a successful result; failed results are skipped
func (c *ResultCache) Set(ctx context.Context, key string, result *recognition.Result) error {
	if result.Failed() {
		return nil
	}

	stored := *result
	stored.Index = 0

	data, err := json.Marshal(&stored)
	if err != nil {
		return apperrors.NewCacheFailedError(key, fmt.Errorf("failed to marshal result: %w", err))
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return apperrors.NewCacheFailedError(key, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	return c.client.Close()
}
