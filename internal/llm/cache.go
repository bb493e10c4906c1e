package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a short-TTL Redis cache for deterministic completion calls
// (decomposition, metadata extraction). Unavailability is invisible to
// callers: a failed Get is a miss, a failed Put is dropped.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to the cache Redis. Returns nil (caching disabled)
// when the connection cannot be established.
func NewCache(redisURL string, ttl time.Duration, logger *zap.Logger) *Cache {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("Completion cache disabled: bad Redis URL", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Completion cache disabled: Redis unreachable", zap.Error(err))
		_ = client.Close()
		return nil
	}

	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Get returns a cached completion for the instruction+input pair.
func (c *Cache) Get(ctx context.Context, instructions, input string) (*CompletionResponse, bool) {
	data, err := c.client.Get(ctx, cacheKey(instructions, input)).Bytes()
	if err != nil {
		return nil, false
	}
	var resp CompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Put stores a completion result. Errors are swallowed.
func (c *Cache) Put(ctx context.Context, instructions, input string, resp *CompletionResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(instructions, input), data, c.ttl).Err(); err != nil {
		c.logger.Debug("Completion cache write failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func cacheKey(instructions, input string) string {
	h := sha256.New()
	h.Write([]byte(instructions))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return "completion:" + hex.EncodeToString(h.Sum(nil))
}
