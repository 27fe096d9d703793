package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/services"
)

type ruleCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRuleCache connects to REDIS_ADDR and returns a services.RuleCache backed
// by redis, so invalidation on rule approval is seen by every instance.
func NewRuleCache(log *logger.Logger) (services.RuleCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &ruleCache{
		log: log.With("service", "RedisRuleCache"),
		rdb: rdb,
	}, nil
}

func (c *ruleCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *ruleCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *ruleCache) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
