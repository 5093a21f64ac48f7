package ingest

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConsumer pops access records pushed onto a Redis list.
type RedisConsumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

func NewRedisConsumer(addr, password string, db int, key string, blockTimeout time.Duration) *RedisConsumer {
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisConsumer{client: client, key: key, blockTimeout: blockTimeout}
}

// Pop returns the next record, or nil when the block timeout expires first.
func (c *RedisConsumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (c *RedisConsumer) Close() error {
	return c.client.Close()
}

func StartRedis(ctx context.Context, sink *Sink, parser *Parser) {
	logger := sink.Logger
	current := sink.Config.Get().Ingest.Redis
	if !current.Enabled {
		if logger != nil {
			logger.Info("redis ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("redis ingest enabled", "addr", current.Addr, "key", current.Key)
	}
	consumer := NewRedisConsumer(current.Addr, current.Password, current.DB, current.Key, current.BlockTimeout)
	go func() {
		defer consumer.Close()
		for {
			payload, err := consumer.Pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("redis pop error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			if payload == nil {
				continue
			}
			sink.emitLine(ctx, parser, string(payload), "redis")
		}
	}()
}
