package redis

import (
	"context"
	"sync"
	"time"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce sync.Once
	redisMgr  *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config initialises the shared client.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// InitRedis creates the process-wide client once and pings it.
func InitRedis(c Config) error {
	var initErr error
	redisOnce.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			initErr = errs.WrapMsg(err, "redis ping", "addr", c.Addr)
			return
		}

		redisMgr = &RedisManager{client: rdb}
		logger.Infof("[Redis] connected addr=%s db=%d", c.Addr, c.DB)
	})
	return initErr
}

// GetRedis returns the shared client.
func GetRedis() *redis.Client {
	if redisMgr == nil {
		panic("Redis not initialized, call InitRedis first")
	}
	return redisMgr.client
}

// Ping reports whether the shared client is reachable.
func Ping(ctx context.Context) error {
	if redisMgr == nil {
		return errs.New("redis not initialized")
	}
	return redisMgr.client.Ping(ctx).Err()
}

// CloseRedis closes the shared client.
func CloseRedis() error {
	if redisMgr != nil && redisMgr.client != nil {
		return redisMgr.client.Close()
	}
	return nil
}
