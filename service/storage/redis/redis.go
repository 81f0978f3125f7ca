package redis

import (
	"context"
	"sync"
	"time"

	"ChatSync/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisMu  sync.Mutex
	redisMgr *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// PingTimeout 默认 3s
	PingTimeout time.Duration
}

// Open 创建客户端并 Ping 一次；失败时关闭客户端。
func Open(ctx context.Context, c Config) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, errs.ErrArgs.WrapMsg("redis addr is empty")
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, c.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}

// InitRedis 初始化全局 Redis 管理器（单例）；已初始化时直接返回。
func InitRedis(ctx context.Context, c Config) error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil {
		return nil
	}
	rdb, err := Open(ctx, c)
	if err != nil {
		return err
	}
	redisMgr = &RedisManager{client: rdb}
	return nil
}

// GetRedis 获取 Redis Client；未初始化时返回 nil
func GetRedis() *redis.Client {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil
	}
	return redisMgr.client
}

// CloseRedis 关闭连接
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil || redisMgr.client == nil {
		return nil
	}
	err := redisMgr.client.Close()
	redisMgr = nil
	return err
}
