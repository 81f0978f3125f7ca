package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ChatSync/logger"
	"ChatSync/middleware"
	"ChatSync/service/devserver"
	"ChatSync/service/storage/redis"
	"ChatSync/tools"
	"ChatSync/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 环境变量：
// DEV_ADDR          监听地址（默认 :8080）
// DEV_JWT_SECRET    签名密钥
// DEV_TOKEN_TTL     token 有效期（默认 24h）
// DEV_REDIS_ADDR    设置后用 redis INCR 分配消息 id
// DEV_USERS         alice:pw,bob:pw；为空时任意非空密码都可登录
// DEV_SEED          预建会话，例如 alice|bob,alice|carol
// DEV_LOG_LEVEL     debug/info/warn/error
// DEV_NODE_ID       snowflake 节点号（0~1023），多实例时区分媒体文件名
// DEV_LATENCY       每个请求的人为延迟，例如 300ms
func main() {
	logger.SetLevel(tools.GetEnv("DEV_LOG_LEVEL", "info"))
	ids.SetNodeID(int64(tools.GetEnvInt("DEV_NODE_ID", 1)))
	if !tools.GetEnvBool("DEV_GIN_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := devserver.Options{
		Secret:   []byte(tools.GetEnv("DEV_JWT_SECRET", "dev-secret")),
		TokenTTL: tools.GetEnvDuration("DEV_TOKEN_TTL", 24*time.Hour),
		Users:    parseUsers(tools.GetEnv("DEV_USERS", "")),
	}

	if addr := tools.GetEnv("DEV_REDIS_ADDR", ""); addr != "" {
		err := redis.InitRedis(context.Background(), redis.Config{
			Addr:     addr,
			Password: tools.GetEnv("DEV_REDIS_PASSWORD", ""),
			DB:       tools.GetEnvInt("DEV_REDIS_DB", 0),
			PoolSize: tools.GetEnvInt("DEV_REDIS_POOL", 10),
		})
		if err != nil {
			logger.Error("[DevServer] redis unavailable", zap.String("addr", addr), zap.Error(err))
			os.Exit(1)
		}
		defer func() { _ = redis.CloseRedis() }()
		opts.Allocator = devserver.NewRedisAllocator(redis.GetRedis())
		logger.Info("[DevServer] message ids from redis", zap.String("addr", addr))
	}

	s := devserver.New(opts)
	if d := tools.GetEnvDuration("DEV_LATENCY", 0); d > 0 {
		s.Middleware().Set(devserver.MidLatency, middleware.Latency(d))
		logger.Info("[DevServer] artificial latency", zap.Duration("latency", d))
	}
	for _, group := range strings.Split(tools.GetEnv("DEV_SEED", ""), ",") {
		members := strings.Split(strings.TrimSpace(group), "|")
		if len(members) < 2 {
			continue
		}
		id := s.CreateConversation(members...)
		logger.Info("[DevServer] seeded conversation", zap.Int64("id", id), zap.Strings("participants", members))
	}

	srv := &http.Server{
		Addr:              tools.GetEnv("DEV_ADDR", ":8080"),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Info("[DevServer] listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[DevServer] serve", zap.Error(err))
			stop()
		}
	}()
	<-ctx.Done()

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[DevServer] shutdown", zap.Error(err))
	}
}

func parseUsers(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		u, p, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && u != "" {
			out[u] = p
		}
	}
	return out
}
