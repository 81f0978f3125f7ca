package devserver

import (
	"context"
	"fmt"
	"sync"

	"ChatSync/tools/errs"

	"github.com/redis/go-redis/v9"
)

// IDAllocator hands out message ids, strictly increasing per conversation.
// floor is the highest id already stored; the result is always above it.
type IDAllocator interface {
	Next(ctx context.Context, conversationID, floor int64) (int64, error)
}

type memAllocator struct {
	mu   sync.Mutex
	last map[int64]int64
}

func NewMemAllocator() IDAllocator {
	return &memAllocator{last: make(map[int64]int64)}
}

func (a *memAllocator) Next(_ context.Context, conversationID, floor int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last[conversationID] < floor {
		a.last[conversationID] = floor
	}
	a.last[conversationID]++
	return a.last[conversationID], nil
}

// RedisAllocator allocates with INCR on one key per conversation, so ids keep
// increasing across dev server restarts.
type RedisAllocator struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisAllocator(rdb redis.UniversalClient) *RedisAllocator {
	return &RedisAllocator{rdb: rdb, prefix: "chatsync:msgid"}
}

func (a *RedisAllocator) key(conversationID int64) string {
	return fmt.Sprintf("%s:%d", a.prefix, conversationID)
}

// 只升不降：计数器落后于 floor 时先抬到 floor，再 INCR
var reconcileAndNextLua = `
local k = KEYS[1]
local floor = tonumber(ARGV[1])
local v = redis.call('GET', k)
if (not v) or (tonumber(v) < floor) then
  redis.call('SET', k, floor)
end
return redis.call('INCR', k)
`

func (a *RedisAllocator) Next(ctx context.Context, conversationID, floor int64) (int64, error) {
	id, err := a.rdb.Eval(ctx, reconcileAndNextLua, []string{a.key(conversationID)}, floor).Int64()
	if err != nil {
		return 0, errs.WrapMsg(err, "redis incr", "conversation", conversationID)
	}
	return id, nil
}
