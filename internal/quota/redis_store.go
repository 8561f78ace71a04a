package quota

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// consumeScript sums every day key, then increments the last (current day)
// key only while the sum is below the ceiling. Redis runs it atomically.
var consumeScript = redis.NewScript(`
local ceiling = tonumber(ARGV[1])
local used = 0
for i = 1, #KEYS do
	local v = redis.call('GET', KEYS[i])
	if v then used = used + tonumber(v) end
end
if used >= ceiling then
	return {0, used}
end
redis.call('INCR', KEYS[#KEYS])
return {1, used + 1}
`)

// RedisStore keeps one integer key per (actor, operation, day). Keys share
// a hash tag so a month's keys live in one cluster slot.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) Store {
	return &RedisStore{rdb: rdb}
}

func dayKeys(actorKey string, op Operation, p Period) []string {
	days := p.Days()
	keys := make([]string, len(days))
	for i, d := range days {
		keys[i] = fmt.Sprintf("usage:{%s|%s}:%s", actorKey, op, d)
	}
	return keys
}

func (s *RedisStore) Consume(ctx context.Context, actorKey string, op Operation, p Period, ceiling int64) (Decision, error) {
	if ceiling <= 0 {
		used, err := s.Used(ctx, actorKey, op, p)
		return Decision{Used: used}, err
	}

	res, err := consumeScript.Run(ctx, s.rdb, dayKeys(actorKey, op, p), ceiling).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to consume usage: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("failed to consume usage: unexpected script reply %v", res)
	}
	return Decision{Allowed: res[0] == 1, Used: res[1]}, nil
}

func (s *RedisStore) Used(ctx context.Context, actorKey string, op Operation, p Period) (int64, error) {
	vals, err := s.rdb.MGet(ctx, dayKeys(actorKey, op, p)...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	var used int64
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse usage counter: %w", err)
		}
		used += n
	}
	return used, nil
}
