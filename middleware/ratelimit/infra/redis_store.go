package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// incrWindowScript faz INCR e define o PEXPIRE só quando a janela nasce
// (ou quando a chave ficou sem TTL). Tudo roda atômico dentro do Redis.
//
// KEYS[1] = chave da janela, ARGV[1] = duração em ms.
// Retorna {count, pttl}.
var incrWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisWindowStore implementa domain.WindowStore sobre Redis, compartilhado
// entre todas as instâncias do gateway.
type RedisWindowStore struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithRedisClock(now func() time.Time) RedisWindowOption {
	return func(s *RedisWindowStore) { s.now = now }
}

func NewRedisWindowStore(rdb redis.Cmdable, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:    rdb,
		prefix: "ratelimit:window",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) key(k domain.Key) string {
	return s.prefix + ":" + string(k)
}

func (s *RedisWindowStore) Increment(ctx context.Context, key domain.Key, window time.Duration) (domain.Counter, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		return domain.Counter{}, fmt.Errorf("invalid window %s", window)
	}

	res, err := incrWindowScript.Run(ctx, s.rdb, []string{s.key(key)}, ms).Int64Slice()
	if err != nil {
		return domain.Counter{}, err
	}
	if len(res) != 2 {
		return domain.Counter{}, fmt.Errorf("unexpected script reply: %v", res)
	}

	return domain.Counter{
		Count:   res[0],
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func (s *RedisWindowStore) Peek(ctx context.Context, key domain.Key) (domain.Counter, bool, error) {
	k := s.key(key)

	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Counter{}, false, err
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, err
	}

	c := domain.Counter{Count: count}
	if ttl := ttlCmd.Val(); ttl > 0 {
		c.ResetAt = s.now().Add(ttl)
	}
	return c, true, nil
}

func (s *RedisWindowStore) Reset(ctx context.Context, key domain.Key) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

func (s *RedisWindowStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
