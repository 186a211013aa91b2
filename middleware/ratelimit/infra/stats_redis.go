package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega decisões em hashes do Redis:
//
//	<prefix>:total                 outcome -> n
//	<prefix>:minute:<yyyymmddhhmm> outcome -> n (expira em ttl)
//	<prefix>:route                 "<METHOD> <route>:<outcome>" -> n
//	<prefix>:key:<key>             outcome -> n (só com trackKeys, expira em ttl)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)
	if field == "" {
		return nil
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Route))
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// StatsSnapshot é a leitura agregada das estatísticas.
type StatsSnapshot struct {
	Total  Counters
	Routes map[string]Counters // "<METHOD> <route>"
	Key    *Counters           // só quando uma key foi pedida
}

// Snapshot lê total, rotas e, se key não for vazia, os contadores da key.
func (s *RedisStatsStore) Snapshot(ctx context.Context, key domain.Key) (StatsSnapshot, error) {
	pipe := s.rdb.Pipeline()
	total := pipe.HGetAll(ctx, s.prefix+":total")
	routes := pipe.HGetAll(ctx, s.prefix+":route")
	var perKey *redis.MapStringStringCmd
	if k := strings.TrimSpace(string(key)); k != "" {
		perKey = pipe.HGetAll(ctx, s.prefix+":key:"+k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return StatsSnapshot{}, fmt.Errorf("read stats: %w", err)
	}

	snap := StatsSnapshot{Routes: make(map[string]Counters)}
	for field, v := range total.Val() {
		snap.Total.addN(domain.Outcome(field), parseCount(v))
	}
	for field, v := range routes.Val() {
		i := strings.LastIndex(field, ":")
		if i < 0 {
			continue
		}
		c := snap.Routes[field[:i]]
		c.addN(domain.Outcome(field[i+1:]), parseCount(v))
		snap.Routes[field[:i]] = c
	}
	if perKey != nil {
		var c Counters
		for field, v := range perKey.Val() {
			c.addN(domain.Outcome(field), parseCount(v))
		}
		snap.Key = &c
	}
	return snap, nil
}

func parseCount(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
