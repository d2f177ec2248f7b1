package contacts

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const defaultIndexKey = "cadence:active"

// RedisIndex is the ActiveIndex over a redis SET.
//
// SSCAN gives the cursoring contract Store.QueryDue relies on: the full
// set is eventually covered, members may repeat across pages, and the
// scan never blocks writers.
type RedisIndex struct {
	rdb *redis.Client
	key string
}

func NewRedisIndex(rdb *redis.Client, key string) *RedisIndex {
	if key == "" {
		key = defaultIndexKey
	}
	return &RedisIndex{rdb: rdb, key: key}
}

func (x *RedisIndex) Add(ctx context.Context, identifier string) error {
	return x.rdb.SAdd(ctx, x.key, identifier).Err()
}

func (x *RedisIndex) Remove(ctx context.Context, identifier string) error {
	return x.rdb.SRem(ctx, x.key, identifier).Err()
}

func (x *RedisIndex) Scan(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	return x.rdb.SScan(ctx, x.key, cursor, "", count).Result()
}
