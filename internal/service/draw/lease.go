package draw

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease makes sure one process drives a game's draws at a time.
type Lease interface {
	// Acquire takes or renews the lease for gameID.
	Acquire(ctx context.Context, gameID int64) (bool, error)
	Release(ctx context.Context, gameID int64)
}

// LocalLease is used when redis is disabled; the in-process manager
// already guarantees a single runner per game.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context, int64) (bool, error) { return true, nil }

func (LocalLease) Release(context.Context, int64) {}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLease struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

func NewRedisLease(rdb *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLease{rdb: rdb, owner: uuid.NewString(), ttl: ttl}
}

func buildLeaseKey(gameID int64) string {
	return fmt.Sprintf("draw:owner:%d", gameID)
}

func (l *RedisLease) Acquire(ctx context.Context, gameID int64) (bool, error) {
	key := buildLeaseKey(gameID)
	ok, err := l.rdb.SetNX(ctx, key, l.owner, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	holder, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if holder != l.owner {
		return false, nil
	}
	if err := l.rdb.Expire(ctx, key, l.ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context, gameID int64) {
	releaseScript.Run(ctx, l.rdb, []string{buildLeaseKey(gameID)}, l.owner)
}
