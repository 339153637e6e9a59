package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache mirrors who is online in a document so any gateway instance
// can answer it.
type PresenceCache interface {
	AddMember(ctx context.Context, docID, connID, userID string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID, connID string) error
	GetAliveMembers(ctx context.Context, docID string) ([]string, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember also refreshes the TTL of a member already present.
func (p *redisPresence) AddMember(ctx context.Context, docID, connID, userID string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	// score is expireAt in Unix seconds, a logical TTL per member
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, connsKey(docID), connID, userID)
	_, err := tx.Exec(ctx)
	return err
}

// removeScript drops a connection and removes its user from the room once no
// other connection of that user is left.
var removeScript = redis.NewScript(`
-- KEYS[1] = roomKey(docID)
-- KEYS[2] = connsKey(docID)
-- ARGV[1] = connId
local uid = redis.call("HGET", KEYS[2], ARGV[1])
if not uid then
	return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
local vals = redis.call("HVALS", KEYS[2])
for _, v in ipairs(vals) do
	if v == uid then
		return 0
	end
end
redis.call("ZREM", KEYS[1], uid)
return 1
`)

func (p *redisPresence) RemoveMember(ctx context.Context, docID, connID string) error {
	err := removeScript.Run(ctx, p.rdb, []string{roomKey(docID), connsKey(docID)}, connID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// cleanupScript drops members whose expireAt has passed.
var cleanupScript = redis.NewScript(`
-- KEYS[1] = roomKey(docID)
-- ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return #expired
`)

func (p *redisPresence) GetAliveMembers(ctx context.Context, docID string) ([]string, error) {
	now := time.Now().Unix()
	if err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(docID)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	alive, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return alive, nil
}
