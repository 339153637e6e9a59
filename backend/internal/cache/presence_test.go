package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) (PresenceCache, redis.UniversalClient) {
	t.Helper()
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"127.0.0.1:6379"}})
	// skip when Redis is not running
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisPresence(rdb), rdb
}

func TestPresence_MultiTabUser(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()
	doc := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, roomKey(doc), connsKey(doc)) })

	require.NoError(t, p.AddMember(ctx, doc, "tab-1", "alice", time.Minute))
	require.NoError(t, p.AddMember(ctx, doc, "tab-2", "alice", time.Minute))
	require.NoError(t, p.AddMember(ctx, doc, "c3", "bob", time.Minute))

	members, err := p.GetAliveMembers(ctx, doc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, p.RemoveMember(ctx, doc, "tab-1"))
	members, err = p.GetAliveMembers(ctx, doc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, p.RemoveMember(ctx, doc, "tab-2"))
	require.NoError(t, p.RemoveMember(ctx, doc, "unknown"))
	members, err = p.GetAliveMembers(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestPresence_ExpiredMembersAreDropped(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()
	doc := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, roomKey(doc), connsKey(doc)) })

	require.NoError(t, p.AddMember(ctx, doc, "c1", "ghost", -time.Minute))
	require.NoError(t, p.AddMember(ctx, doc, "c2", "live", time.Minute))

	members, err := p.GetAliveMembers(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, members)
	n, err := rdb.ZCard(ctx, roomKey(doc)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPresence_AddMemberRenewsExpiry(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()
	doc := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, roomKey(doc), connsKey(doc)) })

	require.NoError(t, p.AddMember(ctx, doc, "c1", "renewed", 3*time.Second))
	require.NoError(t, p.AddMember(ctx, doc, "c2", "stale", 3*time.Second))
	time.Sleep(2 * time.Second)
	require.NoError(t, p.AddMember(ctx, doc, "c1", "renewed", 3*time.Second))
	time.Sleep(2 * time.Second)

	members, err := p.GetAliveMembers(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"renewed"}, members)
}
