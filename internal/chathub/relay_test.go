package chathub_test

import (
	"context"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/models"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instance struct {
	registry *chathub.Registry
	relay    *chathub.RedisRelay
}

func newInstance(t *testing.T, ctx context.Context, addr string) instance {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })

	registry := chathub.NewRegistry()
	relay := chathub.NewRedisRelay(rdb, "chat:fanout", chathub.NewDispatcher(registry, testLogger()), testLogger())
	require.NoError(t, relay.Start(ctx))
	return instance{registry: registry, relay: relay}
}

func TestRedisRelay_ReachesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	east := newInstance(t, ctx, mr.Addr())
	west := newInstance(t, ctx, mr.Addr())

	aliceConn, bobConn := newMockConn(), newMockConn()
	east.registry.Add(alice, aliceConn)
	west.registry.Add(bob, bobConn)

	event := models.NewMessageEvent(models.ChatMessage{ID: 7, FromUserID: alice, ToUserID: bob, Type: "text", Status: models.StatusSent})
	require.NoError(t, east.relay.Deliver(ctx, event, alice, bob))

	for _, c := range []*MockConn{aliceConn, bobConn} {
		assert.Eventually(t, func() bool { return len(c.Frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	}
	assert.Equal(t, int64(7), bobConn.MessageEvents(t)[0].ID)
}

func TestRedisRelay_FallsBackToLocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newInstance(t, ctx, mr.Addr())
	conn := newMockConn()
	local.registry.Add(bob, conn)

	mr.Close()
	err := local.relay.Deliver(ctx, models.NewAuthOK(), bob)

	assert.Error(t, err)
	require.Len(t, conn.Frames(), 1)
	assert.JSONEq(t, `{"event":"auth","status":"ok"}`, string(conn.Frames()[0]))
}

func TestRedisRelay_StartFailsWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	relay := chathub.NewRedisRelay(rdb, "chat:fanout", chathub.NewDispatcher(chathub.NewRegistry(), testLogger()), testLogger())

	assert.Error(t, relay.Start(context.Background()))
}
