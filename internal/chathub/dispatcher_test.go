package chathub_test

import (
	"context"
	"errors"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversToEveryConnection(t *testing.T) {
	registry := chathub.NewRegistry()
	d := chathub.NewDispatcher(registry, testLogger())

	alicePhone, aliceLaptop, bobPhone := newMockConn(), newMockConn(), newMockConn()
	registry.Add(alice, alicePhone)
	registry.Add(alice, aliceLaptop)
	registry.Add(bob, bobPhone)

	require.NoError(t, d.Deliver(context.Background(), models.NewAuthOK(), alice, bob, alice))

	for _, c := range []*MockConn{alicePhone, aliceLaptop, bobPhone} {
		assert.Len(t, c.Frames(), 1, "duplicate user ids are served once")
		assert.JSONEq(t, `{"event":"auth","status":"ok"}`, string(c.Frames()[0]))
	}
}

func TestDispatcher_OfflineUserIsNoop(t *testing.T) {
	d := chathub.NewDispatcher(chathub.NewRegistry(), testLogger())

	assert.NoError(t, d.Deliver(context.Background(), models.NewAuthOK(), carol))
	assert.Zero(t, d.DeliverPayload([]byte(`{}`), carol))
}

func TestDispatcher_FailingConnectionDoesNotStopOthers(t *testing.T) {
	registry := chathub.NewRegistry()
	d := chathub.NewDispatcher(registry, testLogger())

	broken, healthy := newMockConn(), newMockConn()
	broken.failWith = chathub.ErrSendBufferFull
	registry.Add(bob, broken)
	registry.Add(bob, healthy)

	delivered := d.DeliverPayload([]byte(`{"id":1}`), bob)

	assert.Equal(t, 1, delivered)
	assert.Len(t, healthy.Frames(), 1)
	assert.Empty(t, broken.Frames())
}

func TestDispatcher_UnencodableEvent(t *testing.T) {
	d := chathub.NewDispatcher(chathub.NewRegistry(), testLogger())

	err := d.Deliver(context.Background(), make(chan int), alice)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, chathub.ErrConnClosed))
}
