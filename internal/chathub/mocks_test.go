package chathub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"pairchat/backend/internal/auth"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3

	space int64 = 10

	secret = "test-secret"
	issuer = "pairchat"
)

// MockConn records everything sent to it.
type MockConn struct {
	id string

	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
	failWith    error
}

var connSeq atomic.Int64

func newMockConn() *MockConn {
	return &MockConn{id: fmt.Sprintf("conn-%d", connSeq.Add(1))}
}

func (c *MockConn) ID() string { return c.id }

func (c *MockConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return chathub.ErrConnClosed
	}
	if c.failWith != nil {
		return c.failWith
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *MockConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeReason = code, reason
}

func (c *MockConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// Events decodes every frame as a JSON object.
func (c *MockConn) Events(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.Frames() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

// MessageEvents decodes frames that carry a message id.
func (c *MockConn) MessageEvents(t *testing.T) []models.MessageEvent {
	t.Helper()
	var out []models.MessageEvent
	for _, f := range c.Frames() {
		var probe map[string]any
		require.NoError(t, json.Unmarshal(f, &probe))
		if _, ok := probe["event"]; ok {
			continue
		}
		var ev models.MessageEvent
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func (c *MockConn) CloseStatus() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// MockStore is a testify mock of storage.MessageStore.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, msg *models.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) QueryBefore(ctx context.Context, ch models.Channel, beforeID int64, limit int) ([]models.ChatMessage, error) {
	args := m.Called(ctx, ch, beforeID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

func (m *MockStore) MarkRead(ctx context.Context, ch models.Channel, recipientID int64) ([]int64, error) {
	args := m.Called(ctx, ch, recipientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// MockResolver is a testify mock of storage.PartnerResolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) PartnerOf(ctx context.Context, userID int64) (int64, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockResolver) ChannelOf(ctx context.Context, userID int64) (int64, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

// MockFanout is a testify mock of chathub.Fanout.
type MockFanout struct {
	mock.Mock
}

func (m *MockFanout) Deliver(ctx context.Context, event any, userIDs ...int64) error {
	args := m.Called(ctx, event, userIDs)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func testToken(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.NewIssuer(secret, issuer, time.Hour).Issue(userID)
	require.NoError(t, err)
	return token
}

type fixture struct {
	registry *chathub.Registry
	store    *storage.MemoryStore
	service  *chathub.Service
	hub      *chathub.Hub
}

// newFixture wires a hub over an in-memory store where alice and bob share a
// space and carol is alone.
func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	log := testLogger()

	handshake, err := chathub.NewHandshake(mode, auth.NewJWTValidator(secret, issuer))
	require.NoError(t, err)

	registry := chathub.NewRegistry()
	store := storage.NewMemoryStore()
	resolver := storage.NewStaticResolver(storage.StaticPair{SpaceID: space, UserA: alice, UserB: bob})
	service := chathub.NewService(store, resolver, chathub.NewDispatcher(registry, log), log)
	hub := chathub.NewHub(registry, service, handshake, log, chathub.HubOptions{RateBurst: 1000, RateInterval: time.Second})

	return &fixture{registry: registry, store: store, service: service, hub: hub}
}

// connect opens an authenticated frame-handshake session for userID.
func (f *fixture) connect(t *testing.T, userID int64) (*chathub.Session, *MockConn) {
	t.Helper()
	conn := newMockConn()
	s := f.hub.NewSession(conn)
	require.NoError(t, s.Open(nil))
	require.NoError(t, s.HandleFrame(context.Background(), authFrame(t, userID)))
	require.Equal(t, chathub.StateAuthenticated, s.State())
	return s, conn
}

func authFrame(t *testing.T, userID int64) []byte {
	return []byte(fmt.Sprintf(`{"type":"auth","token":%q}`, testToken(t, userID)))
}

func textFrame(text string) []byte {
	return []byte(fmt.Sprintf(`{"type":"text","content":%q}`, text))
}
