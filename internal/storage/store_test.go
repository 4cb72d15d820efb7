package storage_test

import (
	"context"
	"log/slog"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	// One connection serialises writers; sqlite would otherwise report SQLITE_BUSY.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

// storeFactories lets every contract test run against each MessageStore implementation.
func storeFactories() map[string]func(t *testing.T) storage.MessageStore {
	return map[string]func(t *testing.T) storage.MessageStore{
		"memory": func(t *testing.T) storage.MessageStore {
			return storage.NewMemoryStore()
		},
		"gorm": func(t *testing.T) storage.MessageStore {
			return storage.NewGormStore(newSQLiteDB(t))
		},
		"badger": func(t *testing.T) storage.MessageStore {
			db, err := storage.OpenBadger("")
			require.NoError(t, err)
			store, err := storage.NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelDebug))
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = store.Close()
				_ = db.Close()
			})
			return store
		},
	}
}

func appendText(t *testing.T, store storage.MessageStore, from, to int64, text string) models.ChatMessage {
	t.Helper()
	msg := &models.ChatMessage{
		SpaceID:    10,
		FromUserID: from,
		ToUserID:   to,
		Type:       "text",
		Content:    lo.ToPtr(text),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Append(context.Background(), msg))
	return *msg
}

func ids(msgs []models.ChatMessage) []int64 {
	return lo.Map(msgs, func(m models.ChatMessage, _ int) int64 { return m.ID })
}

func TestMessageStore_AppendAssignsIncreasingIDs(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			first := appendText(t, store, alice, bob, "hi")
			second := appendText(t, store, bob, alice, "hello")

			assert.Greater(t, first.ID, int64(0))
			assert.Greater(t, second.ID, first.ID)
			assert.Equal(t, models.StatusSent, first.Status)
			assert.Equal(t, "1:2", first.ChannelKey)
			assert.Equal(t, first.ChannelKey, second.ChannelKey, "channel is symmetric")
		})
	}
}

func TestMessageStore_QueryBeforePaginatesNewestFirst(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			ch := models.ChannelOf(alice, bob)

			for i := 0; i < 25; i++ {
				if i%2 == 0 {
					appendText(t, store, alice, bob, "ping")
				} else {
					appendText(t, store, bob, alice, "pong")
				}
			}
			// Another channel must never leak into the page.
			appendText(t, store, carol, alice, "noise")

			page, err := store.QueryBefore(ctx, ch, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, []int64{25, 24, 23, 22, 21, 20, 19, 18, 17, 16}, ids(page))

			older, err := store.QueryBefore(ctx, ch, 16, 10)
			require.NoError(t, err)
			assert.Equal(t, []int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6}, ids(older))

			oldest, err := store.QueryBefore(ctx, ch, 6, 10)
			require.NoError(t, err)
			assert.Equal(t, []int64{5, 4, 3, 2, 1}, ids(oldest))
		})
	}
}

func TestMessageStore_MarkReadIsIdempotent(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			ch := models.ChannelOf(alice, bob)

			m1 := appendText(t, store, alice, bob, "one")
			appendText(t, store, bob, alice, "reply")
			m3 := appendText(t, store, alice, bob, "two")

			read, err := store.MarkRead(ctx, ch, bob)
			require.NoError(t, err)
			assert.Equal(t, []int64{m1.ID, m3.ID}, read)

			again, err := store.MarkRead(ctx, ch, bob)
			require.NoError(t, err)
			assert.Empty(t, again)
			assert.NotNil(t, again, "an empty result is a list, not nil")

			page, err := store.QueryBefore(ctx, ch, 0, 10)
			require.NoError(t, err)
			for _, m := range page {
				if m.ToUserID == bob {
					assert.Equal(t, models.StatusRead, m.Status)
				} else {
					assert.Equal(t, models.StatusSent, m.Status, "messages to alice stay unread")
				}
			}
		})
	}
}

func TestMessageStore_MarkReadOutsideChannel(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			appendText(t, store, alice, bob, "private")

			read, err := store.MarkRead(context.Background(), models.ChannelOf(alice, bob), carol)
			require.NoError(t, err)
			assert.Empty(t, read)
		})
	}
}

func TestMessageStore_ExtraRoundTrip(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			plain := appendText(t, store, alice, bob, "no extra")
			withExtra := &models.ChatMessage{
				FromUserID: alice,
				ToUserID:   bob,
				Type:       "image",
				MediaURL:   lo.ToPtr("/uploads/a.png"),
				Extra:      lo.ToPtr(`{"w":640,"h":480}`),
			}
			require.NoError(t, store.Append(ctx, withExtra))

			page, err := store.QueryBefore(ctx, models.ChannelOf(alice, bob), 0, 10)
			require.NoError(t, err)
			require.Len(t, page, 2)

			byID := lo.KeyBy(page, func(m models.ChatMessage) int64 { return m.ID })
			assert.Nil(t, byID[plain.ID].Extra)
			assert.Nil(t, byID[plain.ID].MediaURL)
			require.NotNil(t, byID[withExtra.ID].Extra)
			assert.JSONEq(t, `{"w":640,"h":480}`, *byID[withExtra.ID].Extra)
			assert.Equal(t, "/uploads/a.png", *byID[withExtra.ID].MediaURL)
		})
	}
}

func TestMessageStore_CreatedAtSurvivesRoundTrip(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			msg := &models.ChatMessage{
				FromUserID: alice,
				ToUserID:   bob,
				Type:       "text",
				CreatedAt:  time.Date(2026, 5, 1, 9, 30, 5, 123456789, time.FixedZone("CEST", 7200)),
			}
			require.NoError(t, store.Append(ctx, msg))
			assert.Equal(t, time.Date(2026, 5, 1, 7, 30, 5, 123456000, time.UTC), msg.CreatedAt)

			page, err := store.QueryBefore(ctx, models.ChannelOf(alice, bob), 0, 10)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.True(t, msg.CreatedAt.Equal(page[0].CreatedAt), "stored %s, read %s", msg.CreatedAt, page[0].CreatedAt)
			assert.Equal(t, time.UTC, page[0].CreatedAt.Location())
		})
	}
}

func TestMessageStore_MarkReadLargeBacklog(t *testing.T) {
	const backlog = 1200
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			want := make([]int64, 0, backlog)
			for i := 0; i < backlog; i++ {
				want = append(want, appendText(t, store, alice, bob, "ping").ID)
			}

			got, err := store.MarkRead(context.Background(), models.ChannelOf(alice, bob), bob)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			again, err := store.MarkRead(context.Background(), models.ChannelOf(alice, bob), bob)
			require.NoError(t, err)
			assert.Empty(t, again)
		})
	}
}

func TestMessageStore_ConcurrentMarkReadReportsEachIDOnce(t *testing.T) {
	const (
		readers = 3
		unread  = 40
	)
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ch := models.ChannelOf(alice, bob)
			for i := 0; i < unread; i++ {
				appendText(t, store, alice, bob, "ping")
			}

			results := make(chan []int64, readers)
			var wg sync.WaitGroup
			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ids, err := store.MarkRead(context.Background(), ch, bob)
					assert.NoError(t, err)
					results <- ids
				}()
			}
			wg.Wait()
			close(results)

			var all []int64
			for ids := range results {
				all = append(all, ids...)
			}
			assert.Len(t, all, unread)
			assert.Len(t, lo.Uniq(all), unread, "an id was reported by two readers")
		})
	}
}

func TestMemoryStore_ConcurrentAppendsAreTotallyOrdered(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	done := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		go func() {
			msg := &models.ChatMessage{FromUserID: alice, ToUserID: bob, Type: "text"}
			assert.NoError(t, store.Append(ctx, msg))
			done <- msg.ID
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		seen[<-done] = true
	}
	assert.Len(t, seen, 50, "every append got a distinct id")

	page, err := store.QueryBefore(ctx, models.ChannelOf(alice, bob), 0, 100)
	require.NoError(t, err)
	got := ids(page)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i-1], got[i])
	}
}
