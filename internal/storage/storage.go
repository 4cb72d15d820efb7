package storage

import (
	"context"
	"errors"
	"fmt"
	"pairchat/backend/internal/models"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrInvalidPair   = errors.New("invalid static pair")
)

// MessageStore is the durable, ordered log of chat messages.
type MessageStore interface {
	// Append persists msg and fills in its ID. Status defaults to sent.
	Append(ctx context.Context, msg *models.ChatMessage) error
	// QueryBefore returns up to limit messages of the channel ordered by id
	// descending. beforeID <= 0 means "from the newest".
	QueryBefore(ctx context.Context, ch models.Channel, beforeID int64, limit int) ([]models.ChatMessage, error)
	// MarkRead flips every sent message addressed to recipientID in ch to read
	// and returns the affected ids in ascending order.
	MarkRead(ctx context.Context, ch models.Channel, recipientID int64) ([]int64, error)
}

// PartnerResolver answers who a user chats with and in which space.
// A false ok with a nil error means "not paired".
type PartnerResolver interface {
	PartnerOf(ctx context.Context, userID int64) (int64, bool, error)
	ChannelOf(ctx context.Context, userID int64) (int64, bool, error)
}

// OpenPostgres connects GORM to PostgreSQL.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables owned by the chat backend.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ChatMessage{},
		&models.SpaceMember{},
	)
}

// OpenRedis creates a client and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

// prepare fills the server-owned fields every store sets the same way.
// CreatedAt is kept in UTC at microsecond precision, the resolution of a
// Postgres timestamp, so the appended record equals the one read back.
func prepare(msg *models.ChatMessage) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)
	if msg.ChannelKey == "" {
		msg.ChannelKey = models.ChannelOf(msg.FromUserID, msg.ToUserID).Key()
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
}
