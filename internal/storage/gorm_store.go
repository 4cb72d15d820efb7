package storage

import (
	"context"
	"errors"
	"fmt"
	"pairchat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errReadRace rolls back a mark-read whose locked rows changed under it.
var errReadRace = errors.New("unread rows changed during mark read")

// GormStore keeps the message log in a relational database.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Append inserts the message; the database assigns the id.
func (s *GormStore) Append(ctx context.Context, msg *models.ChatMessage) error {
	prepare(msg)
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("append message %s: %w", msg.ChannelKey, err)
	}
	return nil
}

func (s *GormStore) QueryBefore(ctx context.Context, ch models.Channel, beforeID int64, limit int) ([]models.ChatMessage, error) {
	q := s.DB.WithContext(ctx).Where("channel_key = ?", ch.Key())
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var out []models.ChatMessage
	if err := q.Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query history %s: %w", ch.Key(), err)
	}
	// Drivers scan timestamps in the session time zone.
	for i := range out {
		out[i].CreatedAt = out[i].CreatedAt.UTC()
	}
	return out, nil
}

// MarkRead locks the unread rows, updates exactly those and returns their ids.
// A concurrent caller blocks on the lock and then sees the rows as read, so
// every id is reported once.
func (s *GormStore) MarkRead(ctx context.Context, ch models.Channel, recipientID int64) ([]int64, error) {
	ids := []int64{}
	if !ch.Includes(recipientID) {
		return ids, nil
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatMessage{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("channel_key = ? AND to_user_id = ? AND status = ?", ch.Key(), recipientID, models.StatusSent).
			Order("id asc").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&models.ChatMessage{}).
			Where("id IN ? AND status = ?", ids, models.StatusSent).
			Update("status", models.StatusRead)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: selected %d unread, updated %d", errReadRace, len(ids), res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark read %s for %d: %w", ch.Key(), recipientID, err)
	}
	return ids, nil
}
