package chathub

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
	"slices"
	"time"
)

const (
	DefaultHistorySize = 20
	MaxHistorySize     = 100
)

// Service holds the chat operations shared by the websocket session and the
// HTTP handlers: submitting, paging history and read receipts.
type Service struct {
	Store    storage.MessageStore
	Resolver storage.PartnerResolver
	Fanout   Fanout
	Log      *slog.Logger

	DefaultHistorySize int
	MaxHistorySize     int
	Now                func() time.Time
}

func NewService(store storage.MessageStore, resolver storage.PartnerResolver, fanout Fanout, log *slog.Logger) *Service {
	return &Service{
		Store:              store,
		Resolver:           resolver,
		Fanout:             fanout,
		Log:                log,
		DefaultHistorySize: DefaultHistorySize,
		MaxHistorySize:     MaxHistorySize,
		Now:                time.Now,
	}
}

// Submit persists one chat frame from fromUserID and delivers the stored
// message to both participants. A delivery failure is logged only; the
// message stays persisted and is returned.
func (s *Service) Submit(ctx context.Context, fromUserID int64, frame models.ChatFrame) (models.ChatMessage, error) {
	partnerID, ok, err := s.Resolver.PartnerOf(ctx, fromUserID)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("resolve partner of %d: %w", fromUserID, err)
	}
	if !ok {
		return models.ChatMessage{}, ErrNotPaired
	}

	spaceID, ok, err := s.Resolver.ChannelOf(ctx, fromUserID)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("resolve space of %d: %w", fromUserID, err)
	}
	if !ok {
		return models.ChatMessage{}, ErrNoChannel
	}

	msg := models.ChatMessage{
		SpaceID:    spaceID,
		ChannelKey: models.ChannelOf(fromUserID, partnerID).Key(),
		FromUserID: fromUserID,
		ToUserID:   partnerID,
		Type:       frame.Type,
		Content:    frame.Content,
		MediaURL:   frame.MediaURL,
		Extra:      frame.ExtraText(),
		Status:     models.StatusSent,
		CreatedAt:  s.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.Store.Append(ctx, &msg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}

	if err := s.Fanout.Deliver(ctx, models.NewMessageEvent(msg), fromUserID, partnerID); err != nil {
		s.Log.Warn("Message delivery failed", "message_id", msg.ID, "user_id", fromUserID, "err", err)
	}
	return msg, nil
}

// PageSize clamps a requested history page size.
func (s *Service) PageSize(size int) int {
	if size <= 0 {
		return s.DefaultHistorySize
	}
	return min(size, s.MaxHistorySize)
}

// GetHistory returns up to size messages of the user's channel older than
// beforeID (all when beforeID <= 0), oldest first. An unpaired user gets an
// empty page.
func (s *Service) GetHistory(ctx context.Context, userID, beforeID int64, size int) ([]models.ChatMessage, error) {
	partnerID, ok, err := s.Resolver.PartnerOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve partner of %d: %w", userID, err)
	}
	if !ok {
		return []models.ChatMessage{}, nil
	}

	msgs, err := s.Store.QueryBefore(ctx, models.ChannelOf(userID, partnerID), beforeID, s.PageSize(size))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	slices.SortFunc(msgs, func(a, b models.ChatMessage) int { return cmp.Compare(a.ID, b.ID) })
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// MarkAllRead flips every unread message from the partner to userID and
// returns the affected ids. Repeating it returns an empty list.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) ([]int64, error) {
	ids, _, err := s.markAllRead(ctx, userID)
	return ids, err
}

// ReadAndNotify marks everything read and tells the partner which messages
// were read. The update stands even when the notification fails.
func (s *Service) ReadAndNotify(ctx context.Context, userID int64) ([]int64, error) {
	ids, partnerID, err := s.markAllRead(ctx, userID)
	if err != nil || len(ids) == 0 {
		return ids, err
	}

	if err := s.Fanout.Deliver(ctx, models.NewReadEvent(userID, partnerID, ids), partnerID); err != nil {
		s.Log.Warn("Read receipt delivery failed", "user_id", userID, "partner_id", partnerID, "err", err)
	}
	return ids, nil
}

func (s *Service) markAllRead(ctx context.Context, userID int64) ([]int64, int64, error) {
	partnerID, ok, err := s.Resolver.PartnerOf(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve partner of %d: %w", userID, err)
	}
	if !ok {
		return []int64{}, 0, nil
	}

	ids, err := s.Store.MarkRead(ctx, models.ChannelOf(userID, partnerID), userID)
	if err != nil {
		return nil, 0, fmt.Errorf("mark read: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, partnerID, nil
}
