package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"pairchat/backend/internal/models"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerSeqKey       = "seq:chat_message"
	badgerSeqBandwidth = 100
	badgerMaxRetries   = 3

	// badgerMarkReadBatch bounds one mark-read transaction well below the
	// default MaxBatchCount.
	badgerMarkReadBatch = 500
)

// BadgerStore keeps the message log in an embedded BadgerDB.
// Keys are "msg:{channel}:{id padded to 19 digits}" so a prefix scan walks a
// channel in id order and a reverse scan walks it newest first.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

// diskMessage is the stored value; it carries the fields hidden from JSON on ChatMessage.
type diskMessage struct {
	ID         int64                `json:"id"`
	SpaceID    int64                `json:"spaceId"`
	ChannelKey string               `json:"channelKey"`
	FromUserID int64                `json:"fromUserId"`
	ToUserID   int64                `json:"toUserId"`
	Type       string               `json:"type"`
	Content    *string              `json:"content,omitempty"`
	MediaURL   *string              `json:"mediaUrl,omitempty"`
	Extra      *string              `json:"extra,omitempty"`
	Status     models.MessageStatus `json:"status"`
	CreatedAt  time.Time            `json:"createdAt"`
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(badgerSeqKey), badgerSeqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, log: log}, nil
}

// OpenBadger opens a BadgerDB at path; an empty path opens an in-memory instance.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return db, nil
}

// Close returns the unused part of the leased id range.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func messageKey(channelKey string, id int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", channelKey, id))
}

func channelPrefix(channelKey string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", channelKey))
}

func (s *BadgerStore) Append(_ context.Context, msg *models.ChatMessage) error {
	prepare(msg)

	// Sequence starts at 0; ids start at 1 like a serial column.
	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("allocate message id: %w", err)
	}
	msg.ID = int64(next) + 1

	value, err := json.Marshal(toDisk(*msg))
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.ChannelKey, msg.ID), value)
	}); err != nil {
		return fmt.Errorf("append message %s: %w", msg.ChannelKey, err)
	}
	return nil
}

func (s *BadgerStore) QueryBefore(_ context.Context, ch models.Channel, beforeID int64, limit int) ([]models.ChatMessage, error) {
	prefix := channelPrefix(ch.Key())
	out := make([]models.ChatMessage, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse Seek lands on the greatest key <= seekKey.
		seekKey := append([]byte{}, prefix...)
		if beforeID > 0 {
			seekKey = append(seekKey, []byte(fmt.Sprintf("%019d", beforeID))...)
		} else {
			seekKey = append(seekKey, []byte("9999999999999999999")...)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var dm diskMessage
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &dm)
			}); err != nil {
				return err
			}
			if beforeID > 0 && dm.ID >= beforeID {
				continue
			}
			out = append(out, dm.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", ch.Key(), err)
	}
	return out, nil
}

// MarkRead rewrites the matching values in transactions of at most
// badgerMarkReadBatch keys, retrying a batch when a concurrent transaction
// touched the same keys. Each batch resumes after the last id it marked.
func (s *BadgerStore) MarkRead(_ context.Context, ch models.Channel, recipientID int64) ([]int64, error) {
	ids := []int64{}
	if !ch.Includes(recipientID) {
		return ids, nil
	}

	var after int64
	for {
		batch, err := s.markReadBatch(ch.Key(), recipientID, after)
		if err != nil {
			return nil, fmt.Errorf("mark read %s for %d: %w", ch.Key(), recipientID, err)
		}
		if len(batch) == 0 {
			return ids, nil
		}
		ids = append(ids, batch...)
		after = batch[len(batch)-1]
	}
}

func (s *BadgerStore) markReadBatch(channelKey string, recipientID, after int64) ([]int64, error) {
	prefix := channelPrefix(channelKey)

	var ids []int64
	var err error
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		ids = nil
		err = s.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(messageKey(channelKey, after+1)); it.ValidForPrefix(prefix) && len(ids) < badgerMarkReadBatch; it.Next() {
				var dm diskMessage
				if err := it.Item().Value(func(v []byte) error {
					return json.Unmarshal(v, &dm)
				}); err != nil {
					return err
				}
				if dm.ToUserID != recipientID || dm.Status != models.StatusSent {
					continue
				}

				dm.Status = models.StatusRead
				value, err := json.Marshal(dm)
				if err != nil {
					return err
				}
				if err := txn.Set(messageKey(dm.ChannelKey, dm.ID), value); err != nil {
					// The transaction is full; commit what it holds and let the next batch continue.
					if errors.Is(err, badger.ErrTxnTooBig) {
						return nil
					}
					return err
				}
				ids = append(ids, dm.ID)
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.log.Debug("Mark read conflict, retrying", "channel", channelKey, "attempt", attempt+1)
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func toDisk(m models.ChatMessage) diskMessage {
	return diskMessage{
		ID:         m.ID,
		SpaceID:    m.SpaceID,
		ChannelKey: m.ChannelKey,
		FromUserID: m.FromUserID,
		ToUserID:   m.ToUserID,
		Type:       m.Type,
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		Extra:      m.Extra,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
	}
}

func (dm diskMessage) toModel() models.ChatMessage {
	return models.ChatMessage{
		ID:         dm.ID,
		SpaceID:    dm.SpaceID,
		ChannelKey: dm.ChannelKey,
		FromUserID: dm.FromUserID,
		ToUserID:   dm.ToUserID,
		Type:       dm.Type,
		Content:    dm.Content,
		MediaURL:   dm.MediaURL,
		Extra:      dm.Extra,
		Status:     dm.Status,
		CreatedAt:  dm.CreatedAt,
	}
}
