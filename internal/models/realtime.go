package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// FrameTypeAuth is the frame type carrying a credential in the in-band handshake.
const FrameTypeAuth = "auth"

// ChatFrame is an inbound websocket frame.
type ChatFrame struct {
	Type     string          `json:"type" validate:"required,max=32"`
	Token    string          `json:"token,omitempty"`
	Content  *string         `json:"content"`
	MediaURL *string         `json:"mediaUrl" validate:"omitempty,max=2048"`
	Extra    json.RawMessage `json:"extra"`
}

// ExtraText returns the raw extra payload, or nil when it is absent or JSON null.
func (f ChatFrame) ExtraText() *string {
	raw := bytes.TrimSpace(f.Extra)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	s := string(raw)
	return &s
}

// MessageEvent is the outbound shape of a persisted message.
// Extra is emitted as raw JSON and omitted entirely when absent.
type MessageEvent struct {
	ID         int64           `json:"id"`
	FromUserID int64           `json:"fromUserId"`
	ToUserID   int64           `json:"toUserId"`
	Type       string          `json:"type"`
	Content    *string         `json:"content"`
	MediaURL   *string         `json:"mediaUrl"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	Status     MessageStatus   `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewMessageEvent builds the delivery event for a stored message.
func NewMessageEvent(m ChatMessage) MessageEvent {
	ev := MessageEvent{
		ID:         m.ID,
		FromUserID: m.FromUserID,
		ToUserID:   m.ToUserID,
		Type:       m.Type,
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
	}
	if m.Extra != nil {
		ev.Extra = json.RawMessage(*m.Extra)
	}
	return ev
}

// AuthEvent acknowledges a successful in-band handshake.
type AuthEvent struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

// NewAuthOK returns {"event":"auth","status":"ok"}.
func NewAuthOK() AuthEvent {
	return AuthEvent{Event: "auth", Status: "ok"}
}

// ReadEvent tells the partner that their messages were read.
type ReadEvent struct {
	Event      string  `json:"event"`
	ReaderID   int64   `json:"readerId"`
	PartnerID  int64   `json:"partnerId"`
	MessageIDs []int64 `json:"messageIds"`
}

func NewReadEvent(readerID, partnerID int64, ids []int64) ReadEvent {
	return ReadEvent{Event: "read", ReaderID: readerID, PartnerID: partnerID, MessageIDs: ids}
}
