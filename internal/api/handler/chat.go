package handler

import (
	"net/http"
	"pairchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type historyQuery struct {
	BeforeID int64 `form:"beforeId" binding:"omitempty,min=1"`
	Size     int   `form:"size"`
}

// History pages backwards through the caller's conversation. Messages use
// the same shape as websocket message events.
func (h *Handler) History(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}

	userID := UserID(c)
	msgs, err := h.Hub.Service.GetHistory(c.Request.Context(), userID, q.BeforeID, q.Size)
	if err != nil {
		h.Log.Error("History query failed", "user_id", userID, "err", err)
		fail(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	success(c, lo.Map(msgs, func(m models.ChatMessage, _ int) models.MessageEvent {
		return models.NewMessageEvent(m)
	}))
}

// MarkRead marks everything from the partner as read and returns the ids
// that changed.
func (h *Handler) MarkRead(c *gin.Context) {
	userID := UserID(c)
	ids, err := h.Hub.Service.ReadAndNotify(c.Request.Context(), userID)
	if err != nil {
		h.Log.Error("Mark read failed", "user_id", userID, "err", err)
		fail(c, http.StatusInternalServerError, "failed to mark messages read")
		return
	}
	success(c, ids)
}
