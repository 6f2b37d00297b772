package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rtcore/internal/apperr"
	"rtcore/internal/conversation"
	"rtcore/internal/http/middleware"
	"rtcore/internal/models"
	"rtcore/internal/store"
	"rtcore/internal/ws"
)

type HistoryStore interface {
	ListByConversation(ctx context.Context, id conversation.ID, page store.Page) ([]models.Message, error)
	ListConversationsFor(ctx context.Context, user string) ([]store.ConversationSummary, error)
	UnreadTotal(ctx context.Context, user string) (int64, error)
	ListCallsFor(ctx context.Context, user string, limit int) ([]models.CallRecord, error)
	RecordCall(ctx context.Context, rec *models.CallRecord) error
}

type ChatHandler struct {
	Store HistoryStore
	Hub   *ws.Hub
}

// ListMessages returns the conversation between the caller and :userId.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID := middleware.MustUserID(c)
	id := conversation.Resolve(userID, c.Param("userId"))

	// Page clamps the limit
	var page store.Page
	if v := c.Query("limit"); v != "" {
		if x, err := strconv.Atoi(v); err == nil {
			page.Limit = x
		}
	}
	if v := c.Query("before_id"); v != "" {
		if bid, err := strconv.ParseUint(v, 10, 64); err == nil {
			page.BeforeID = uint(bid)
		}
	}

	msgs, err := h.Store.ListByConversation(c.Request.Context(), id, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

// MarkRead flags messages from :userId to the caller as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID := middleware.MustUserID(c)
	n, err := h.Hub.Relay().MarkRead(c.Request.Context(), nil, userID, c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": n})
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := middleware.MustUserID(c)
	ctx := c.Request.Context()

	convs, err := h.Store.ListConversationsFor(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.Store.UnreadTotal(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs, "unread": unread})
}

func (h *ChatHandler) ListCalls(c *gin.Context) {
	userID := middleware.MustUserID(c)
	limit, _ := strconv.Atoi(c.Query("limit"))

	calls, err := h.Store.ListCallsFor(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": calls})
}

type recordCallReq struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Type       string `json:"type"`
	Status     string `json:"status" binding:"required"`
	Duration   int    `json:"duration" binding:"min=0"`
}

// RecordCall files a call the client tracked itself.
func (h *ChatHandler) RecordCall(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req recordCallReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return
	}
	if req.ReceiverID == userID {
		respondError(c, apperr.ErrSelfTarget)
		return
	}

	rec := models.CallRecord{
		CallerID:   userID,
		ReceiverID: req.ReceiverID,
		Kind:       models.CallKind(req.Type),
		Status:     models.CallStatus(req.Status),
		Duration:   req.Duration,
	}
	if err := h.Store.RecordCall(c.Request.Context(), &rec); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

func (h *ChatHandler) ListOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.Hub.Registry().Users()})
}

func (h *ChatHandler) Presence(c *gin.Context) {
	user := c.Param("userId")
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"userId": user,
		"online": h.Hub.Registry().Online(user),
	}})
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	code := apperr.CodeOf(err)
	c.JSON(code.HTTPStatus(), gin.H{"message": apperr.MessageOf(err), "code": code})
}
