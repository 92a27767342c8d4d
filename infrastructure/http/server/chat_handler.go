package server

import (
	"fmt"
	"market-chat/errors"
	"market-chat/projection"
	"market-chat/services"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ChatHandler exposes the pull side of the messaging core.
type ChatHandler struct {
	chatService services.IChatService
}

func NewChatHandler(chatService services.IChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// History serves GET /history/:listingId/:otherUserId?limit=&before=
func (h *ChatHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			abortWithError(c, fmt.Errorf("%w: limit must be a number", errors.ErrValidation))
			return
		}
		limit = parsed
	}
	page, err := h.chatService.History(c.Request.Context(), MustUserID(c), services.HistoryRequest{
		ListingID:   c.Param("listingId"),
		OtherUserID: c.Param("otherUserId"),
		Limit:       limit,
		Before:      c.Query("before"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ChatHandler) Conversations(c *gin.Context) {
	conversations, err := h.chatService.Conversations(c.Request.Context(), MustUserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse[[]projection.ConversationView]{Data: conversations})
}

// MarkRead serves PATCH /mark-read/:listingId/:otherUserId. Nothing to mark is a success.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	if _, err := h.chatService.MarkRead(c.Request.Context(), MustUserID(c), c.Param("listingId"), c.Param("otherUserId")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
