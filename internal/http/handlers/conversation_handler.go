package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/http/middleware"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"
	"github.com/sakamotodd/chatbot-sub001/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ConversationHandler serves conversation transcripts.
type ConversationHandler struct {
	DB *gorm.DB
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(db *gorm.DB) *ConversationHandler {
	return &ConversationHandler{DB: db}
}

// Messages processes GET /api/v1/conversations/:id/messages.
//
// Query parameters: page (1-based, default 1) and page_size (default 50,
// capped at 200). Entries are ordered by message timestamp, so the transcript
// reads top to bottom as the exchange happened.
func (h *ConversationHandler) Messages(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id is required")
		return
	}

	page := utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	size := utils.ClampPageSize(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), defaultPageSize, maxPageSize)

	ctx := c.Request.Context()
	if _, err := repo.GetConversationByID(ctx, h.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Str("conversation_id", id).Msg("conversation lookup failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load conversation")
		return
	}

	total, err := repo.CountConversationMessages(ctx, h.DB, id)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Str("conversation_id", id).Msg("transcript count failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load transcript")
		return
	}

	items, err := repo.ListConversationMessagesPage(ctx, h.DB, id, (page-1)*size, size)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Str("conversation_id", id).Msg("transcript page failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load transcript")
		return
	}

	ok(c, http.StatusOK, PagedResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: size,
	})
}
