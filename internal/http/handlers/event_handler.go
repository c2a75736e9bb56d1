package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/graph"
	"github.com/sakamotodd/chatbot-sub001/internal/http/middleware"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"
	"github.com/sakamotodd/chatbot-sub001/internal/services"
)

// EventHandler ingests inbound chat events and hands them to the flow
// interpreter.
type EventHandler struct {
	Flow *services.FlowService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(flow *services.FlowService) *EventHandler {
	return &EventHandler{Flow: flow}
}

// HandleEvent processes POST /api/v1/events.
//
// The request body is a services.InboundEvent. Recoverable conditions
// (duplicate delivery, terminated session, unroutable selection) return 200
// with the corresponding outcome; only malformed requests, unknown prizes,
// and store or graph failures map to error statuses.
func (h *EventHandler) HandleEvent(c *gin.Context) {
	var ev services.InboundEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.Flow.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// writeError maps flow errors to HTTP responses.
func (h *EventHandler) writeError(c *gin.Context, err error) {
	var integrity *graph.IntegrityError
	switch {
	case errors.Is(err, services.ErrInvalidEvent):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"campaign_id, prize_id and instagram_user_id are required")
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, graph.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "prize or conversation graph not found")
	case errors.As(err, &integrity):
		middleware.LoggerFrom(c).Error().
			Str("prize_id", integrity.PrizeID).
			Str("node_id", integrity.NodeID).
			Str("reason", integrity.Reason).
			Msg("conversation graph integrity violation")
		fail(c, http.StatusUnprocessableEntity, ErrCodeGraphIntegrity,
			"conversation graph is inconsistent; contact the campaign owner")
	case errors.Is(err, services.ErrStoreTimeout):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreTimeout,
			"storage timed out, retry with the same event_key")
	case errors.Is(err, repo.ErrStaleSession):
		// Lost a version race to an external writer; the channel redelivers.
		fail(c, http.StatusConflict, ErrCodeEventFailed,
			"concurrent session update, retry with the same event_key")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("event processing failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to process event")
	}
}
