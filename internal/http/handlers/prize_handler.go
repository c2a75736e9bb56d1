package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/http/middleware"
	"github.com/sakamotodd/chatbot-sub001/internal/services"
)

// PrizeHandler exposes read-only quota state for operators.
type PrizeHandler struct {
	Quota *services.QuotaService
}

// NewPrizeHandler constructs a PrizeHandler.
func NewPrizeHandler(quota *services.QuotaService) *PrizeHandler {
	return &PrizeHandler{Quota: quota}
}

// QuotaStatus processes GET /api/v1/prizes/:id/quota and reports the prize's
// winner counts, remaining quota, daily position, and rolling window state.
func (h *PrizeHandler) QuotaStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prize id is required")
		return
	}

	st, err := h.Quota.StatusFor(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prize not found")
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Str("prize_id", id).Msg("quota status lookup failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load quota status")
		return
	}
	ok(c, http.StatusOK, st)
}
