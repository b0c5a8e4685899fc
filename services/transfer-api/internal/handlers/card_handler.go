package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/internal/services"
	"go.uber.org/zap"
)

type CardHandler struct {
	logger  *zap.Logger
	service services.CardService
}

func NewCardHandler(logger *zap.Logger, svc services.CardService) *CardHandler {
	return &CardHandler{logger: logger, service: svc}
}

func (h *CardHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cards", h.ListCards)
}

func (h *CardHandler) ListCards(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	cards, err := h.service.ListCards(c.Request.Context())
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: cards})
}

func abortWithError(c *gin.Context, logger *zap.Logger, traceID string, err error) {
	resp := pkg.ToErrorResponse(logger, traceID, err)
	c.AbortWithStatusJSON(resp.Status, resp)
}
