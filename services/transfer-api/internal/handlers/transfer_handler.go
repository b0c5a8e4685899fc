package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/dtos"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/internal/services"
	"go.uber.org/zap"
)

type TransferHandler struct {
	logger  *zap.Logger
	service services.TransferService
}

func NewTransferHandler(logger *zap.Logger, svc services.TransferService) *TransferHandler {
	return &TransferHandler{logger: logger, service: svc}
}

// RegisterRoutes registers transfer routes on the provided group.
func (h *TransferHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transfers", h.CreateTransfer)
	r.GET("/transfers", h.ListTransfers)
	r.GET("/transfers/:id", h.GetTransfer)
}

func (h *TransferHandler) CreateTransfer(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.abort(c, traceID, err)
		return
	}

	var req dtos.TransferRequestDto
	if err = c.ShouldBindJSON(&req); err != nil {
		h.abort(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	accepted, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.abort(c, traceID, err)
		return
	}
	c.JSON(http.StatusAccepted, pkg.APIResponse{TraceID: traceID, Data: accepted})
}

func (h *TransferHandler) GetTransfer(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.abort(c, traceID, err)
		return
	}

	outcomes, err := h.service.ListOutcomes(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abort(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: outcomes})
}

// ListTransfers returns the most recent processed transactions, newest first. ?limit caps the count.
func (h *TransferHandler) ListTransfers(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.abort(c, traceID, err)
		return
	}

	limit := 0
	if raw := c.Query("limit"); !utils.IsEmpty(raw) {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			h.abort(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "limit must be a positive integer", err))
			return
		}
	}

	list, err := h.service.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		h.abort(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: list})
}

func (h *TransferHandler) abort(c *gin.Context, traceID string, err error) {
	abortWithError(c, h.logger, traceID, err)
}
