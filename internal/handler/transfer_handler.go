package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/staff-transfer-api/internal/dto"
	"github.com/noah-isme/staff-transfer-api/internal/models"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
	"github.com/noah-isme/staff-transfer-api/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type transferService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateTransferRequest) (*models.TransferRequest, error)
	Respond(ctx context.Context, actor models.Actor, req dto.TransferDecisionRequest) (*models.TransferRequest, error)
	Approve(ctx context.Context, actor models.Actor, req dto.TransferDecisionRequest) (*models.TransferRequest, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error)
	Reconcile(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error)
	List(ctx context.Context, actor models.Actor, query dto.TransferListQuery) ([]models.TransferRequest, error)
}

// TransferHandler exposes REST endpoints for the transfer approval workflow.
type TransferHandler struct {
	service transferService
}

// NewTransferHandler constructs the handler.
func NewTransferHandler(service transferService) *TransferHandler {
	return &TransferHandler{service: service}
}

// Create godoc
// @Summary Submit a transfer request
// @Tags Transfers
// @Accept json
// @Produce json
// @Param payload body dto.CreateTransferRequest true "Transfer payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transfers [post]
func (h *TransferHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transfer payload"))
		return
	}
	transfer, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, transfer)
}

// Respond godoc
// @Summary Receiving office accepts or rejects a transfer
// @Tags Transfers
// @Accept json
// @Produce json
// @Param payload body dto.TransferDecisionRequest true "Decision with action accept|reject"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transfers/respond [post]
func (h *TransferHandler) Respond(c *gin.Context) {
	h.decide(c, h.service.Respond)
}

// Approve godoc
// @Summary Zonal or district authority approves or rejects a transfer
// @Tags Transfers
// @Accept json
// @Produce json
// @Param payload body dto.TransferDecisionRequest true "Decision with action approve|reject"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /transfers/approve [post]
func (h *TransferHandler) Approve(c *gin.Context) {
	h.decide(c, h.service.Approve)
}

type decisionFunc func(ctx context.Context, actor models.Actor, req dto.TransferDecisionRequest) (*models.TransferRequest, error)

func (h *TransferHandler) decide(c *gin.Context, fn decisionFunc) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransferDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Action = models.TransferAction(strings.ToLower(strings.TrimSpace(string(req.Action))))
	transfer, err := fn(c.Request.Context(), actor, req)
	respondTransfer(c, transfer, err)
}

// List godoc
// @Summary List transfer requests
// @Tags Transfers
// @Produce json
// @Param scope query string false "incoming (default), outgoing or queue"
// @Param officeId query string false "Office to list for (SUPERADMIN only)"
// @Param limit query int false "Page size"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} response.Envelope
// @Router /transfers [get]
func (h *TransferHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	query := dto.TransferListQuery{
		Scope:    dto.TransferScope(strings.ToLower(strings.TrimSpace(c.Query("scope")))),
		OfficeID: strings.TrimSpace(c.Query("officeId")),
		Limit:    limit,
		Offset:   offset,
	}
	if query.Scope == "" {
		query.Scope = dto.TransferScopeIncoming
	}
	transfers, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transfers, map[string]interface{}{
		"scope":  query.Scope,
		"count":  len(transfers),
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// Get godoc
// @Summary Get a transfer request with its history
// @Tags Transfers
// @Produce json
// @Param id path string true "Transfer request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transfers/{id} [get]
func (h *TransferHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	transfer, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transfer)
}

// Reconcile godoc
// @Summary Re-apply the employee office update of an approved transfer
// @Tags Transfers
// @Produce json
// @Param id path string true "Transfer request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /transfers/{id}/reconcile [post]
func (h *TransferHandler) Reconcile(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	transfer, err := h.service.Reconcile(c.Request.Context(), actor, c.Param("id"))
	respondTransfer(c, transfer, err)
}

// respondTransfer renders a workflow result. A failed side effect still
// carries the committed request.
func respondTransfer(c *gin.Context, transfer *models.TransferRequest, err error) {
	if err != nil {
		if transfer != nil && errors.Is(err, appErrors.ErrSideEffect) {
			response.ErrorWithData(c, err, transfer)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transfer)
}
