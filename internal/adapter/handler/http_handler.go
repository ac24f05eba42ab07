package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/core/service"
	"github.com/rl1809/custody-ledger/internal/platform/logger"
)

type HTTPHandler struct {
	custody      *service.CustodyService
	inventory    *service.InventoryService
	stock        *service.StockService
	log          *logger.Logger
	sweepWorkers int
}

func NewHTTPHandler(custody *service.CustodyService, inventory *service.InventoryService, stock *service.StockService, log *logger.Logger, sweepWorkers int) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{
		custody:      custody,
		inventory:    inventory,
		stock:        stock,
		log:          log,
		sweepWorkers: sweepWorkers,
	}
}

// HoldingView is a holding plus the display label of each item.
type HoldingView struct {
	domain.Holding
	Status map[string]domain.DisplayStatus `json:"status"`
}

func NewHoldingView(h domain.Holding) HoldingView {
	view := HoldingView{Holding: h, Status: make(map[string]domain.DisplayStatus, len(h.Items))}
	for _, id := range h.ItemIDs() {
		view.Status[id] = h.ItemStatus(id)
	}
	return view
}

type ApplyHTTPResponse struct {
	EventID   string      `json:"eventId"`
	RequestID string      `json:"requestId"`
	Duplicate bool        `json:"duplicate"`
	Holding   HoldingView `json:"holding"`
}

type RegisterUnitHTTPRequest struct {
	Category     domain.Category `json:"category"`
	SerialNumber string          `json:"serialNumber"`
}

func (h *HTTPHandler) Apply(c *gin.Context) {
	var req domain.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &domain.ValidationError{Reason: "invalid request body: " + err.Error()})
		return
	}

	result, err := h.custody.Apply(c.Request.Context(), req)
	if err != nil && !errors.Is(err, domain.ErrDuplicateRequest) {
		h.fail(c, "apply failed", err)
		return
	}

	c.JSON(http.StatusOK, ApplyHTTPResponse{
		EventID:   result.EventID,
		RequestID: result.RequestID,
		Duplicate: result.Duplicate,
		Holding:   NewHoldingView(result.Holding),
	})
}

func (h *HTTPHandler) GetHolding(c *gin.Context) {
	key, ok := holdingKey(c)
	if !ok {
		return
	}
	holding, err := h.custody.GetHolding(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "get holding failed", err)
		return
	}
	c.JSON(http.StatusOK, NewHoldingView(holding))
}

func (h *HTTPHandler) ListEvents(c *gin.Context) {
	key, ok := holdingKey(c)
	if !ok {
		return
	}
	events, err := h.custody.ListEvents(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "list events failed", err)
		return
	}
	if events == nil {
		events = []domain.CustodyEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *HTTPHandler) Audit(c *gin.Context) {
	key, ok := holdingKey(c)
	if !ok {
		return
	}
	report, err := h.custody.Audit(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "audit failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *HTTPHandler) Reconcile(c *gin.Context) {
	key, ok := holdingKey(c)
	if !ok {
		return
	}
	report, err := h.custody.Reconcile(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "reconcile failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *HTTPHandler) ReconcileCategory(c *gin.Context) {
	category, err := domain.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	report, err := h.custody.ReconcileAll(c.Request.Context(), category, h.sweepWorkers)
	if err != nil {
		h.fail(c, "reconcile sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *HTTPHandler) AggregateByGroup(c *gin.Context) {
	category, err := domain.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	source, err := service.ParseStockSource(c.Query("source"))
	if err != nil {
		respondError(c, err)
		return
	}
	rows, err := h.stock.AggregateByGroup(c.Request.Context(), category, source)
	if err != nil {
		h.fail(c, "aggregate failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "source": source, "groups": rows})
}

func (h *HTTPHandler) RegisterUnit(c *gin.Context) {
	var req RegisterUnitHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &domain.ValidationError{Reason: "invalid request body: " + err.Error()})
		return
	}
	unit, err := h.inventory.RegisterUnit(c.Request.Context(), req.Category, req.SerialNumber)
	if err != nil {
		h.fail(c, "register unit failed", err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

func (h *HTTPHandler) GetUnit(c *gin.Context) {
	unit, err := h.inventory.GetUnitBySerial(c.Request.Context(), c.Param("serial"))
	if err != nil {
		h.fail(c, "get unit failed", err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func (h *HTTPHandler) ListUnits(c *gin.Context) {
	category, err := domain.ParseCategory(c.Query("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	units, err := h.inventory.ListUnits(c.Request.Context(), category, domain.SerialStatus(c.Query("status")))
	if err != nil {
		h.fail(c, "list units failed", err)
		return
	}
	if units == nil {
		units = []domain.SerialUnit{}
	}
	c.JSON(http.StatusOK, gin.H{"units": units})
}

func (h *HTTPHandler) DeleteUnit(c *gin.Context) {
	if err := h.inventory.DeleteUnit(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "delete unit failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) fail(c *gin.Context, msg string, err error) {
	if _, known := classify(err); !known {
		h.log.Error(msg, "path", c.FullPath(), "error", err)
	}
	respondError(c, err)
}

func holdingKey(c *gin.Context) (domain.HoldingKey, bool) {
	category, err := domain.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, err)
		return domain.HoldingKey{}, false
	}
	return domain.HoldingKey{SubjectID: c.Param("subjectId"), Category: category}, true
}
