package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/service"
	"github.com/jmerrifield20/CarbonLedger/internal/identity"
	"go.uber.org/zap"
)

// RecordHandler serves record creation, lookup and custody endpoints.
type RecordHandler struct {
	svc    *service.LedgerService
	tokens *identity.CarrierTokenIssuer // nil = X-Carrier-ID header mode
	logger *zap.Logger
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(svc *service.LedgerService, tokens *identity.CarrierTokenIssuer, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the record routes on the given router group.
func (h *RecordHandler) Register(rg *gin.RouterGroup) {
	records := rg.Group("/records")
	{
		records.POST("", h.CreateRecord)
		records.POST("/batch", h.BatchCreate)
		records.GET("/:id", h.GetRecord)
		records.POST("/:id/custody", h.AppendCustody)
	}
	rg.GET("/orders/:orderId/records", h.GetRecordsByOrder)
	rg.GET("/carriers/me/records", identity.RequireCarrier(h.tokens), h.GetMyRecords)
	rg.GET("/carriers/:carrierId/chain/tip", h.ChainTip)
}

// CreateRecord handles POST /records.
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	var in model.RecordInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.CreateRecord(c.Request.Context(), &in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type batchCreateRequest struct {
	Records []*model.RecordInput `json:"records" binding:"required"`
}

// BatchCreate handles POST /records/batch. Items are committed in order;
// failures are reported per item and do not abort the batch.
func (h *RecordHandler) BatchCreate(c *gin.Context) {
	var req batchCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "records must not be empty"})
		return
	}
	if len(req.Records) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most 100 records per batch"})
		return
	}

	res := h.svc.BatchCreate(c.Request.Context(), req.Records)
	status := http.StatusCreated
	if res.Success == 0 {
		status = http.StatusUnprocessableEntity
	} else if res.Errors > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, res)
}

// GetRecord handles GET /records/:id.
func (h *RecordHandler) GetRecord(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.svc.GetRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// AppendCustody handles POST /records/:id/custody.
func (h *RecordHandler) AppendCustody(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.CustodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.AppendCustody(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetRecordsByOrder handles GET /orders/:orderId/records.
func (h *RecordHandler) GetRecordsByOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	recs, err := h.svc.GetRecordsByOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "records": recs, "count": len(recs)})
}

// GetMyRecords handles GET /carriers/me/records, the authenticated
// carrier's records, newest first.
func (h *RecordHandler) GetMyRecords(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.svc.ListCarrierRecords(c.Request.Context(), identity.CarrierFromCtx(c), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ChainTip handles GET /carriers/:carrierId/chain/tip.
func (h *RecordHandler) ChainTip(c *gin.Context) {
	tip, err := h.svc.ChainTip(c.Request.Context(), c.Param("carrierId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"carrier_id":  tip.CarrierID,
		"sequence":    tip.Sequence,
		"record_id":   tip.ID,
		"record_hash": tip.RecordHash,
	})
}
