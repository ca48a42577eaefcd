package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/service"
	"go.uber.org/zap"
)

// VerifyHandler serves signing and verification endpoints.
type VerifyHandler struct {
	svc    *service.LedgerService
	logger *zap.Logger
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(svc *service.LedgerService, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{svc: svc, logger: logger}
}

// Register mounts the verification routes on the given router group.
func (h *VerifyHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/records/:id/sign", h.SignRecord)
	rg.GET("/records/:id/verify", h.VerifyRecord)
	rg.POST("/verify/batch", h.BatchVerify)
	rg.GET("/carriers/:carrierId/chain/verify", h.VerifyChain)
}

// SignRecord handles POST /records/:id/sign.
func (h *VerifyHandler) SignRecord(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.svc.SignRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// VerifyRecord handles GET /records/:id/verify. Integrity failures are a
// 200 with valid=false; only lookup failures are errors.
func (h *VerifyHandler) VerifyRecord(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.svc.VerifyRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BatchVerify handles POST /verify/batch.
func (h *VerifyHandler) BatchVerify(c *gin.Context) {
	ids, ok := bindIDs(c)
	if !ok {
		return
	}
	res, err := h.svc.BatchVerify(c.Request.Context(), ids)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyChain handles GET /carriers/:carrierId/chain/verify.
func (h *VerifyHandler) VerifyChain(c *gin.Context) {
	res, err := h.svc.VerifyChain(c.Request.Context(), c.Param("carrierId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
