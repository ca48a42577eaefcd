package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/anomaly"
	"go.uber.org/zap"
)

// AnomalyHandler serves anomaly screening endpoints.
type AnomalyHandler struct {
	detector *anomaly.Detector
	logger   *zap.Logger
}

// NewAnomalyHandler creates a new AnomalyHandler.
func NewAnomalyHandler(detector *anomaly.Detector, logger *zap.Logger) *AnomalyHandler {
	return &AnomalyHandler{detector: detector, logger: logger}
}

// Register mounts the anomaly routes on the given router group.
func (h *AnomalyHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/records/:id/anomalies", h.DetectAnomalies)
	rg.GET("/carriers/:carrierId/anomalies", h.DetectCarrierAnomalies)
	rg.POST("/anomalies/batch", h.BatchCheck)
}

// DetectAnomalies handles GET /records/:id/anomalies.
func (h *AnomalyHandler) DetectAnomalies(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rep, err := h.detector.DetectAnomalies(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// DetectCarrierAnomalies handles GET /carriers/:carrierId/anomalies?lastDays&limit.
func (h *AnomalyHandler) DetectCarrierAnomalies(c *gin.Context) {
	var opts anomaly.WindowOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lastDays and limit must be integers"})
		return
	}
	rep, err := h.detector.DetectCarrierAnomalies(c.Request.Context(), c.Param("carrierId"), opts)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// BatchCheck handles POST /anomalies/batch.
func (h *AnomalyHandler) BatchCheck(c *gin.Context) {
	ids, ok := bindIDs(c)
	if !ok {
		return
	}
	rep, err := h.detector.BatchCheck(c.Request.Context(), ids)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
