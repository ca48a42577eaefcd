// Package handler exposes the carbon ledger over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.uber.org/zap"
)

// MaxBatchSize bounds batch create, verify and anomaly requests.
const MaxBatchSize = 100

// respondError maps a domain error onto its HTTP status.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var verr *model.ErrValidation
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrAlreadySigned),
		errors.Is(err, model.ErrNoActiveKey),
		errors.Is(err, model.ErrChainConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrHashMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrKeyGeneration):
		logger.Error("key generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": model.ErrKeyGeneration.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "operation timed out"})
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// parseID reads the :id path parameter, answering 400 when it is not a UUID.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// idsRequest is the body of the batch verify and batch anomaly endpoints.
type idsRequest struct {
	RecordIDs []string `json:"record_ids" binding:"required"`
}

// bindIDs decodes an idsRequest and enforces the batch bounds.
func bindIDs(c *gin.Context) ([]string, bool) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(req.RecordIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "record_ids must not be empty"})
		return nil, false
	}
	if len(req.RecordIDs) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most 100 record_ids per request"})
		return nil, false
	}
	return req.RecordIDs, true
}
