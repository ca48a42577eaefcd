package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/keys"
	"go.uber.org/zap"
)

// KeyHandler serves carrier signing key endpoints.
type KeyHandler struct {
	keys   *keys.Manager
	logger *zap.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(km *keys.Manager, logger *zap.Logger) *KeyHandler {
	return &KeyHandler{keys: km, logger: logger}
}

// Register mounts the key routes on the given router group.
func (h *KeyHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/carriers/:carrierId/keys", h.GenerateKeyPair)
	rg.GET("/carriers/:carrierId/keys", h.ListKeys)
}

// GenerateKeyPair handles POST /carriers/:carrierId/keys. The response is the
// only time the private key is ever returned.
func (h *KeyHandler) GenerateKeyPair(c *gin.Context) {
	carrierID := c.Param("carrierId")
	kp, err := h.keys.GenerateKeyPair(c.Request.Context(), carrierID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, kp)
}

// ListKeys handles GET /carriers/:carrierId/keys.
func (h *KeyHandler) ListKeys(c *gin.Context) {
	carrierID := c.Param("carrierId")
	list, err := h.keys.ListKeys(c.Request.Context(), carrierID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"carrier_id": carrierID, "keys": list})
}
