package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/audit"
	"github.com/jmerrifield20/CarbonLedger/internal/identity"
	"go.uber.org/zap"
)

// AuditHandler exposes the chain audit sweeper.
type AuditHandler struct {
	sweeper     *audit.Sweeper
	adminSecret string
	logger      *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(sweeper *audit.Sweeper, adminSecret string, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{sweeper: sweeper, adminSecret: adminSecret, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("/status", h.Status)
		a.POST("/sweep", identity.RequireAdminSecret(h.adminSecret), h.Sweep)
	}
}

// Status handles GET /audit/status with the last known state of every chain.
func (h *AuditHandler) Status(c *gin.Context) {
	chains, last := h.sweeper.Status()
	broken := 0
	for _, st := range chains {
		if !st.Valid {
			broken++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"chains":     chains,
		"broken":     broken,
		"last_sweep": last,
	})
}

// Sweep handles POST /audit/sweep and runs a sweep synchronously.
func (h *AuditHandler) Sweep(c *gin.Context) {
	rep := h.sweeper.SweepAll(c.Request.Context())
	c.JSON(http.StatusOK, rep)
}
