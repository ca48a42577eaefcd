package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/identity"
	"go.uber.org/zap"
)

// AuthHandler issues carrier bearer tokens in exchange for the admin secret.
type AuthHandler struct {
	tokens      *identity.CarrierTokenIssuer
	adminSecret string
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(tokens *identity.CarrierTokenIssuer, adminSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, adminSecret: adminSecret, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", identity.RequireAdminSecret(h.adminSecret), h.IssueToken)
}

type tokenRequest struct {
	CarrierID string `json:"carrier_id" binding:"required"`
}

// IssueToken handles POST /auth/token.
//
// Response:
//
//	{"access_token":"...", "token_type":"Bearer", "expires_in":43200, "carrier_id":"..."}
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token auth is not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tok, err := h.tokens.Issue(req.CarrierID)
	if err != nil {
		h.logger.Error("issue carrier token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	h.logger.Info("carrier token issued", zap.String("carrier_id", req.CarrierID))
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
		"carrier_id":   req.CarrierID,
	})
}
