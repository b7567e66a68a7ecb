package push

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vocalink-backend/internal/middleware"
	"vocalink-backend/pkg/push"
	"vocalink-backend/pkg/response"
)

// Handler handles push token registration requests
type Handler struct {
	pushService *push.Service
}

// NewHandler creates a new push handler
func NewHandler(pushService *push.Service) *Handler {
	return &Handler{pushService: pushService}
}

// RegisterRoutes wires the push endpoints onto an authenticated route group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	tokens := rg.Group("/push/tokens")
	{
		tokens.POST("", h.RegisterToken)
		tokens.DELETE("/:token", h.UnregisterToken)
	}
}

// RegisterTokenRequest represents a push token registration
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Type     string `json:"type" binding:"required,oneof=fcm apns"`
	Platform string `json:"platform" binding:"omitempty,oneof=ios android"`
}

// RegisterToken stores a device push token for the caller
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		UserID:   middleware.UserID(c),
		Token:    req.Token,
		Type:     push.TokenType(req.Type),
		Platform: req.Platform,
	}
	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		response.InternalError(c, "Failed to register push token")
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"registered": true})
}

// UnregisterToken removes a device push token for the caller
// DELETE /v1/push/tokens/:token
func (h *Handler) UnregisterToken(c *gin.Context) {
	if err := h.pushService.UnregisterToken(c.Request.Context(), middleware.UserID(c), c.Param("token")); err != nil {
		response.InternalError(c, "Failed to unregister push token")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unregistered": true})
}
