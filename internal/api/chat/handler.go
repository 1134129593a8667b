package chat

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/api/middleware"
	"github.com/liliang-cn/groundchat/internal/domain"
)

// Service is the answering pipeline as seen by the HTTP layer
type Service interface {
	Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	EndSession(sessionID, userID string) error
	SessionSummary(sessionID, userID string) (*domain.SessionSummary, error)
}

// Handler handles chat and session requests
type Handler struct {
	service Service
}

// NewHandler creates a new chat handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the chat route. Extra handlers such as a rate
// limiter run before it.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, chatMiddleware ...gin.HandlerFunc) {
	r.POST("/chat", append(chatMiddleware, h.Chat)...)

	sessions := r.Group("/sessions")
	{
		sessions.GET("/:session_id", h.GetSession)
		sessions.DELETE("/:session_id", h.EndSession)
	}
}

// Chat answers one user message
func (h *Handler) Chat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, domain.NewValidationError(domain.CodeInvalidRequest, map[string]any{
			"reason": "request body must be a JSON object with message and user_id",
		}))
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), &req)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetSession returns a summary of a live session owned by user_id
func (h *Handler) GetSession(c *gin.Context) {
	summary, err := h.service.SessionSummary(c.Param("session_id"), c.Query("user_id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// EndSession ends a session owned by user_id
func (h *Handler) EndSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.service.EndSession(sessionID, c.Query("user_id")); err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "session ended", "session_id": sessionID})
}
