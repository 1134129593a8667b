package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/domain"
)

// StatsProvider reports session statistics
type StatsProvider interface {
	Stats() domain.Stats
}

// SweepRunner runs the inactivity sweep on demand
type SweepRunner interface {
	RunOnce() int
}

// Handler handles admin API requests
type Handler struct {
	stats   StatsProvider
	sweeper SweepRunner
}

// NewHandler creates a new admin handler
func NewHandler(stats StatsProvider, sweeper SweepRunner) *Handler {
	return &Handler{
		stats:   stats,
		sweeper: sweeper,
	}
}

// RegisterRoutes registers admin routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.GetStats)
	r.POST("/sweep", h.Sweep)
}

// GetStats returns session statistics
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}

// Sweep removes expired sessions now and reports how many went
func (h *Handler) Sweep(c *gin.Context) {
	removed := h.sweeper.RunOnce()
	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
		"stats":   h.stats.Stats(),
	})
}
