package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	healthy   = "healthy"
	unhealthy = "unhealthy"
	degraded  = "degraded"
)

// GET /health
//
// Reports 200 with "healthy" when the database and redis both answer, and
// 503 with "degraded" otherwise so load balancers can act on the code. The
// JSON body names the failing component in both cases.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	db := h.probe(ctx, "database", h.database)
	rd := h.probe(ctx, "redis", h.redis)
	status, code := healthy, http.StatusOK
	if db != healthy || rd != healthy {
		status, code = degraded, http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": gin.H{"database": db, "redis": rd},
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) probe(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return unhealthy
	}
	if err := p.Ping(ctx); err != nil {
		h.logger.WithError(err).WithField("component", name).Error("health check failed")
		return unhealthy
	}
	return healthy
}
