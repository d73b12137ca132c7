package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxPunchLimit = 200

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status(c.Request.Context()))
}

// GetPunches handles GET /api/punches?limit=N.
func (h *Handler) GetPunches(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPunchLimit {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	recs, err := h.history.RecentPunches(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve punches"})
		return
	}
	c.JSON(http.StatusOK, recs)
}

// PostReload handles POST /api/reload. The schedule is rebuilt by the loop
// at its next iteration.
func (h *Handler) PostReload(c *gin.Context) {
	if h.loadConfig != nil {
		h.scheduler.RequestReload(h.loadConfig())
	} else {
		h.scheduler.RequestReload(nil)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reload requested"})
}
