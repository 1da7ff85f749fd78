package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultStuckLimit = 50

// StuckMessages lists paid messages the carrier never accepted.
func (h *Handler) StuckMessages(c *gin.Context) {
	limit := defaultStuckLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.relay.Stuck(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h *Handler) Redispatch(c *gin.Context) {
	res, err := h.relay.Redispatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": res.Record.ID,
		"carrier_id": res.Record.CarrierMessageID,
	})
}
