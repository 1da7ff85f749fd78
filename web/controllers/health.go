package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var startedAt = time.Now()

// Health reports liveness with the host load.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":   "ok",
		"currency": h.relay.Currency().Name(),
		"uptime":   time.Since(startedAt).Round(time.Second).String(),
	}

	cpuPercent, err := cpu.PercentWithContext(c.Request.Context(), 0, false)
	if err == nil && len(cpuPercent) > 0 {
		resp["cpu"] = cpuPercent[0]
	}
	if v, err := mem.VirtualMemoryWithContext(c.Request.Context()); err == nil {
		resp["memory"] = v.UsedPercent
	}
	c.JSON(http.StatusOK, resp)
}
