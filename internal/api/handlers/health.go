package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/dnsd/internal/api/models"
)

// Health reports that the process is up and serving.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats reports host resource usage and cumulative DNS query counters
// since startup.
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		cpuStats.UsedPercent = pct[0]
		cpuStats.IdlePercent = 100.0 - pct[0]
	}

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		DNS:           h.dnsStats(),
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) dnsStats() models.DNSStatsResponse {
	if h.statsFunc == nil {
		return models.DNSStatsResponse{}
	}
	s := h.statsFunc()
	return models.DNSStatsResponse{
		QueriesTotal: s.QueriesTotal,
		QueriesUDP:   s.QueriesUDP,
		QueriesTCP:   s.QueriesTCP,
		ResponsesNX:  s.ResponsesNX,
		ResponsesErr: s.ResponsesErr,
		AvgLatencyMs: s.AvgLatencyMs,
	}
}
