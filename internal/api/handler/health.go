package handler

import (
	"os"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/process"
)

// Health reports liveness plus a few process figures for operators.
func (h *Handler) Health(c *gin.Context) {
	stats := gin.H{
		"status":      "up",
		"users":       h.Hub.Registry.Users(),
		"connections": len(h.Hub.Registry.All()),
		"goroutines":  runtime.NumGoroutine(),
		"pid":         os.Getpid(),
	}
	if rss, err := h.residentMemory(); err == nil {
		stats["rssBytes"] = rss
	} else {
		h.Log.Debug("Process memory unavailable", "err", err)
	}
	success(c, stats)
}

func (h *Handler) residentMemory() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}
