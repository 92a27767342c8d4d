package server

import (
	"market-chat/observability"
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status   string                        `json:"status"`
	Sessions int                           `json:"sessions"`
	Stats    observability.MonitoringStats `json:"stats"`
}

type HealthHandler struct {
	monitoring *observability.MonitoringManager
	sessions   func() int
}

func NewHealthHandler(monitoring *observability.MonitoringManager, sessions func() int) *HealthHandler {
	return &HealthHandler{monitoring: monitoring, sessions: sessions}
}

func (h *HealthHandler) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: h.sessions(),
		Stats:    h.monitoring.GetLatest(),
	})
}
