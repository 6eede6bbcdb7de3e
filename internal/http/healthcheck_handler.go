package httpapi

import (
	"net/http"

	"kittypau/internal/service"

	"go.uber.org/zap"
)

// HealthCheckHandler 健康检查触发 Handler（由桥或外部调度器调用）
type HealthCheckHandler struct {
	healthCheckService service.HealthCheckService
	guard              *authGuard
	logger             *zap.Logger
}

// NewHealthCheckHandler 创建健康检查 Handler
func NewHealthCheckHandler(healthCheckService service.HealthCheckService, guard *authGuard, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		healthCheckService: healthCheckService,
		guard:              guard,
		logger:             logger,
	}
}

// Run POST /iot/api/v1/health-check?stale_min=&device_stale_min=
func (h *HealthCheckHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.guard.SchedulerAuth(r) {
		writeJSON(w, http.StatusUnauthorized, Fail("unauthorized"))
		return
	}

	q := r.URL.Query()
	req := service.RunHealthCheckRequest{
		BridgeStaleMin: parseInt(q.Get("stale_min"), 0),
		DeviceStaleMin: parseInt(q.Get("device_stale_min"), 0),
	}

	resp, err := h.healthCheckService.Run(ctx, req)
	if err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}
