package httpapi

import (
	"net/http"

	"kittypau/internal/service"

	"go.uber.org/zap"
)

// HeartbeatHandler 桥心跳摄取 Handler
type HeartbeatHandler struct {
	heartbeatService service.HeartbeatService
	guard            *authGuard
	logger           *zap.Logger
}

// NewHeartbeatHandler 创建心跳 Handler
func NewHeartbeatHandler(heartbeatService service.HeartbeatService, guard *authGuard, logger *zap.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{
		heartbeatService: heartbeatService,
		guard:            guard,
		logger:           logger,
	}
}

// Ingest POST /iot/api/v1/bridges/heartbeat
func (h *HeartbeatHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.guard.BridgeAuth(r) {
		writeJSON(w, http.StatusUnauthorized, Fail("unauthorized"))
		return
	}

	var req service.IngestHeartbeatRequest
	if err := readBodyJSON(r, 1<<16, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	resp, err := h.heartbeatService.Ingest(ctx, req)
	if err != nil {
		h.logger.Error("Heartbeat ingest failed",
			zap.String("bridge_code", req.BridgeCode),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"bridge_code": resp.BridgeCode,
	}))
}
