package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"kittypau/internal/service"

	"go.uber.org/zap"
)

// OverviewHandler 管理端 fleet 总览 / 审计导出 Handler
type OverviewHandler struct {
	overviewService service.OverviewService
	auditService    service.AuditService
	guard           *authGuard
	logger          *zap.Logger
}

// NewOverviewHandler 创建总览 Handler
func NewOverviewHandler(
	overviewService service.OverviewService,
	auditService service.AuditService,
	guard *authGuard,
	logger *zap.Logger,
) *OverviewHandler {
	return &OverviewHandler{
		overviewService: overviewService,
		auditService:    auditService,
		guard:           guard,
		logger:          logger,
	}
}

// FleetOverview GET /admin/api/v1/fleet/overview
// 查询参数：audit_window_sec, kinds (逗号分隔), dedup_window_sec,
// bypass_cache, include_grid
func (h *OverviewHandler) FleetOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.guard.AdminAuth(r) {
		writeJSON(w, http.StatusUnauthorized, Fail("unauthorized"))
		return
	}

	q := r.URL.Query()
	req := service.OverviewRequest{
		AuditWindowSec: parseInt(q.Get("audit_window_sec"), 0),
		DedupWindowSec: parseInt(q.Get("dedup_window_sec"), 0),
		BypassCache:    parseBool(q.Get("bypass_cache")),
		IncludeGrid:    parseBool(q.Get("include_grid")),
	}
	if kinds := strings.TrimSpace(q.Get("kinds")); kinds != "" {
		req.Kinds = strings.Split(kinds, ",")
	}

	resp, err := h.overviewService.FleetOverview(ctx, req)
	if err != nil {
		h.logger.Error("Fleet overview failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}

// AuditExport GET /admin/api/v1/fleet/audit-export
// 把去重后的审计窗口导出为 .xlsx 附件
func (h *OverviewHandler) AuditExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.guard.AdminAuth(r) {
		writeJSON(w, http.StatusUnauthorized, Fail("unauthorized"))
		return
	}

	q := r.URL.Query()
	req := service.AuditTrailRequest{
		WindowSec:      parseInt(q.Get("audit_window_sec"), 0),
		DedupWindowSec: parseInt(q.Get("dedup_window_sec"), 0),
		Limit:          parseInt(q.Get("limit"), 0),
	}
	if kinds := strings.TrimSpace(q.Get("kinds")); kinds != "" {
		req.Kinds = strings.Split(kinds, ",")
	}

	events, err := h.auditService.ListTrail(ctx, req)
	if err != nil {
		h.logger.Error("Audit export query failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	data, err := GenerateAuditExport(events)
	if err != nil {
		h.logger.Error("Audit export generation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("audit-trail-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
