package service

import (
	"context"
	"fmt"
	"time"

	"kittypau/internal/config"
	"kittypau/internal/domain"
	"kittypau/internal/repository"

	"go.uber.org/zap"
)

// AuditService 审计事件读取（仪表盘 / 导出共用）
type AuditService interface {
	ListTrail(ctx context.Context, req AuditTrailRequest) ([]domain.AuditEvent, error)
}

// AuditTrailRequest 审计窗口查询参数
type AuditTrailRequest struct {
	// 回看窗口（秒），默认 3600
	WindowSec int
	// 事件类型过滤，空表示全部
	Kinds []string
	// 去重窗口（秒）；0 表示使用配置默认值
	DedupWindowSec int
	// 单次返回上限，默认走存储层默认值
	Limit int

	// 基准时间；零值表示 time.Now()（测试用）
	Now time.Time
}

type auditService struct {
	dedupWin time.Duration
	audit    repository.AuditEventsRepository
	logger   *zap.Logger
}

// NewAuditService 创建审计服务
func NewAuditService(dedupWindow time.Duration, audit repository.AuditEventsRepository, logger *zap.Logger) AuditService {
	return &auditService{dedupWin: dedupWindow, audit: audit, logger: logger}
}

// ListTrail 按窗口读取审计事件并应用冷却去重，保持降序。
func (s *auditService) ListTrail(ctx context.Context, req AuditTrailRequest) ([]domain.AuditEvent, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	if req.WindowSec <= 0 {
		req.WindowSec = 3600
	}
	dedupWin := s.dedupWin
	if req.DedupWindowSec > 0 {
		dedupWin = time.Duration(config.ClampDedupWindowSec(req.DedupWindowSec)) * time.Second
	}

	since := now.Add(-time.Duration(req.WindowSec) * time.Second)
	events, err := s.audit.ListAuditEvents(ctx, repository.AuditEventFilters{
		Kinds: req.Kinds,
		Since: &since,
		Limit: req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit trail: %w", err)
	}
	return DedupAuditEvents(events, dedupWin), nil
}
