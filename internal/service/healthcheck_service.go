package service

import (
	"context"
	"fmt"
	"time"

	"kittypau/internal/config"
	"kittypau/internal/domain"
	"kittypau/internal/repository"
	"kittypau/internal/store"

	"go.uber.org/zap"
)

// OutageNotifier 接收 fleet 级故障事件（webhook 等，best-effort）
type OutageNotifier interface {
	NotifyOutage(ctx context.Context, ev *domain.AuditEvent) error
}

// HealthCheckService 健康检查评估器
// 由外部调度器周期性触发；所有转换都从当前持久化状态推导，
// 幂等，可安全并发/重复调用。
type HealthCheckService interface {
	Run(ctx context.Context, req RunHealthCheckRequest) (*RunHealthCheckResponse, error)
}

// RunHealthCheckRequest 单次评估请求
type RunHealthCheckRequest struct {
	// 桥过期窗口（分钟）；0 表示使用配置默认值，clamp 到 [1,60]
	BridgeStaleMin int
	// 设备过期窗口（分钟）；0 表示使用配置默认值，clamp 到 [1,1440]
	DeviceStaleMin int
	// 评估基准时间；零值表示 time.Now()（测试用）
	Now time.Time
}

// RunHealthCheckResponse 单次评估结果摘要
type RunHealthCheckResponse struct {
	TotalDevices   int `json:"total_devices"`
	OnlineDevices  int `json:"online_devices"`
	OfflineDevices int `json:"offline_devices"`

	// 当前离线的桥（全量），以及本次新记录离线的桥
	OfflineBridges      []string `json:"offline_bridges"`
	TransitionedBridges []string `json:"transitioned_bridges"`

	// 本次转换的设备编码
	OfflineTransitions []string `json:"offline_transitions"`
	OnlineTransitions  []string `json:"online_transitions"`

	GeneralOutage bool     `json:"general_outage"`
	EmittedEvents []string `json:"emitted_events"`

	// 两条流水线相互独立：一侧失败不阻塞另一侧，失败原因记录在这里
	Warnings []string `json:"warnings,omitempty"`
}

type healthCheckService struct {
	cfg        config.HealthCheckConfig
	heartbeats repository.HeartbeatsRepository
	devices    repository.DevicesRepository
	audit      repository.AuditEventsRepository
	kv         store.KV        // nil-able：缓存不可用时直接跳过失效
	notifier   OutageNotifier  // nil-able
	logger     *zap.Logger
}

// NewHealthCheckService 创建健康检查服务
func NewHealthCheckService(
	cfg config.HealthCheckConfig,
	heartbeats repository.HeartbeatsRepository,
	devices repository.DevicesRepository,
	audit repository.AuditEventsRepository,
	kv store.KV,
	notifier OutageNotifier,
	logger *zap.Logger,
) HealthCheckService {
	return &healthCheckService{
		cfg:        cfg,
		heartbeats: heartbeats,
		devices:    devices,
		audit:      audit,
		kv:         kv,
		notifier:   notifier,
		logger:     logger,
	}
}

func (s *healthCheckService) Run(ctx context.Context, req RunHealthCheckRequest) (*RunHealthCheckResponse, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	bridgeStaleMin := req.BridgeStaleMin
	if bridgeStaleMin == 0 {
		bridgeStaleMin = s.cfg.BridgeStaleMin
	}
	bridgeStaleMin = config.ClampBridgeStaleMin(bridgeStaleMin)

	deviceStaleMin := req.DeviceStaleMin
	if deviceStaleMin == 0 {
		deviceStaleMin = s.cfg.DeviceStaleMin
	}
	deviceStaleMin = config.ClampDeviceStaleMin(deviceStaleMin)

	resp := &RunHealthCheckResponse{
		OfflineBridges:      []string{},
		TransitionedBridges: []string{},
		OfflineTransitions:  []string{},
		OnlineTransitions:   []string{},
		EmittedEvents:       []string{},
	}

	bridgeErr := s.evaluateBridges(ctx, now, bridgeStaleMin, resp)
	deviceErr := s.evaluateDevices(ctx, now, deviceStaleMin, resp)

	if bridgeErr != nil && deviceErr != nil {
		return nil, fmt.Errorf("health check failed: bridges: %v; devices: %w", bridgeErr, deviceErr)
	}
	if bridgeErr != nil {
		s.logger.Error("Bridge evaluation failed", zap.Error(bridgeErr))
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("bridge evaluation failed: %v", bridgeErr))
	}
	if deviceErr != nil {
		s.logger.Error("Device evaluation failed", zap.Error(deviceErr))
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("device evaluation failed: %v", deviceErr))
	}

	// 有任何新事件就递增全局版本号，整体失效聚合缓存
	if len(resp.EmittedEvents) > 0 && s.kv != nil {
		if _, err := s.kv.BumpAggregateVersion(ctx); err != nil {
			s.logger.Warn("Failed to bump aggregate cache version", zap.Error(err))
		}
	}

	s.logger.Info("Health check completed",
		zap.Int("total_devices", resp.TotalDevices),
		zap.Int("offline_devices", resp.OfflineDevices),
		zap.Int("offline_bridges", len(resp.OfflineBridges)),
		zap.Int("emitted_events", len(resp.EmittedEvents)),
		zap.Bool("general_outage", resp.GeneralOutage),
	)

	return resp, nil
}

// evaluateBridges 桥流水线：分类离线桥并补记 bridge_offline_detected。
// 桥没有对称的 online 事件；恢复由心跳刷新隐式表达。
func (s *healthCheckService) evaluateBridges(ctx context.Context, now time.Time, staleMin int, resp *RunHealthCheckResponse) error {
	heartbeats, err := s.heartbeats.ListHeartbeats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load heartbeats: %w", err)
	}

	cutoff := now.Add(-time.Duration(staleMin) * time.Minute)

	for _, hb := range heartbeats {
		if !hb.Offline(cutoff) {
			continue
		}
		resp.OfflineBridges = append(resp.OfflineBridges, hb.BridgeCode)

		latest, err := s.audit.LatestAuditEvent(ctx,
			[]string{domain.EventBridgeOfflineDetected}, domain.SubjectBridge, hb.BridgeCode)
		if err != nil {
			// 单桥查询失败：跳过并记录，下一轮重试
			s.logger.Warn("Failed to load latest bridge audit event, skipping",
				zap.String("bridge_code", hb.BridgeCode),
				zap.Error(err),
			)
			continue
		}

		// 幂等：已有离线事件且之后没有任何心跳 → 已记录，不重发。
		// 事件之后又出现过心跳说明桥曾恢复，这次是一次新的离线。
		if latest != nil && !(hb.LastSeen.Valid && hb.LastSeen.Time.After(latest.CreatedAt)) {
			continue
		}

		previous := "online"
		if !hb.LastSeen.Valid {
			previous = "unknown"
		}
		ev, err := domain.NewStatusChangeEvent(
			domain.EventBridgeOfflineDetected, domain.SubjectBridge, hb.BridgeCode,
			domain.StatusChangePayload{Previous: previous, Next: "offline"}, now)
		if err != nil {
			s.logger.Warn("Failed to build bridge offline event", zap.Error(err))
			continue
		}
		if s.logAudit(ctx, ev) {
			resp.TransitionedBridges = append(resp.TransitionedBridges, hb.BridgeCode)
			resp.EmittedEvents = append(resp.EmittedEvents, ev.EventKind)
		}
	}

	return nil
}

// evaluateDevices 设备流水线：离线转换、恢复转换、舰队故障策略。
func (s *healthCheckService) evaluateDevices(ctx context.Context, now time.Time, staleMin int, resp *RunHealthCheckResponse) error {
	devices, err := s.devices.ListMonitoredDevices(ctx, s.cfg.DeviceCodePrefix)
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}

	cutoff := now.Add(-time.Duration(staleMin) * time.Minute)
	offlineCount := 0

	for i := range devices {
		d := &devices[i]
		stale := d.Stale(cutoff)

		switch {
		case stale && d.DeviceState != domain.DeviceStateOffline:
			if err := s.devices.SetDeviceState(ctx, d.DeviceID, domain.DeviceStateOffline); err != nil {
				// 单设备写失败：跳过，不重试；离线计数仍按过期时间戳统计
				s.logger.Warn("Failed to set device offline, skipping",
					zap.String("device_code", d.DeviceCode),
					zap.Error(err),
				)
			} else {
				ev, evErr := domain.NewStatusChangeEvent(
					domain.EventDeviceOfflineDetected, domain.SubjectDevice, d.DeviceID,
					domain.StatusChangePayload{Previous: d.DeviceState, Next: domain.DeviceStateOffline}, now)
				if evErr == nil && s.logAudit(ctx, ev) {
					resp.EmittedEvents = append(resp.EmittedEvents, ev.EventKind)
				}
				resp.OfflineTransitions = append(resp.OfflineTransitions, d.DeviceCode)
				d.DeviceState = domain.DeviceStateOffline
			}

		case !stale && d.DeviceState == domain.DeviceStateOffline:
			// 最近有心跳但仍标记离线 → 恢复为 linked 并补记 online 事件
			if err := s.devices.SetDeviceState(ctx, d.DeviceID, domain.DeviceStateLinked); err != nil {
				s.logger.Warn("Failed to recover device state, skipping",
					zap.String("device_code", d.DeviceCode),
					zap.Error(err),
				)
			} else {
				ev, evErr := domain.NewStatusChangeEvent(
					domain.EventDeviceOnlineDetected, domain.SubjectDevice, d.DeviceID,
					domain.StatusChangePayload{Previous: domain.DeviceStateOffline, Next: domain.DeviceStateLinked}, now)
				if evErr == nil && s.logAudit(ctx, ev) {
					resp.EmittedEvents = append(resp.EmittedEvents, ev.EventKind)
				}
				resp.OnlineTransitions = append(resp.OnlineTransitions, d.DeviceCode)
				d.DeviceState = domain.DeviceStateLinked
			}
		}

		// 离线计数独立于上面的写是否成功：state 或时间戳任一判离线即离线
		if stale || d.DeviceState == domain.DeviceStateOffline {
			offlineCount++
		}
	}

	resp.TotalDevices = len(devices)
	resp.OfflineDevices = offlineCount
	resp.OnlineDevices = len(devices) - offlineCount

	s.evaluateOutagePolicy(ctx, now, len(devices), offlineCount, resp)
	return nil
}

// evaluateOutagePolicy 舰队故障两态机：由最近一条 fleet 审计事件驱动，
// 不需要单独持久化的 flag。
func (s *healthCheckService) evaluateOutagePolicy(ctx context.Context, now time.Time, total, offline int, resp *RunHealthCheckResponse) {
	outageByCount := offline >= s.cfg.OutageMinOffline
	outageByRatio := total > 0 && float64(offline)/float64(total) >= s.cfg.OutageOfflineRate
	generalOutage := outageByCount || outageByRatio
	resp.GeneralOutage = generalOutage

	latest, err := s.audit.LatestAuditEvent(ctx,
		[]string{domain.EventGeneralOutageDetected, domain.EventGeneralOutageRecovered},
		domain.SubjectFleet, domain.FleetSubjectID)
	if err != nil {
		// fleet 级读失败不是单主体问题：除了日志还要在响应里暴露，
		// 让调用方知道本轮没有评估故障策略
		s.logger.Warn("Failed to load latest outage event, skipping outage policy", zap.Error(err))
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("outage policy skipped: %v", err))
		return
	}
	lastDetected := latest != nil && latest.EventKind == domain.EventGeneralOutageDetected

	var kind string
	switch {
	case generalOutage && !lastDetected:
		kind = domain.EventGeneralOutageDetected
	case !generalOutage && lastDetected:
		kind = domain.EventGeneralOutageRecovered
	default:
		return
	}

	ev, err := domain.NewOutageEvent(kind,
		domain.OutagePayload{TotalDevices: total, OfflineDevices: offline}, now)
	if err != nil {
		s.logger.Warn("Failed to build outage event", zap.Error(err))
		return
	}
	if s.logAudit(ctx, ev) {
		resp.EmittedEvents = append(resp.EmittedEvents, ev.EventKind)
		if s.notifier != nil {
			if err := s.notifier.NotifyOutage(ctx, ev); err != nil {
				s.logger.Warn("Outage webhook failed", zap.Error(err))
			}
		}
	}
}

// logAudit best-effort 写审计事件：失败只记录日志，绝不让调用方失败。
func (s *healthCheckService) logAudit(ctx context.Context, ev *domain.AuditEvent) bool {
	if err := s.audit.AppendAuditEvent(ctx, ev); err != nil {
		s.logger.Warn("Failed to append audit event",
			zap.String("event_kind", ev.EventKind),
			zap.String("subject_id", ev.SubjectID),
			zap.Error(err),
		)
		return false
	}
	return true
}
