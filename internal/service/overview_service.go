package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"kittypau/internal/config"
	"kittypau/internal/domain"
	"kittypau/internal/repository"
	"kittypau/internal/store"

	"go.uber.org/zap"
)

// OverviewService 管理端 fleet 总览（带版本化聚合缓存）
type OverviewService interface {
	FleetOverview(ctx context.Context, req OverviewRequest) (*OverviewResponse, error)
}

// OverviewRequest 总览查询参数
type OverviewRequest struct {
	// 审计事件回看窗口（秒），默认 3600
	AuditWindowSec int
	// 事件类型过滤，空表示全部
	Kinds []string
	// 去重窗口（秒）；0 表示使用配置默认值，clamp 到 [1,300]
	DedupWindowSec int
	// 跳过缓存，直接计算
	BypassCache bool
	// 附带所有被监控设备的小时级时间线
	IncludeGrid bool

	// 基准时间；零值表示 time.Now()（测试用）
	Now time.Time
}

// BridgeStatus 总览里的单桥状态
type BridgeStatus struct {
	BridgeCode      string     `json:"bridge_code"`
	Online          bool       `json:"online"`
	LastSeen        *time.Time `json:"last_seen"`
	UplinkConnected *bool      `json:"uplink_connected,omitempty"`
	Address         string     `json:"address,omitempty"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
}

// OfflineDevice 总览里的离线设备
type OfflineDevice struct {
	DeviceID    string     `json:"device_id"`
	DeviceCode  string     `json:"device_code"`
	DeviceState string     `json:"device_state"`
	LastSeen    *time.Time `json:"last_seen"`
}

// OverviewResponse fleet 总览
type OverviewResponse struct {
	GeneratedAt time.Time `json:"generated_at"`

	Bridges []BridgeStatus `json:"bridges"`

	TotalDevices   int             `json:"total_devices"`
	OnlineDevices  int             `json:"online_devices"`
	OfflineDevices []OfflineDevice `json:"offline_devices"`

	// 固定 24h 窗口内各类事件的原始计数（去重前）
	IncidentCounters map[string]int `json:"incident_counters"`

	GeneralOutage bool `json:"general_outage"`

	RecentEvents []map[string]any `json:"recent_events"`

	Grid []domain.DeviceTimeline `json:"grid,omitempty"`

	// 本次响应是否命中缓存（命中时在返回前覆盖）
	FromCache bool `json:"from_cache"`
}

type overviewService struct {
	cfg        config.HealthCheckConfig
	cacheTTL   time.Duration
	dedupWin   time.Duration
	heartbeats repository.HeartbeatsRepository
	devices    repository.DevicesRepository
	audit      repository.AuditEventsRepository
	timeline   TimelineService
	kv         store.KV
	logger     *zap.Logger
}

// NewOverviewService 创建总览服务
func NewOverviewService(
	cfg config.HealthCheckConfig,
	cacheTTL time.Duration,
	dedupWindow time.Duration,
	heartbeats repository.HeartbeatsRepository,
	devices repository.DevicesRepository,
	audit repository.AuditEventsRepository,
	timeline TimelineService,
	kv store.KV,
	logger *zap.Logger,
) OverviewService {
	return &overviewService{
		cfg:        cfg,
		cacheTTL:   cacheTTL,
		dedupWin:   dedupWindow,
		heartbeats: heartbeats,
		devices:    devices,
		audit:      audit,
		timeline:   timeline,
		kv:         kv,
		logger:     logger,
	}
}

func (s *overviewService) FleetOverview(ctx context.Context, req OverviewRequest) (*OverviewResponse, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	if req.AuditWindowSec <= 0 {
		req.AuditWindowSec = 3600
	}
	dedupWin := s.dedupWin
	if req.DedupWindowSec > 0 {
		dedupWin = time.Duration(config.ClampDedupWindowSec(req.DedupWindowSec)) * time.Second
	}

	// 缓存读取失败一律降级为直接计算，绝不因缓存故障拒绝请求
	var cacheKey string
	if s.kv != nil && s.cacheTTL > 0 && !req.BypassCache {
		version, err := s.kv.AggregateVersion(ctx)
		if err != nil {
			s.logger.Warn("Failed to read aggregate cache version, computing directly", zap.Error(err))
		} else {
			cacheKey = s.overviewKey(version, req, dedupWin)
			if raw, err := s.kv.Get(ctx, cacheKey); err == nil {
				var cached OverviewResponse
				if err := json.Unmarshal([]byte(raw), &cached); err == nil {
					cached.FromCache = true
					return &cached, nil
				}
				s.logger.Warn("Corrupt overview cache entry, recomputing", zap.String("key", cacheKey))
			} else if err != store.ErrMiss {
				s.logger.Warn("Overview cache read failed, computing directly", zap.Error(err))
			}
		}
	}

	resp, err := s.compute(ctx, now, req, dedupWin)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		resp.FromCache = false
		if raw, err := json.Marshal(resp); err == nil {
			if err := s.kv.Set(ctx, cacheKey, string(raw), s.cacheTTL); err != nil {
				s.logger.Warn("Failed to store overview cache entry", zap.Error(err))
			}
		}
	}
	return resp, nil
}

func (s *overviewService) compute(ctx context.Context, now time.Time, req OverviewRequest, dedupWin time.Duration) (*OverviewResponse, error) {
	resp := &OverviewResponse{
		GeneratedAt:      now,
		Bridges:          []BridgeStatus{},
		OfflineDevices:   []OfflineDevice{},
		IncidentCounters: map[string]int{},
		RecentEvents:     []map[string]any{},
	}

	heartbeats, err := s.heartbeats.ListHeartbeats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load heartbeats: %w", err)
	}
	bridgeCutoff := now.Add(-time.Duration(s.cfg.BridgeStaleMin) * time.Minute)
	for _, hb := range heartbeats {
		st := BridgeStatus{
			BridgeCode:    hb.BridgeCode,
			Online:        !hb.Offline(bridgeCutoff),
			UptimeSeconds: hb.UptimeSeconds,
		}
		if hb.LastSeen.Valid {
			t := hb.LastSeen.Time
			st.LastSeen = &t
		}
		if hb.UplinkConnected.Valid {
			b := hb.UplinkConnected.Bool
			st.UplinkConnected = &b
		}
		if hb.Address.Valid {
			st.Address = hb.Address.String
		}
		resp.Bridges = append(resp.Bridges, st)
	}

	devices, err := s.devices.ListMonitoredDevices(ctx, s.cfg.DeviceCodePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	deviceCutoff := now.Add(-time.Duration(s.cfg.DeviceStaleMin) * time.Minute)
	resp.TotalDevices = len(devices)
	for i := range devices {
		d := &devices[i]
		if d.DeviceState == domain.DeviceStateOffline || d.Stale(deviceCutoff) {
			od := OfflineDevice{
				DeviceID:    d.DeviceID,
				DeviceCode:  d.DeviceCode,
				DeviceState: d.DeviceState,
			}
			if d.LastSeen.Valid {
				t := d.LastSeen.Time
				od.LastSeen = &t
			}
			resp.OfflineDevices = append(resp.OfflineDevices, od)
		}
	}
	resp.OnlineDevices = resp.TotalDevices - len(resp.OfflineDevices)

	// 事件计数固定 24h 窗口，且在去重前统计
	counters, err := s.audit.CountEventsByKind(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	resp.IncidentCounters = counters

	latest, err := s.audit.LatestAuditEvent(ctx,
		[]string{domain.EventGeneralOutageDetected, domain.EventGeneralOutageRecovered},
		domain.SubjectFleet, domain.FleetSubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load outage state: %w", err)
	}
	resp.GeneralOutage = latest != nil && latest.EventKind == domain.EventGeneralOutageDetected

	since := now.Add(-time.Duration(req.AuditWindowSec) * time.Second)
	events, err := s.audit.ListAuditEvents(ctx, repository.AuditEventFilters{
		Kinds: req.Kinds,
		Since: &since,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	for _, ev := range DedupAuditEvents(events, dedupWin) {
		resp.RecentEvents = append(resp.RecentEvents, ev.ToJSON())
	}

	if req.IncludeGrid && s.timeline != nil {
		for i := range devices {
			tl, err := s.timeline.DeviceTimeline(ctx, DeviceTimelineRequest{
				DeviceID: devices[i].DeviceID,
				Now:      now,
			})
			if err != nil {
				s.logger.Warn("Failed to reconstruct device timeline for grid",
					zap.String("device_code", devices[i].DeviceCode),
					zap.Error(err),
				)
				continue
			}
			resp.Grid = append(resp.Grid, *tl)
		}
	}

	return resp, nil
}

// overviewKey 版本化缓存键：全局版本号递增即整体失效
func (s *overviewService) overviewKey(version int64, req OverviewRequest, dedupWin time.Duration) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d|%t",
		req.AuditWindowSec,
		strings.Join(req.Kinds, ","),
		int(dedupWin.Seconds()),
		req.IncludeGrid,
	)
	return fmt.Sprintf("fleet:overview:v%d:%x", version, h.Sum64())
}
