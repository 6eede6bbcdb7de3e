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

const (
	// 28 天 × 24 小时：671 个完整小时桶 + 当前未结束的桶
	timelineHours = 672
	// 事件回看窗口要长于时间线本身，保证第一个桶之前的状态可以前向填充
	timelineLookbackDays = 35
	// 设备当前在线时，强制最近的桶显示在线（遥测落库有延迟）
	liveEdgeBuckets = 2
)

// TimelineService 单设备小时级时间线重建
type TimelineService interface {
	DeviceTimeline(ctx context.Context, req DeviceTimelineRequest) (*domain.DeviceTimeline, error)
}

// DeviceTimelineRequest 时间线重建请求
type DeviceTimelineRequest struct {
	DeviceID string
	// 重建基准时间；零值表示 time.Now()（测试用）
	Now time.Time
}

type timelineService struct {
	cfg      config.HealthCheckConfig
	devices  repository.DevicesRepository
	audit    repository.AuditEventsRepository
	readings repository.ReadingsRepository
	logger   *zap.Logger
}

// NewTimelineService 创建时间线服务
func NewTimelineService(
	cfg config.HealthCheckConfig,
	devices repository.DevicesRepository,
	audit repository.AuditEventsRepository,
	readings repository.ReadingsRepository,
	logger *zap.Logger,
) TimelineService {
	return &timelineService{cfg: cfg, devices: devices, audit: audit, readings: readings, logger: logger}
}

// DeviceTimeline 从审计事件 + 遥测 presence 重建 672 个小时桶。
// 状态在没有新信号的桶之间前向填充；窗口内第一个信号之前为 unknown。
func (s *timelineService) DeviceTimeline(ctx context.Context, req DeviceTimelineRequest) (*domain.DeviceTimeline, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	device, err := s.devices.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	// 最后一个桶是当前未结束的小时，向下对齐
	lastBucket := now.Truncate(time.Hour)
	firstBucket := lastBucket.Add(-time.Duration(timelineHours-1) * time.Hour)
	lookbackSince := now.AddDate(0, 0, -timelineLookbackDays)

	events, err := s.audit.ListSubjectTransitions(ctx, domain.SubjectDevice, device.DeviceID, lookbackSince)
	if err != nil {
		return nil, fmt.Errorf("failed to load device transitions: %w", err)
	}

	presence, err := s.readings.HourBucketsWithReadings(ctx, device.DeviceID, firstBucket, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load reading presence: %w", err)
	}

	// 前向填充的起始状态：第一个桶之前的最后一次转换
	var state *bool
	evIdx := 0
	for evIdx < len(events) && events[evIdx].CreatedAt.Before(firstBucket) {
		state = transitionState(&events[evIdx], state)
		evIdx++
	}

	points := make([]domain.HourlyStatusPoint, 0, timelineHours)
	for i := 0; i < timelineHours; i++ {
		bucket := firstBucket.Add(time.Duration(i) * time.Hour)
		bucketEnd := bucket.Add(time.Hour)

		for evIdx < len(events) && events[evIdx].CreatedAt.Before(bucketEnd) {
			state = transitionState(&events[evIdx], state)
			evIdx++
		}

		// 桶内存在遥测读数 → 设备必然在线，并且前向填充到后续桶，
		// 直到下一条转换事件改写状态
		if presence[bucket] {
			v := true
			state = &v
		}
		points = append(points, domain.HourlyStatusPoint{Hour: bucket, Online: state})
	}

	// 活动边缘：设备当前在线（state 在线且心跳未过期）时，最近的桶
	// 一律显示在线，避免刚发生的转换事件/遥测还没落库造成的假离线尾巴
	staleCutoff := now.Add(-time.Duration(config.ClampDeviceStaleMin(s.cfg.DeviceStaleMin)) * time.Minute)
	if device.DeviceState != domain.DeviceStateOffline && !device.Retired() && !device.Stale(staleCutoff) {
		v := true
		for i := len(points) - liveEdgeBuckets; i < len(points); i++ {
			if i >= 0 {
				points[i].Online = &v
			}
		}
	}

	s.logger.Debug("Timeline reconstructed",
		zap.String("device_code", device.DeviceCode),
		zap.Int("events", len(events)),
		zap.Int("presence_buckets", len(presence)),
	)

	return &domain.DeviceTimeline{
		DeviceID:   device.DeviceID,
		DeviceCode: device.DeviceCode,
		Points:     points,
	}, nil
}

// transitionState 把一条审计事件折算为在线/离线；
// 与时间线无关的事件类型保持当前状态。
func transitionState(ev *domain.AuditEvent, current *bool) *bool {
	switch ev.EventKind {
	case domain.EventDeviceOfflineDetected:
		v := false
		return &v
	case domain.EventDeviceOnlineDetected:
		v := true
		return &v
	default:
		return current
	}
}
