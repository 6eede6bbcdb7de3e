package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kittypau/internal/domain"
	"kittypau/internal/repository"

	"go.uber.org/zap"
)

// HeartbeatService 桥心跳摄取
type HeartbeatService interface {
	Ingest(ctx context.Context, req IngestHeartbeatRequest) (*IngestHeartbeatResponse, error)
}

// IngestHeartbeatRequest 桥上报的心跳负载
type IngestHeartbeatRequest struct {
	BridgeCode      string `json:"bridge_code"`
	UplinkConnected *bool  `json:"uplink_connected,omitempty"`
	LastUplinkAt    string `json:"last_uplink_at,omitempty"` // RFC3339
	UptimeSeconds   int64  `json:"uptime_seconds,omitempty"`
	Address         string `json:"address,omitempty"`

	// 接收时刻；零值表示 time.Now()（测试用）
	Now time.Time `json:"-"`
}

// IngestHeartbeatResponse 摄取结果
type IngestHeartbeatResponse struct {
	BridgeCode string    `json:"bridge_code"`
	LastSeen   time.Time `json:"last_seen"`
}

type heartbeatService struct {
	heartbeats repository.HeartbeatsRepository
	logger     *zap.Logger
}

// NewHeartbeatService 创建心跳服务
func NewHeartbeatService(heartbeats repository.HeartbeatsRepository, logger *zap.Logger) HeartbeatService {
	return &heartbeatService{heartbeats: heartbeats, logger: logger}
}

// Ingest 归一化并落库一条心跳。last_seen 始终取服务端接收时间，
// 不信任桥自报的时钟。
func (s *heartbeatService) Ingest(ctx context.Context, req IngestHeartbeatRequest) (*IngestHeartbeatResponse, error) {
	code := strings.TrimSpace(req.BridgeCode)
	if !domain.ValidSubjectCode(code) {
		return nil, fmt.Errorf("invalid bridge_code: %q", req.BridgeCode)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	uptime := req.UptimeSeconds
	if uptime < 0 {
		uptime = 0
	}

	up := repository.HeartbeatUpsert{
		BridgeCode:    code,
		LastSeen:      now,
		UptimeSeconds: uptime,
	}
	if req.UplinkConnected != nil {
		up.UplinkConnected = sql.NullBool{Bool: *req.UplinkConnected, Valid: true}
	}
	if raw := strings.TrimSpace(req.LastUplinkAt); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid last_uplink_at: %q", req.LastUplinkAt)
		}
		up.LastUplinkAt = sql.NullTime{Time: t.UTC(), Valid: true}
	}
	if addr := strings.TrimSpace(req.Address); addr != "" {
		up.Address = sql.NullString{String: addr, Valid: true}
	}

	if err := s.heartbeats.UpsertHeartbeat(ctx, up); err != nil {
		return nil, err
	}

	s.logger.Debug("Heartbeat recorded",
		zap.String("bridge_code", code),
		zap.Time("last_seen", now),
	)
	return &IngestHeartbeatResponse{BridgeCode: code, LastSeen: now}, nil
}
