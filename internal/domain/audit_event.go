package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 审计事件类型（append-only，不可变更）
const (
	EventBridgeOfflineDetected  = "bridge_offline_detected"
	EventDeviceOfflineDetected  = "device_offline_detected"
	EventDeviceOnlineDetected   = "device_online_detected"
	EventGeneralOutageDetected  = "general_device_outage_detected"
	EventGeneralOutageRecovered = "general_device_outage_recovered"
)

// 审计事件主体类型
const (
	SubjectBridge = "bridge"
	SubjectDevice = "device"
	SubjectFleet  = "fleet"
)

// FleetSubjectID fleet 级事件的固定主体 ID
const FleetSubjectID = "fleet"

// AuditEvent 审计事件领域模型（对应 audit_events 表）
// Payload 按 event_kind 结构化（见 StatusChangePayload / OutagePayload）。
type AuditEvent struct {
	EventID     string          `db:"event_id"` // UUID, PRIMARY KEY
	EventKind   string          `db:"event_kind"`
	SubjectType string          `db:"subject_type"`
	SubjectID   string          `db:"subject_id"`
	Payload     json.RawMessage `db:"payload"` // JSONB
	CreatedAt   time.Time       `db:"created_at"`
}

// StatusChangePayload 桥/设备状态转换事件的结构化 payload
type StatusChangePayload struct {
	Previous string `json:"previous"`
	Next     string `json:"next"`
}

// OutagePayload fleet 级故障事件的结构化 payload
type OutagePayload struct {
	TotalDevices   int `json:"total_devices"`
	OfflineDevices int `json:"offline_devices"`
}

// NewStatusChangeEvent builds a bridge/device transition event with a typed
// payload. kind must be one of the bridge/device event kinds.
func NewStatusChangeEvent(kind, subjectType, subjectID string, p StatusChangePayload, now time.Time) (*AuditEvent, error) {
	switch kind {
	case EventBridgeOfflineDetected, EventDeviceOfflineDetected, EventDeviceOnlineDetected:
	default:
		return nil, fmt.Errorf("event kind %q does not carry a status-change payload", kind)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status-change payload: %w", err)
	}
	return &AuditEvent{
		EventID:     uuid.New().String(),
		EventKind:   kind,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Payload:     raw,
		CreatedAt:   now,
	}, nil
}

// NewOutageEvent builds a fleet-level outage detected/recovered event.
func NewOutageEvent(kind string, p OutagePayload, now time.Time) (*AuditEvent, error) {
	switch kind {
	case EventGeneralOutageDetected, EventGeneralOutageRecovered:
	default:
		return nil, fmt.Errorf("event kind %q does not carry an outage payload", kind)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outage payload: %w", err)
	}
	return &AuditEvent{
		EventID:     uuid.New().String(),
		EventKind:   kind,
		SubjectType: SubjectFleet,
		SubjectID:   FleetSubjectID,
		Payload:     raw,
		CreatedAt:   now,
	}, nil
}

// StatusChange decodes the payload of a status-change event.
func (e *AuditEvent) StatusChange() (*StatusChangePayload, error) {
	switch e.EventKind {
	case EventBridgeOfflineDetected, EventDeviceOfflineDetected, EventDeviceOnlineDetected:
	default:
		return nil, fmt.Errorf("event kind %q does not carry a status-change payload", e.EventKind)
	}
	var p StatusChangePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status-change payload: %w", err)
	}
	return &p, nil
}

// Outage decodes the payload of a fleet-level outage event.
func (e *AuditEvent) Outage() (*OutagePayload, error) {
	switch e.EventKind {
	case EventGeneralOutageDetected, EventGeneralOutageRecovered:
	default:
		return nil, fmt.Errorf("event kind %q does not carry an outage payload", e.EventKind)
	}
	var p OutagePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outage payload: %w", err)
	}
	return &p, nil
}

// ToJSON 转换为 HTTP 响应格式（payload 原样透传）
func (e *AuditEvent) ToJSON() map[string]any {
	var payload any
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &payload)
	}
	return map[string]any{
		"event_id":     e.EventID,
		"event_kind":   e.EventKind,
		"subject_type": e.SubjectType,
		"subject_id":   e.SubjectID,
		"payload":      payload,
		"created_at":   e.CreatedAt.Unix(),
	}
}
