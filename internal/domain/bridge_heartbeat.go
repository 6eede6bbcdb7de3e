package domain

import (
	"database/sql"
	"regexp"
	"time"
)

// 编码规则：4 个大写字母前缀 + 4 位数字（如 BRDG0042 / BOWL0817）
var subjectCodePattern = regexp.MustCompile(`^[A-Z]{4}[0-9]{4}$`)

// ValidSubjectCode reports whether a bridge or device code matches the fixed
// fleet code format.
func ValidSubjectCode(code string) bool {
	return subjectCodePattern.MatchString(code)
}

// BridgeHeartbeat 网关心跳快照（对应 bridge_heartbeats 表，一桥一行）
// Upsert-only: the row always holds the most recent self-report, no history.
type BridgeHeartbeat struct {
	BridgeCode      string         `db:"bridge_code"` // PRIMARY KEY
	LastSeen        sql.NullTime   `db:"last_seen"`
	UplinkConnected sql.NullBool   `db:"uplink_connected"` // nullable: bridge may not know
	LastUplinkAt    sql.NullTime   `db:"last_uplink_at"`
	UptimeSeconds   int64          `db:"uptime_seconds"`
	Address         sql.NullString `db:"address"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// Offline reports whether the heartbeat is stale against the cutoff.
// A missing last_seen is offline; last_seen equal to the cutoff is offline.
func (h *BridgeHeartbeat) Offline(cutoff time.Time) bool {
	if !h.LastSeen.Valid {
		return true
	}
	return !h.LastSeen.Time.After(cutoff)
}

// ToJSON 转换为 HTTP 响应格式
func (h *BridgeHeartbeat) ToJSON() map[string]any {
	m := map[string]any{
		"bridge_code":    h.BridgeCode,
		"uptime_seconds": h.UptimeSeconds,
	}
	if h.LastSeen.Valid {
		m["last_seen"] = h.LastSeen.Time.Unix()
	} else {
		m["last_seen"] = nil
	}
	if h.UplinkConnected.Valid {
		m["uplink_connected"] = h.UplinkConnected.Bool
	} else {
		m["uplink_connected"] = nil
	}
	if h.LastUplinkAt.Valid {
		m["last_uplink_at"] = h.LastUplinkAt.Time.Unix()
	}
	if h.Address.Valid {
		m["address"] = h.Address.String
	}
	return m
}
