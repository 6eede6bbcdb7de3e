package domain

import (
	"database/sql"
	"time"
)

// 设备状态机（provisioning 流程负责 factory → claimed → linked；
// 本服务只负责 offline 转换）
const (
	DeviceStateFactory = "factory"
	DeviceStateClaimed = "claimed"
	DeviceStateLinked  = "linked"
	DeviceStateOffline = "offline"
	DeviceStateLost    = "lost"
	DeviceStateError   = "error"
)

// Device 叶子设备领域模型（对应 devices 表）
type Device struct {
	DeviceID    string       `db:"device_id"` // UUID, PRIMARY KEY
	DeviceCode  string       `db:"device_code"`
	DeviceState string       `db:"device_state"`
	LastSeen    sql.NullTime `db:"last_seen"`
	RetiredAt   sql.NullTime `db:"retired_at"` // 退役设备不参与健康检查
}

// Retired reports whether the device has been retired from the fleet.
func (d *Device) Retired() bool {
	return d.RetiredAt.Valid
}

// Stale reports whether last_seen is missing or at/before the cutoff.
// Mirrors BridgeHeartbeat.Offline: the boundary itself counts as stale.
func (d *Device) Stale(cutoff time.Time) bool {
	if !d.LastSeen.Valid {
		return true
	}
	return !d.LastSeen.Time.After(cutoff)
}

// ToJSON 转换为 HTTP 响应格式
func (d *Device) ToJSON() map[string]any {
	m := map[string]any{
		"device_id":    d.DeviceID,
		"device_code":  d.DeviceCode,
		"device_state": d.DeviceState,
	}
	if d.LastSeen.Valid {
		m["last_seen"] = d.LastSeen.Time.Unix()
	} else {
		m["last_seen"] = nil
	}
	return m
}
