package domain

import "time"

// HourlyStatusPoint 单个小时桶的重建结果
// Online == nil 表示 unknown（窗口内还没有任何信号）。
type HourlyStatusPoint struct {
	Hour   time.Time `json:"hour"`
	Online *bool     `json:"online"`
}

// DeviceTimeline 单设备的小时级在线/离线时间线
type DeviceTimeline struct {
	DeviceID   string              `json:"device_id"`
	DeviceCode string              `json:"device_code"`
	Points     []HourlyStatusPoint `json:"points"`
}
