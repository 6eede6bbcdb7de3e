package service

import (
	"context"
	"testing"
	"time"

	"kittypau/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTimeline(dev *fakeDevicesRepo, audit *fakeAuditRepo, readings *fakeReadingsRepo) TimelineService {
	return NewTimelineService(testHealthCfg, dev, audit, readings, zap.NewNop())
}

func appendTransition(t *testing.T, audit *fakeAuditRepo, kind, deviceID string, at time.Time) {
	t.Helper()
	ev, err := domain.NewStatusChangeEvent(kind, domain.SubjectDevice, deviceID,
		domain.StatusChangePayload{}, at)
	require.NoError(t, err)
	require.NoError(t, audit.AppendAuditEvent(context.Background(), ev))
}

func TestDeviceTimeline_BucketCountAndAlignment(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	seedDevice(dev, 1, domain.DeviceStateOffline, time.Time{})

	now := time.Date(2026, 8, 28, 12, 34, 56, 0, time.UTC)
	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	require.Len(t, tl.Points, 672)
	// 最后一个桶是当前小时（向下对齐），第一个桶在 671 小时之前
	assert.Equal(t, time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC), tl.Points[671].Hour)
	assert.Equal(t, time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC).Add(-671*time.Hour), tl.Points[0].Hour)
}

func TestDeviceTimeline_UnknownUntilFirstSignal(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	// 设备当前离线 → 没有活动边缘覆盖
	seedDevice(dev, 1, domain.DeviceStateOffline, time.Time{})

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	for _, p := range tl.Points {
		assert.Nil(t, p.Online)
	}
}

func TestDeviceTimeline_ForwardFill(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	seedDevice(dev, 1, domain.DeviceStateOffline, time.Time{})

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	// 100 小时前离线，50 小时前恢复
	appendTransition(t, audit, domain.EventDeviceOfflineDetected, "dev-001", now.Add(-100*time.Hour))
	appendTransition(t, audit, domain.EventDeviceOnlineDetected, "dev-001", now.Add(-50*time.Hour))
	// 当前离线，时间线末尾再离线一次
	appendTransition(t, audit, domain.EventDeviceOfflineDetected, "dev-001", now.Add(-2*time.Hour))

	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	byHour := map[time.Time]*bool{}
	for _, p := range tl.Points {
		byHour[p.Hour] = p.Online
	}

	// 第一个信号之前 unknown
	assert.Nil(t, byHour[now.Add(-200*time.Hour)])
	// 离线段前向填充
	require.NotNil(t, byHour[now.Add(-80*time.Hour)])
	assert.False(t, *byHour[now.Add(-80*time.Hour)])
	// 恢复段前向填充
	require.NotNil(t, byHour[now.Add(-10*time.Hour)])
	assert.True(t, *byHour[now.Add(-10*time.Hour)])
	// 末段再次离线
	require.NotNil(t, byHour[now.Add(-time.Hour)])
	assert.False(t, *byHour[now.Add(-time.Hour)])
}

func TestDeviceTimeline_PresenceForcesOnline(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	seedDevice(dev, 1, domain.DeviceStateOffline, time.Time{})

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	appendTransition(t, audit, domain.EventDeviceOfflineDetected, "dev-001", now.Add(-100*time.Hour))
	// 离线段中间有一条遥测读数 → 强制在线，并前向填充到后续桶
	readings.addReading("dev-001", now.Add(-80*time.Hour).Add(17*time.Minute))

	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	byHour := map[time.Time]*bool{}
	for _, p := range tl.Points {
		byHour[p.Hour] = p.Online
	}

	// 读数所在桶之前仍是离线
	require.NotNil(t, byHour[now.Add(-81*time.Hour)])
	assert.False(t, *byHour[now.Add(-81*time.Hour)])
	require.NotNil(t, byHour[now.Add(-80*time.Hour)])
	assert.True(t, *byHour[now.Add(-80*time.Hour)])
	// 遥测推导的在线状态前向填充，直到下一条转换事件
	require.NotNil(t, byHour[now.Add(-79*time.Hour)])
	assert.True(t, *byHour[now.Add(-79*time.Hour)])
	require.NotNil(t, byHour[now.Add(-10*time.Hour)])
	assert.True(t, *byHour[now.Add(-10*time.Hour)])
}

func TestDeviceTimeline_PresenceThenOfflineEvent(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	seedDevice(dev, 1, domain.DeviceStateOffline, time.Time{})

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	readings.addReading("dev-001", now.Add(-80*time.Hour))
	// 读数之后的离线事件重新接管状态
	appendTransition(t, audit, domain.EventDeviceOfflineDetected, "dev-001", now.Add(-40*time.Hour))

	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	byHour := map[time.Time]*bool{}
	for _, p := range tl.Points {
		byHour[p.Hour] = p.Online
	}

	require.NotNil(t, byHour[now.Add(-60*time.Hour)])
	assert.True(t, *byHour[now.Add(-60*time.Hour)])
	require.NotNil(t, byHour[now.Add(-39*time.Hour)])
	assert.False(t, *byHour[now.Add(-39*time.Hour)])
}

func TestDeviceTimeline_LiveEdge(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	// 当前在线（state 在线且心跳新鲜）但窗口内没有任何信号
	// → 只有最后两个桶被强制在线
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	seedDevice(dev, 1, domain.DeviceStateLinked, now.Add(-time.Minute))

	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	require.NotNil(t, tl.Points[671].Online)
	assert.True(t, *tl.Points[671].Online)
	require.NotNil(t, tl.Points[670].Online)
	assert.True(t, *tl.Points[670].Online)
	assert.Nil(t, tl.Points[669].Online)
}

func TestDeviceTimeline_NoLiveEdgeForStaleDevice(t *testing.T) {
	dev := newFakeDevicesRepo()
	audit := newFakeAuditRepo()
	readings := newFakeReadingsRepo()

	// state 仍是 linked 但心跳三天没刷新（评估器还没跑到）
	// → 按当前计算状态属于离线，活动边缘不生效
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	seedDevice(dev, 1, domain.DeviceStateLinked, now.Add(-72*time.Hour))

	svc := newTestTimeline(dev, audit, readings)
	tl, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "dev-001", Now: now})
	require.NoError(t, err)

	assert.Nil(t, tl.Points[671].Online)
	assert.Nil(t, tl.Points[670].Online)
}

func TestDeviceTimeline_UnknownDevice(t *testing.T) {
	svc := newTestTimeline(newFakeDevicesRepo(), newFakeAuditRepo(), newFakeReadingsRepo())
	_, err := svc.DeviceTimeline(context.Background(), DeviceTimelineRequest{DeviceID: "nope"})
	assert.Error(t, err)
}
