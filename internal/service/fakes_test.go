package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"kittypau/internal/domain"
	"kittypau/internal/repository"
	"kittypau/internal/store"
)

// ---- heartbeats ----

type fakeHeartbeatsRepo struct {
	mu         sync.Mutex
	heartbeats map[string]domain.BridgeHeartbeat
	listErr    error
}

func newFakeHeartbeatsRepo() *fakeHeartbeatsRepo {
	return &fakeHeartbeatsRepo{heartbeats: map[string]domain.BridgeHeartbeat{}}
}

func (f *fakeHeartbeatsRepo) UpsertHeartbeat(_ context.Context, up repository.HeartbeatUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats[up.BridgeCode] = domain.BridgeHeartbeat{
		BridgeCode:      up.BridgeCode,
		LastSeen:        toNullTime(up.LastSeen),
		UplinkConnected: up.UplinkConnected,
		LastUplinkAt:    up.LastUplinkAt,
		UptimeSeconds:   up.UptimeSeconds,
		Address:         up.Address,
		UpdatedAt:       time.Now().UTC(),
	}
	return nil
}

func (f *fakeHeartbeatsRepo) ListHeartbeats(_ context.Context) ([]domain.BridgeHeartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	codes := make([]string, 0, len(f.heartbeats))
	for c := range f.heartbeats {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	out := make([]domain.BridgeHeartbeat, 0, len(codes))
	for _, c := range codes {
		out = append(out, f.heartbeats[c])
	}
	return out, nil
}

func (f *fakeHeartbeatsRepo) GetHeartbeat(_ context.Context, bridgeCode string) (*domain.BridgeHeartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hb, ok := f.heartbeats[bridgeCode]
	if !ok {
		return nil, fmt.Errorf("bridge %s not found", bridgeCode)
	}
	return &hb, nil
}

// ---- devices ----

type fakeDevicesRepo struct {
	mu      sync.Mutex
	devices map[string]domain.Device
	// 注入单设备写失败
	failSetFor map[string]error
	listErr    error
}

func newFakeDevicesRepo() *fakeDevicesRepo {
	return &fakeDevicesRepo{
		devices:    map[string]domain.Device{},
		failSetFor: map[string]error{},
	}
}

func (f *fakeDevicesRepo) put(d domain.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.DeviceID] = d
}

func (f *fakeDevicesRepo) ListMonitoredDevices(_ context.Context, codePrefix string) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := []domain.Device{}
	for _, id := range ids {
		d := f.devices[id]
		if d.Retired() {
			continue
		}
		if len(d.DeviceCode) < len(codePrefix) || d.DeviceCode[:len(codePrefix)] != codePrefix {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDevicesRepo) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	return &d, nil
}

func (f *fakeDevicesRepo) SetDeviceState(_ context.Context, deviceID, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failSetFor[deviceID]; ok {
		return err
	}
	d, ok := f.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s not found", deviceID)
	}
	d.DeviceState = state
	f.devices[deviceID] = d
	return nil
}

// ---- audit events ----

type fakeAuditRepo struct {
	mu        sync.Mutex
	events    []domain.AuditEvent
	appendErr error
	latestErr error
}

func newFakeAuditRepo() *fakeAuditRepo { return &fakeAuditRepo{} }

func (f *fakeAuditRepo) AppendAuditEvent(_ context.Context, ev *domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeAuditRepo) LatestAuditEvent(_ context.Context, kinds []string, subjectType, subjectID string) (*domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	var latest *domain.AuditEvent
	for i := range f.events {
		ev := &f.events[i]
		if ev.SubjectType != subjectType || ev.SubjectID != subjectID {
			continue
		}
		if !kindIn(ev.EventKind, kinds) {
			continue
		}
		if latest == nil || ev.CreatedAt.After(latest.CreatedAt) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeAuditRepo) ListAuditEvents(_ context.Context, filters repository.AuditEventFilters) ([]domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.AuditEvent{}
	for _, ev := range f.events {
		if len(filters.Kinds) > 0 && !kindIn(ev.EventKind, filters.Kinds) {
			continue
		}
		if filters.Since != nil && ev.CreatedAt.Before(*filters.Since) {
			continue
		}
		if filters.SubjectType != nil && ev.SubjectType != *filters.SubjectType {
			continue
		}
		if filters.SubjectID != nil && ev.SubjectID != *filters.SubjectID {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filters.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAuditRepo) ListSubjectTransitions(_ context.Context, subjectType, subjectID string, since time.Time) ([]domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.AuditEvent{}
	for _, ev := range f.events {
		if ev.SubjectType != subjectType || ev.SubjectID != subjectID {
			continue
		}
		if ev.CreatedAt.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeAuditRepo) CountEventsByKind(_ context.Context, since time.Time) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, ev := range f.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		out[ev.EventKind]++
	}
	return out, nil
}

func (f *fakeAuditRepo) countKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.EventKind == kind {
			n++
		}
	}
	return n
}

func kindIn(kind string, kinds []string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ---- readings ----

type fakeReadingsRepo struct {
	mu sync.Mutex
	// deviceID → 有读数的小时桶
	buckets map[string]map[time.Time]bool
}

func newFakeReadingsRepo() *fakeReadingsRepo {
	return &fakeReadingsRepo{buckets: map[string]map[time.Time]bool{}}
}

func (f *fakeReadingsRepo) addReading(deviceID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[deviceID] == nil {
		f.buckets[deviceID] = map[time.Time]bool{}
	}
	f.buckets[deviceID][at.UTC().Truncate(time.Hour)] = true
}

func (f *fakeReadingsRepo) HourBucketsWithReadings(_ context.Context, deviceID string, from, to time.Time) (map[time.Time]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[time.Time]bool{}
	for bucket := range f.buckets[deviceID] {
		if !bucket.Before(from) && bucket.Before(to) {
			out[bucket] = true
		}
	}
	return out, nil
}

// ---- kv ----

type fakeKV struct {
	mu      sync.Mutex
	data    map[string]string
	version int64
	getErr  error
	setErr  error
	verErr  error
	gets    int
	sets    int
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) AggregateVersion(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verErr != nil {
		return 0, f.verErr
	}
	return f.version, nil
}

func (f *fakeKV) BumpAggregateVersion(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	return f.version, nil
}

// ---- helpers ----

func toNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
