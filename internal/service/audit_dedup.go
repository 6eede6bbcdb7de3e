package service

import (
	"time"

	"kittypau/internal/domain"
)

// DedupAuditEvents 滑动冷却窗口去重。
// 输入按 created_at 降序（存储顺序），输出保持同样顺序。
// 去重锚点按时间正序推进：每个 (kind, subject_type, subject_id) 组内，
// 与上一条保留事件间隔小于 window 的事件被丢弃，保留的事件成为新锚点。
func DedupAuditEvents(events []domain.AuditEvent, window time.Duration) []domain.AuditEvent {
	if window <= 0 || len(events) < 2 {
		return events
	}

	// 翻转为正序，锚点必须按时间先后推进
	asc := make([]domain.AuditEvent, len(events))
	for i, ev := range events {
		asc[len(events)-1-i] = ev
	}

	type dedupKey struct {
		kind        string
		subjectType string
		subjectID   string
	}
	lastRetained := map[dedupKey]time.Time{}

	kept := make([]domain.AuditEvent, 0, len(asc))
	for _, ev := range asc {
		key := dedupKey{ev.EventKind, ev.SubjectType, ev.SubjectID}
		if anchor, ok := lastRetained[key]; ok && ev.CreatedAt.Sub(anchor) < window {
			continue
		}
		lastRetained[key] = ev.CreatedAt
		kept = append(kept, ev)
	}

	// 翻回降序
	out := make([]domain.AuditEvent, len(kept))
	for i, ev := range kept {
		out[len(kept)-1-i] = ev
	}
	return out
}
