package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kittypau/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AuditEventFilters 审计事件查询过滤器
type AuditEventFilters struct {
	Kinds       []string   // event_kind IN (...)
	Since       *time.Time // created_at >= Since
	SubjectType *string
	SubjectID   *string
	Limit       int // 默认 200
}

// AuditEventsRepository 审计事件存储（append-only，从不 UPDATE/DELETE）
type AuditEventsRepository interface {
	AppendAuditEvent(ctx context.Context, ev *domain.AuditEvent) error
	// LatestAuditEvent returns the single most recent event matching the key,
	// or nil when none exists.
	LatestAuditEvent(ctx context.Context, kinds []string, subjectType, subjectID string) (*domain.AuditEvent, error)
	// ListAuditEvents returns events in descending created_at order.
	ListAuditEvents(ctx context.Context, filters AuditEventFilters) ([]domain.AuditEvent, error)
	// ListSubjectTransitions returns a subject's events since a point in time,
	// ascending, for timeline reconstruction.
	ListSubjectTransitions(ctx context.Context, subjectType, subjectID string, since time.Time) ([]domain.AuditEvent, error)
	// CountEventsByKind counts events per kind since a point in time.
	CountEventsByKind(ctx context.Context, since time.Time) (map[string]int, error)
}

type PostgresAuditEventsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresAuditEventsRepo(db *sql.DB, logger *zap.Logger) *PostgresAuditEventsRepo {
	return &PostgresAuditEventsRepo{db: db, logger: logger}
}

const auditEventColumns = `event_id::text, event_kind, subject_type, subject_id, payload, created_at`

func (r *PostgresAuditEventsRepo) AppendAuditEvent(ctx context.Context, ev *domain.AuditEvent) error {
	if ev == nil || ev.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	q := `
		INSERT INTO audit_events (event_id, event_kind, subject_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	if _, err := r.db.ExecContext(ctx, q,
		ev.EventID,
		ev.EventKind,
		ev.SubjectType,
		ev.SubjectID,
		string(payload),
		ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *PostgresAuditEventsRepo) LatestAuditEvent(ctx context.Context, kinds []string, subjectType, subjectID string) (*domain.AuditEvent, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("at least one event kind is required")
	}

	q := `
		SELECT ` + auditEventColumns + `
		FROM audit_events
		WHERE event_kind = ANY($1)
		  AND subject_type = $2
		  AND subject_id = $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var ev domain.AuditEvent
	err := r.db.QueryRowContext(ctx, q, pq.Array(kinds), subjectType, subjectID).Scan(
		&ev.EventID,
		&ev.EventKind,
		&ev.SubjectType,
		&ev.SubjectID,
		&ev.Payload,
		&ev.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit event: %w", err)
	}
	return &ev, nil
}

func (r *PostgresAuditEventsRepo) ListAuditEvents(ctx context.Context, filters AuditEventFilters) ([]domain.AuditEvent, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if len(filters.Kinds) > 0 {
		where = append(where, fmt.Sprintf("event_kind = ANY($%d)", argN))
		args = append(args, pq.Array(filters.Kinds))
		argN++
	}
	if filters.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filters.Since)
		argN++
	}
	if filters.SubjectType != nil {
		where = append(where, fmt.Sprintf("subject_type = $%d", argN))
		args = append(args, *filters.SubjectType)
		argN++
	}
	if filters.SubjectID != nil {
		where = append(where, fmt.Sprintf("subject_id = $%d", argN))
		args = append(args, *filters.SubjectID)
		argN++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	q := `
		SELECT ` + auditEventColumns + `
		FROM audit_events
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
		LIMIT $` + fmt.Sprintf("%d", argN)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

func (r *PostgresAuditEventsRepo) ListSubjectTransitions(ctx context.Context, subjectType, subjectID string, since time.Time) ([]domain.AuditEvent, error) {
	q := `
		SELECT ` + auditEventColumns + `
		FROM audit_events
		WHERE subject_type = $1
		  AND subject_id = $2
		  AND created_at >= $3
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, q, subjectType, subjectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list subject transitions: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

func (r *PostgresAuditEventsRepo) CountEventsByKind(ctx context.Context, since time.Time) (map[string]int, error) {
	q := `
		SELECT event_kind, COUNT(*)
		FROM audit_events
		WHERE created_at >= $1
		GROUP BY event_kind
	`
	rows, err := r.db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		out[kind] = count
	}
	return out, rows.Err()
}

func scanAuditEvents(rows *sql.Rows) ([]domain.AuditEvent, error) {
	out := []domain.AuditEvent{}
	for rows.Next() {
		var ev domain.AuditEvent
		if err := rows.Scan(
			&ev.EventID,
			&ev.EventKind,
			&ev.SubjectType,
			&ev.SubjectID,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
