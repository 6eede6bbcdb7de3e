package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kittypau/internal/domain"
)

// HeartbeatUpsert 心跳写入参数（service 层已完成归一化）
type HeartbeatUpsert struct {
	BridgeCode      string
	LastSeen        time.Time
	UplinkConnected sql.NullBool
	LastUplinkAt    sql.NullTime
	UptimeSeconds   int64
	Address         sql.NullString
}

// HeartbeatsRepository 桥心跳存储（一桥一行，last write wins）
type HeartbeatsRepository interface {
	UpsertHeartbeat(ctx context.Context, up HeartbeatUpsert) error
	ListHeartbeats(ctx context.Context) ([]domain.BridgeHeartbeat, error)
	GetHeartbeat(ctx context.Context, bridgeCode string) (*domain.BridgeHeartbeat, error)
}

type PostgresHeartbeatsRepo struct {
	db *sql.DB
}

func NewPostgresHeartbeatsRepo(db *sql.DB) *PostgresHeartbeatsRepo {
	return &PostgresHeartbeatsRepo{db: db}
}

func (r *PostgresHeartbeatsRepo) UpsertHeartbeat(ctx context.Context, up HeartbeatUpsert) error {
	if up.BridgeCode == "" {
		return fmt.Errorf("bridge_code is required")
	}

	q := `
		INSERT INTO bridge_heartbeats (
			bridge_code, last_seen, uplink_connected, last_uplink_at,
			uptime_seconds, address, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (bridge_code)
		DO UPDATE SET last_seen        = EXCLUDED.last_seen,
		              uplink_connected = EXCLUDED.uplink_connected,
		              last_uplink_at   = EXCLUDED.last_uplink_at,
		              uptime_seconds   = EXCLUDED.uptime_seconds,
		              address          = EXCLUDED.address,
		              updated_at       = NOW()
	`
	if _, err := r.db.ExecContext(ctx, q,
		up.BridgeCode,
		up.LastSeen,
		up.UplinkConnected,
		up.LastUplinkAt,
		up.UptimeSeconds,
		up.Address,
	); err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

func (r *PostgresHeartbeatsRepo) ListHeartbeats(ctx context.Context) ([]domain.BridgeHeartbeat, error) {
	q := `
		SELECT bridge_code, last_seen, uplink_connected, last_uplink_at,
		       uptime_seconds, address, updated_at
		FROM bridge_heartbeats
		ORDER BY bridge_code
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	defer rows.Close()

	out := []domain.BridgeHeartbeat{}
	for rows.Next() {
		var h domain.BridgeHeartbeat
		if err := rows.Scan(
			&h.BridgeCode,
			&h.LastSeen,
			&h.UplinkConnected,
			&h.LastUplinkAt,
			&h.UptimeSeconds,
			&h.Address,
			&h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *PostgresHeartbeatsRepo) GetHeartbeat(ctx context.Context, bridgeCode string) (*domain.BridgeHeartbeat, error) {
	q := `
		SELECT bridge_code, last_seen, uplink_connected, last_uplink_at,
		       uptime_seconds, address, updated_at
		FROM bridge_heartbeats
		WHERE bridge_code = $1
	`
	var h domain.BridgeHeartbeat
	err := r.db.QueryRowContext(ctx, q, bridgeCode).Scan(
		&h.BridgeCode,
		&h.LastSeen,
		&h.UplinkConnected,
		&h.LastUplinkAt,
		&h.UptimeSeconds,
		&h.Address,
		&h.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bridge %s not found", bridgeCode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}
	return &h, nil
}
