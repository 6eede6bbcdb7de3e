package repository

import (
	"context"
	"database/sql"
	"fmt"

	"kittypau/internal/domain"
)

// DevicesRepository 设备存储（健康检查只读取非退役的被监控设备，
// 且只写 device_state 字段）
type DevicesRepository interface {
	ListMonitoredDevices(ctx context.Context, codePrefix string) ([]domain.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	SetDeviceState(ctx context.Context, deviceID, state string) error
}

type PostgresDevicesRepo struct {
	db *sql.DB
}

func NewPostgresDevicesRepo(db *sql.DB) *PostgresDevicesRepo {
	return &PostgresDevicesRepo{db: db}
}

// ListMonitoredDevices returns all non-retired devices whose code carries the
// monitored prefix. Retired devices are excluded from liveness evaluation.
func (r *PostgresDevicesRepo) ListMonitoredDevices(ctx context.Context, codePrefix string) ([]domain.Device, error) {
	q := `
		SELECT device_id::text, device_code, device_state, last_seen, retired_at
		FROM devices
		WHERE retired_at IS NULL
		  AND device_code LIKE $1 || '%'
		ORDER BY device_code
	`
	rows, err := r.db.QueryContext(ctx, q, codePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	out := []domain.Device{}
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(
			&d.DeviceID,
			&d.DeviceCode,
			&d.DeviceState,
			&d.LastSeen,
			&d.RetiredAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresDevicesRepo) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	q := `
		SELECT device_id::text, device_code, device_state, last_seen, retired_at
		FROM devices
		WHERE device_id = $1
	`
	var d domain.Device
	err := r.db.QueryRowContext(ctx, q, deviceID).Scan(
		&d.DeviceID,
		&d.DeviceCode,
		&d.DeviceState,
		&d.LastSeen,
		&d.RetiredAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &d, nil
}

func (r *PostgresDevicesRepo) SetDeviceState(ctx context.Context, deviceID, state string) error {
	switch state {
	case domain.DeviceStateFactory, domain.DeviceStateClaimed, domain.DeviceStateLinked,
		domain.DeviceStateOffline, domain.DeviceStateLost, domain.DeviceStateError:
	default:
		return fmt.Errorf("invalid device_state: %s", state)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET device_state = $2 WHERE device_id = $1`,
		deviceID, state,
	)
	if err != nil {
		return fmt.Errorf("failed to update device_state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("device %s not found", deviceID)
	}
	return nil
}
