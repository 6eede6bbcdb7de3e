package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"kittypau/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDevicesRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresDevicesRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresDevicesRepo(db)
}

func TestListMonitoredDevices(t *testing.T) {
	db, mock, repo := setupDevicesRepo(t)
	defer db.Close()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"device_id", "device_code", "device_state", "last_seen", "retired_at"}).
		AddRow("dev-1", "BOWL0001", "linked", now, nil).
		AddRow("dev-2", "BOWL0002", "offline", nil, nil)

	mock.ExpectQuery(`SELECT device_id::text, device_code`).
		WithArgs("BOWL").
		WillReturnRows(rows)

	out, err := repo.ListMonitoredDevices(context.Background(), "BOWL")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "BOWL0001", out[0].DeviceCode)
	assert.False(t, out[1].LastSeen.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDeviceState_Success(t *testing.T) {
	db, mock, repo := setupDevicesRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE devices SET device_state`).
		WithArgs("dev-1", domain.DeviceStateOffline).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetDeviceState(context.Background(), "dev-1", domain.DeviceStateOffline)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDeviceState_RejectsUnknownState(t *testing.T) {
	db, _, repo := setupDevicesRepo(t)
	defer db.Close()

	err := repo.SetDeviceState(context.Background(), "dev-1", "hibernating")
	assert.Error(t, err)
}

func TestSetDeviceState_NotFound(t *testing.T) {
	db, mock, repo := setupDevicesRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE devices SET device_state`).
		WithArgs("dev-404", domain.DeviceStateOffline).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetDeviceState(context.Background(), "dev-404", domain.DeviceStateOffline)
	assert.Error(t, err)
}

func TestGetDevice(t *testing.T) {
	db, mock, repo := setupDevicesRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"device_id", "device_code", "device_state", "last_seen", "retired_at"}).
		AddRow("dev-1", "BOWL0001", "linked", nil, nil)

	mock.ExpectQuery(`SELECT device_id::text, device_code`).
		WithArgs("dev-1").
		WillReturnRows(rows)

	d, err := repo.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "BOWL0001", d.DeviceCode)
}
