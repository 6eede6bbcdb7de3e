package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReadingsRepository 遥测存储的只读视图
// readings 表由遥测摄取服务负责写入；本引擎只关心某设备在某个
// 小时桶内是否存在至少一条读数（presence 信号），不解析读数内容。
type ReadingsRepository interface {
	HourBucketsWithReadings(ctx context.Context, deviceID string, from, to time.Time) (map[time.Time]bool, error)
}

type PostgresReadingsRepo struct {
	db *sql.DB
}

func NewPostgresReadingsRepo(db *sql.DB) *PostgresReadingsRepo {
	return &PostgresReadingsRepo{db: db}
}

func (r *PostgresReadingsRepo) HourBucketsWithReadings(ctx context.Context, deviceID string, from, to time.Time) (map[time.Time]bool, error) {
	q := `
		SELECT date_trunc('hour', recorded_at) AS bucket
		FROM readings
		WHERE device_id = $1
		  AND recorded_at >= $2
		  AND recorded_at < $3
		GROUP BY bucket
	`
	rows, err := r.db.QueryContext(ctx, q, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading buckets: %w", err)
	}
	defer rows.Close()

	out := map[time.Time]bool{}
	for rows.Next() {
		var bucket time.Time
		if err := rows.Scan(&bucket); err != nil {
			return nil, err
		}
		out[bucket.UTC()] = true
	}
	return out, rows.Err()
}
