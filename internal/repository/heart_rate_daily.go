package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// HeartRateDailyRepository 每日心率聚合仓库接口
// 注意：此仓库的写入只来自批处理器的条件写；图表端只读
type HeartRateDailyRepository interface {
	// Upsert 写入聚合行：(patient_id, date) 已存在则原地更新，否则插入
	Upsert(ctx context.Context, row *models.HeartRateDaily) error

	// GetByPatientAndDate 查询单日聚合行；不存在返回 sql.ErrNoRows
	GetByPatientAndDate(ctx context.Context, patientID int64, date string) (*models.HeartRateDaily, error)

	// GetRange 按患者和日期范围查询（图表端点使用）
	GetRange(ctx context.Context, patientID int64, fromDate, toDate string) ([]*models.HeartRateDaily, error)
}

// PostgresHeartRateDailyRepository 每日聚合仓库 PostgreSQL 实现
type PostgresHeartRateDailyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresHeartRateDailyRepository 创建每日聚合仓库
func NewPostgresHeartRateDailyRepository(db *sql.DB, logger *zap.Logger) *PostgresHeartRateDailyRepository {
	return &PostgresHeartRateDailyRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert 条件写入聚合行
func (r *PostgresHeartRateDailyRepository) Upsert(ctx context.Context, row *models.HeartRateDaily) error {
	query := `
		INSERT INTO heart_rate_daily (
			patient_id, date,
			bpm_min, bpm_min_recorded_at,
			bpm_max, bpm_max_recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_id, date)
		DO UPDATE SET bpm_min = EXCLUDED.bpm_min,
		              bpm_min_recorded_at = EXCLUDED.bpm_min_recorded_at,
		              bpm_max = EXCLUDED.bpm_max,
		              bpm_max_recorded_at = EXCLUDED.bpm_max_recorded_at,
		              updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		row.PatientID,
		row.Date,
		row.BPMMin,
		row.BPMMinRecordedAt,
		row.BPMMax,
		row.BPMMaxRecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert heart_rate_daily: %w", err)
	}

	r.logger.Debug("Upserted daily aggregate",
		zap.Int64("patient_id", row.PatientID),
		zap.String("date", row.Date),
		zap.Int("bpm_min", row.BPMMin),
		zap.Int("bpm_max", row.BPMMax),
	)
	return nil
}

// GetByPatientAndDate 查询单日聚合行
func (r *PostgresHeartRateDailyRepository) GetByPatientAndDate(ctx context.Context, patientID int64, date string) (*models.HeartRateDaily, error) {
	query := `
		SELECT id, patient_id, to_char(date, 'YYYY-MM-DD'),
		       bpm_min, bpm_min_recorded_at,
		       bpm_max, bpm_max_recorded_at,
		       created_at, updated_at
		FROM heart_rate_daily
		WHERE patient_id = $1 AND date = $2
	`

	row := &models.HeartRateDaily{}
	err := r.db.QueryRowContext(ctx, query, patientID, date).Scan(
		&row.ID, &row.PatientID, &row.Date,
		&row.BPMMin, &row.BPMMinRecordedAt,
		&row.BPMMax, &row.BPMMaxRecordedAt,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to query heart_rate_daily: %w", err)
	}
	return row, nil
}

// GetRange 按日期范围查询
func (r *PostgresHeartRateDailyRepository) GetRange(ctx context.Context, patientID int64, fromDate, toDate string) ([]*models.HeartRateDaily, error) {
	query := `
		SELECT id, patient_id, to_char(date, 'YYYY-MM-DD'),
		       bpm_min, bpm_min_recorded_at,
		       bpm_max, bpm_max_recorded_at,
		       created_at, updated_at
		FROM heart_rate_daily
		WHERE patient_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query heart_rate_daily range: %w", err)
	}
	defer rows.Close()

	var result []*models.HeartRateDaily
	for rows.Next() {
		row := &models.HeartRateDaily{}
		if err := rows.Scan(
			&row.ID, &row.PatientID, &row.Date,
			&row.BPMMin, &row.BPMMinRecordedAt,
			&row.BPMMax, &row.BPMMaxRecordedAt,
			&row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan heart_rate_daily: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate heart_rate_daily: %w", err)
	}

	return result, nil
}
