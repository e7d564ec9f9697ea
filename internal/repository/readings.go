package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// ReadingRepository 原始读数仓库接口（append-only）
type ReadingRepository interface {
	// BulkInsert 单条语句批量写入一组读数；重复读数
	// (patient_id, recorded_at, bpm) 被静默跳过，保证批次重放不产生重复行。
	// 返回实际插入的行数。
	BulkInsert(ctx context.Context, readings []models.Reading) (int64, error)

	// GetByPatientAndRange 按患者和时间范围查询原始读数（离线分析用）
	GetByPatientAndRange(ctx context.Context, patientID int64, from, to time.Time) ([]models.Reading, error)
}

// PostgresReadingRepository 原始读数仓库 PostgreSQL 实现
type PostgresReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresReadingRepository 创建原始读数仓库
func NewPostgresReadingRepository(db *sql.DB, logger *zap.Logger) *PostgresReadingRepository {
	return &PostgresReadingRepository{
		db:     db,
		logger: logger,
	}
}

// BulkInsert 批量写入读数
func (r *PostgresReadingRepository) BulkInsert(ctx context.Context, readings []models.Reading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO heart_rate_readings (patient_id, bpm, recorded_at) VALUES `)

	args := make([]interface{}, 0, len(readings)*3)
	for i, reading := range readings {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, reading.PatientID, reading.BPM, reading.RecordedAt)
	}
	// 批次重试时已写入的行直接跳过（见 heart_rate_readings_dedup 约束）
	sb.WriteString(` ON CONFLICT ON CONSTRAINT heart_rate_readings_dedup DO NOTHING`)

	result, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert readings: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted row count: %w", err)
	}

	if inserted < int64(len(readings)) {
		r.logger.Debug("Skipped duplicate readings on bulk insert",
			zap.Int64("inserted", inserted),
			zap.Int("batch_size", len(readings)),
		)
	}
	return inserted, nil
}

// GetByPatientAndRange 按患者和时间范围查询
func (r *PostgresReadingRepository) GetByPatientAndRange(ctx context.Context, patientID int64, from, to time.Time) ([]models.Reading, error) {
	query := `
		SELECT patient_id, bpm, recorded_at
		FROM heart_rate_readings
		WHERE patient_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var reading models.Reading
		if err := rows.Scan(&reading.PatientID, &reading.BPM, &reading.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}
