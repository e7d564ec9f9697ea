package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"wisefido-vitals/common/database"
	"wisefido-vitals/common/logger"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// 每日心率报告表头
var dailyReportHeader = []string{
	"Date",
	"BPM Min",
	"Min Recorded At",
	"BPM Max",
	"Max Recorded At",
	"Last Updated",
}

func main() {
	patientID := flag.Int64("patient", 0, "patient id (required)")
	from := flag.String("from", "", "start date YYYY-MM-DD (required)")
	to := flag.String("to", "", "end date YYYY-MM-DD (required)")
	out := flag.String("out", "heart-rate-daily.xlsx", "output xlsx path")
	flag.Parse()

	if *patientID <= 0 || *from == "" || *to == "" {
		flag.Usage()
		log.Fatal("patient, from and to are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, "console", "export-daily-report")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewPostgresHeartRateDailyRepository(db, zapLogger)
	rows, err := repo.GetRange(context.Background(), *patientID, *from, *to)
	if err != nil {
		zapLogger.Fatal("Failed to query daily aggregates", zap.Error(err))
	}

	if err := writeReport(*out, *patientID, rows); err != nil {
		zapLogger.Fatal("Failed to write report", zap.Error(err))
	}

	zapLogger.Info("Exported daily heart-rate report",
		zap.Int64("patient_id", *patientID),
		zap.Int("row_count", len(rows)),
		zap.String("out", *out),
	)
}

// writeReport 生成每日心率报告 Excel 文件
func writeReport(path string, patientID int64, rows []*models.HeartRateDaily) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := fmt.Sprintf("Patient %d", patientID)
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range dailyReportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 写入数据行
	for i, row := range rows {
		values := []interface{}{
			row.Date,
			row.BPMMin,
			row.BPMMinRecordedAt.UTC().Format(time.RFC3339),
			row.BPMMax,
			row.BPMMaxRecordedAt.UTC().Format(time.RFC3339),
			row.UpdatedAt.UTC().Format(time.RFC3339),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	// 列宽
	if err := f.SetColWidth(sheetName, "A", "F", 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	return f.SaveAs(path)
}
