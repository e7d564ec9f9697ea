package models

import (
	"fmt"
	"time"
)

// 心率值的生理有效范围（bpm）
const (
	MinBPM = 20
	MaxBPM = 300
)

// Reading 单条心率读数（入库后不可变，每秒每患者一条）
type Reading struct {
	PatientID  int64     `json:"patientId"`
	BPM        int       `json:"bpm"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Validate 校验读数的取值范围
func (r *Reading) Validate() error {
	if r.PatientID <= 0 {
		return fmt.Errorf("patientId must be positive, got %d", r.PatientID)
	}
	if r.BPM < MinBPM || r.BPM > MaxBPM {
		return fmt.Errorf("bpm must be in [%d, %d], got %d", MinBPM, MaxBPM, r.BPM)
	}
	if r.RecordedAt.IsZero() {
		return fmt.Errorf("recordedAt is required")
	}
	return nil
}

// CalendarDate 读数所属的日历日（UTC，格式 YYYY-MM-DD）
func (r *Reading) CalendarDate() string {
	return CalendarDate(r.RecordedAt)
}

// CalendarDate 时间戳对应的日历日（UTC）
func CalendarDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
