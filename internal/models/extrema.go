package models

import "time"

// DailyExtrema 单患者单日的心率极值（缓存实体）
// 不变量：Min <= Max，且两个时间戳都必须来自实际观测到的读数
type DailyExtrema struct {
	Min   int       `json:"min"`
	MinAt time.Time `json:"min_at"`
	Max   int       `json:"max"`
	MaxAt time.Time `json:"max_at"`
}

// HeartRateDaily 每日心率聚合行（持久化实体，图表查询的数据来源）
// 每个 (patient_id, date) 唯一一行；只有极值变化时才写入
type HeartRateDaily struct {
	ID               int64     `json:"id"`
	PatientID        int64     `json:"patientId"`
	Date             string    `json:"date"` // YYYY-MM-DD
	BPMMin           int       `json:"bpmMin"`
	BPMMinRecordedAt time.Time `json:"bpmMinRecordedAt"`
	BPMMax           int       `json:"bpmMax"`
	BPMMaxRecordedAt time.Time `json:"bpmMaxRecordedAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
