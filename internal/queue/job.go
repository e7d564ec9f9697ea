package queue

import (
	"time"

	"wisefido-vitals/internal/models"
)

// Job 一次批处理任务：累积器刷出的一组读数
type Job struct {
	ID         string           `json:"job_id"`
	Readings   []models.Reading `json:"readings"`
	Attempt    int              `json:"attempt"` // 已消耗的处理次数
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// Message 从 Stream 读到的待处理任务（StreamID 用于 ACK）
type Message struct {
	StreamID string
	Job      Job
}

// FailedJob 重试耗尽后的失败任务（保留至显式清理）
type FailedJob struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// Stats 队列各状态的任务计数（供运维接口使用）
type Stats struct {
	Queued    int64 `json:"queued"`    // Stream 中待处理/处理中
	Retrying  int64 `json:"retrying"`  // 等待退避重试
	Failed    int64 `json:"failed"`    // 重试耗尽
	Completed int64 `json:"completed"` // 近期完成（有界保留）
}
