package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"wisefido-vitals/internal/accumulator"
	"wisefido-vitals/internal/queue"

	"go.uber.org/zap"
)

// QueueOps 队列运维操作接口
type QueueOps interface {
	Stats(ctx context.Context) (queue.Stats, error)
	ListFailed(ctx context.Context) ([]queue.FailedJob, error)
	RetryAllFailed(ctx context.Context) (int, error)
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ThresholdManager 累积器阈值管理接口
type ThresholdManager interface {
	Threshold() int
	UpdateThreshold(newSize int) error
}

// AdminHandler 队列运维 + 接入参数管理
type AdminHandler struct {
	queue            QueueOps
	accumulator      ThresholdManager
	defaultRetention time.Duration
	logger           *zap.Logger
}

// NewAdminHandler 创建运维处理器
func NewAdminHandler(q QueueOps, acc ThresholdManager, defaultRetention time.Duration, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		queue:            q,
		accumulator:      acc,
		defaultRetention: defaultRetention,
		logger:           logger,
	}
}

// QueueStats GET /admin/api/v1/queue/stats
func (h *AdminHandler) QueueStats(w http.ResponseWriter, req *http.Request) {
	stats, err := h.queue.Stats(req.Context())
	if err != nil {
		h.logger.Error("Failed to get queue stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get queue stats"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

// ListFailedJobs GET /admin/api/v1/queue/failed
func (h *AdminHandler) ListFailedJobs(w http.ResponseWriter, req *http.Request) {
	jobs, err := h.queue.ListFailed(req.Context())
	if err != nil {
		h.logger.Error("Failed to list failed jobs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list failed jobs"))
		return
	}
	if jobs == nil {
		jobs = []queue.FailedJob{}
	}
	writeJSON(w, http.StatusOK, Ok(jobs))
}

// RetryFailedJobs POST /admin/api/v1/queue/failed/retry
func (h *AdminHandler) RetryFailedJobs(w http.ResponseWriter, req *http.Request) {
	count, err := h.queue.RetryAllFailed(req.Context())
	if err != nil {
		h.logger.Error("Failed to retry failed jobs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to retry failed jobs"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int{"retried": count}))
}

// PurgeCompletedJobs POST /admin/api/v1/queue/completed/purge
// 可选请求体 {"olderThan": "24h"}，缺省使用配置的保留窗口
func (h *AdminHandler) PurgeCompletedJobs(w http.ResponseWriter, req *http.Request) {
	olderThan := h.defaultRetention

	var body struct {
		OlderThan string `json:"olderThan"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err == nil && body.OlderThan != "" {
		d, err := time.ParseDuration(body.OlderThan)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, Fail("olderThan must be a positive duration"))
			return
		}
		olderThan = d
	}

	removed, err := h.queue.PurgeCompleted(req.Context(), olderThan)
	if err != nil {
		h.logger.Error("Failed to purge completed jobs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to purge completed jobs"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int64{"purged": removed}))
}

// GetBatchThreshold GET /admin/api/v1/ingest/batch-threshold
func (h *AdminHandler) GetBatchThreshold(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]int{
		"threshold": h.accumulator.Threshold(),
		"max":       accumulator.MaxBatchSize,
	}))
}

// UpdateBatchThreshold PUT /admin/api/v1/ingest/batch-threshold
// 请求体 {"threshold": N}；超出 [1, MaxBatchSize] 返回 400，状态不变
func (h *AdminHandler) UpdateBatchThreshold(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Threshold int `json:"threshold"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	if err := h.accumulator.UpdateThreshold(body.Threshold); err != nil {
		if errors.Is(err, accumulator.ErrThresholdOutOfRange) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("Failed to update batch threshold", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to update batch threshold"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int{"threshold": body.Threshold}))
}
