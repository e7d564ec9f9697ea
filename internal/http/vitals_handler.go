package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// Submitter 读数提交接口（批量累积器）
type Submitter interface {
	Submit(reading models.Reading)
}

// VitalsHandler 读数提交 + 每日聚合查询
type VitalsHandler struct {
	accumulator Submitter
	dailyRepo   repository.HeartRateDailyRepository
	logger      *zap.Logger
}

// NewVitalsHandler 创建处理器
func NewVitalsHandler(accumulator Submitter, dailyRepo repository.HeartRateDailyRepository, logger *zap.Logger) *VitalsHandler {
	return &VitalsHandler{
		accumulator: accumulator,
		dailyRepo:   dailyRepo,
		logger:      logger,
	}
}

// submitReadingRequest 读数提交请求体
type submitReadingRequest struct {
	PatientID int64  `json:"patientId"`
	BPM       int    `json:"bpm"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// SubmitReading POST /vitals/api/v1/heart-rate
// 接受即返回 201：读数进入累积缓冲区，持久化由后台管线异步完成
func (h *VitalsHandler) SubmitReading(w http.ResponseWriter, req *http.Request) {
	var body submitReadingRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	recordedAt, err := time.Parse(time.RFC3339Nano, body.Timestamp)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("timestamp must be ISO-8601"))
		return
	}

	reading := models.Reading{
		PatientID:  body.PatientID,
		BPM:        body.BPM,
		RecordedAt: recordedAt,
	}
	if err := reading.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	h.accumulator.Submit(reading)
	writeJSON(w, http.StatusCreated, Ok(map[string]string{"status": "accepted"}))
}

// GetDailyRange GET /vitals/api/v1/heart-rate/daily?patientId=&from=&to=
// from/to 为 YYYY-MM-DD（含两端）
func (h *VitalsHandler) GetDailyRange(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	patientID, err := strconv.ParseInt(q.Get("patientId"), 10, 64)
	if err != nil || patientID <= 0 {
		writeJSON(w, http.StatusBadRequest, Fail("patientId must be a positive integer"))
		return
	}

	from, to := q.Get("from"), q.Get("to")
	if !isValidDate(from) || !isValidDate(to) {
		writeJSON(w, http.StatusBadRequest, Fail("from/to must be YYYY-MM-DD"))
		return
	}

	rows, err := h.dailyRepo.GetRange(req.Context(), patientID, from, to)
	if err != nil {
		h.logger.Error("Failed to query daily aggregates",
			zap.Int64("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query daily aggregates"))
		return
	}
	if rows == nil {
		rows = []*models.HeartRateDaily{}
	}
	writeJSON(w, http.StatusOK, Ok(rows))
}

func isValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
