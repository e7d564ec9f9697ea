package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	commonmqtt "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Submitter 读数提交接口（批量累积器）
type Submitter interface {
	Submit(reading models.Reading)
}

// IngestSubscriber 设备侧 MQTT 接入：设备发布到 vitals/{patientId}/heartrate，
// 负载与 HTTP 提交一致，校验通过后进入同一累积管线
type IngestSubscriber struct {
	client      *commonmqtt.Client
	accumulator Submitter
	topic       string
	qos         byte
	logger      *zap.Logger
}

// devicePayload 设备读数负载
type devicePayload struct {
	PatientID int64  `json:"patientId"`
	BPM       int    `json:"bpm"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// NewIngestSubscriber 创建 MQTT 接入订阅者
func NewIngestSubscriber(client *commonmqtt.Client, accumulator Submitter, topic string, qos byte, logger *zap.Logger) *IngestSubscriber {
	return &IngestSubscriber{
		client:      client,
		accumulator: accumulator,
		topic:       topic,
		qos:         qos,
		logger:      logger,
	}
}

// Start 订阅读数主题
func (s *IngestSubscriber) Start() error {
	if err := s.client.Subscribe(s.topic, s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to ingest topic: %w", err)
	}
	s.logger.Info("MQTT ingest subscriber started", zap.String("topic", s.topic))
	return nil
}

// Stop 取消订阅
func (s *IngestSubscriber) Stop() error {
	return s.client.Unsubscribe(s.topic)
}

// handleMessage 解析并提交单条设备读数（错误只记录，不中断订阅）
func (s *IngestSubscriber) handleMessage(topic string, payload []byte) error {
	reading, err := ParseReading(payload)
	if err != nil {
		s.logger.Warn("Dropping invalid device reading",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	s.accumulator.Submit(reading)
	return nil
}

// ParseReading 解析设备读数负载
func ParseReading(payload []byte) (models.Reading, error) {
	var body devicePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return models.Reading{}, fmt.Errorf("failed to unmarshal reading payload: %w", err)
	}

	recordedAt, err := time.Parse(time.RFC3339Nano, body.Timestamp)
	if err != nil {
		return models.Reading{}, fmt.Errorf("timestamp must be ISO-8601: %w", err)
	}

	reading := models.Reading{
		PatientID:  body.PatientID,
		BPM:        body.BPM,
		RecordedAt: recordedAt,
	}
	if err := reading.Validate(); err != nil {
		return models.Reading{}, err
	}
	return reading, nil
}
