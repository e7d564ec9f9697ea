package notify

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/internal/queue"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 任务永久失败时向运维 webhook 推送通知
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// webhookPayload 通知负载（不携带读数本身，失败集里有完整任务）
type webhookPayload struct {
	Event        string    `json:"event"`
	JobID        string    `json:"job_id"`
	ReadingCount int       `json:"reading_count"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
}

// NewWebhookNotifier 创建 webhook 通知客户端
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// NotifyJobFailed 推送失败任务通知
func (n *WebhookNotifier) NotifyJobFailed(ctx context.Context, fj queue.FailedJob) error {
	payload := webhookPayload{
		Event:        "batch_job_failed",
		JobID:        fj.Job.ID,
		ReadingCount: len(fj.Job.Readings),
		Attempts:     fj.Attempts,
		Error:        fj.Error,
		FailedAt:     fj.FailedAt,
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Info("Sent failed-job notification",
		zap.String("job_id", fj.Job.ID),
		zap.String("url", n.url),
	)
	return nil
}
