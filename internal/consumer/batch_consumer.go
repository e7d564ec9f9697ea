package consumer

import (
	"context"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/queue"

	"go.uber.org/zap"
)

// Processor 批处理逻辑接口
type Processor interface {
	ProcessBatch(ctx context.Context, batch []models.Reading) error
}

// JobQueue 消费者侧的队列操作接口（用于在单元测试中替换 Redis 队列）
type JobQueue interface {
	EnsureGroup(ctx context.Context) error
	ReadBatch(ctx context.Context) ([]queue.Message, error)
	ReclaimStale(ctx context.Context) ([]queue.Message, error)
	MarkCompleted(ctx context.Context, msg queue.Message) error
	ScheduleRetry(ctx context.Context, msg queue.Message, cause error) error
	MarkFailed(ctx context.Context, msg queue.Message, cause error) (queue.FailedJob, error)
	PumpRetries(ctx context.Context) (int, error)
}

// Notifier 任务永久失败时的运维通知接口
type Notifier interface {
	NotifyJobFailed(ctx context.Context, fj queue.FailedJob) error
}

// BatchConsumer 批次任务消费者：从队列取任务交给批处理器，
// 并负责完成确认、退避重试调度和失败落袋
type BatchConsumer struct {
	queue       JobQueue
	processor   Processor
	notifier    Notifier // 可为 nil（未配置 webhook）
	maxAttempts int
	visibility  time.Duration
	logger      *zap.Logger
}

// NewBatchConsumer 创建消费者
func NewBatchConsumer(
	q JobQueue,
	processor Processor,
	notifier Notifier,
	maxAttempts int,
	visibility time.Duration,
	logger *zap.Logger,
) *BatchConsumer {
	return &BatchConsumer{
		queue:       q,
		processor:   processor,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		visibility:  visibility,
		logger:      logger,
	}
}

// Start 启动消费循环（阻塞直到 ctx 取消）
func (c *BatchConsumer) Start(ctx context.Context) error {
	if err := c.queue.EnsureGroup(ctx); err != nil {
		return err
	}

	go c.retryPumpLoop(ctx)
	go c.reclaimLoop(ctx)

	c.logger.Info("Batch consumer started",
		zap.Int("max_attempts", c.maxAttempts),
	)

	// Redis 本身不可用时指数退避，恢复后复位
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			messages, err := c.queue.ReadBatch(ctx)
			if err != nil {
				c.logger.Error("Failed to read batch jobs",
					zap.Error(err),
					zap.Duration("backoff", backoff),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				continue
			}
			backoff = time.Second

			for _, msg := range messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// handle 处理单个任务消息
func (c *BatchConsumer) handle(ctx context.Context, msg queue.Message) {
	err := c.processor.ProcessBatch(ctx, msg.Job.Readings)
	if err == nil {
		if ackErr := c.queue.MarkCompleted(ctx, msg); ackErr != nil {
			// 确认失败：任务会在可见性超时后被回收重放，处理是幂等的
			c.logger.Error("Failed to ack completed job",
				zap.String("job_id", msg.Job.ID),
				zap.Error(ackErr),
			)
		}
		return
	}

	// 处理失败：还有剩余尝试次数则退避重试，否则落入失败集
	if msg.Job.Attempt+1 < c.maxAttempts {
		if retryErr := c.queue.ScheduleRetry(ctx, msg, err); retryErr != nil {
			c.logger.Error("Failed to schedule retry",
				zap.String("job_id", msg.Job.ID),
				zap.Error(retryErr),
			)
		}
		return
	}

	fj, failErr := c.queue.MarkFailed(ctx, msg, err)
	if failErr != nil {
		c.logger.Error("Failed to record failed job",
			zap.String("job_id", msg.Job.ID),
			zap.Error(failErr),
		)
		return
	}
	if c.notifier != nil {
		if notifyErr := c.notifier.NotifyJobFailed(ctx, fj); notifyErr != nil {
			c.logger.Warn("Failed to send failed-job notification",
				zap.String("job_id", fj.Job.ID),
				zap.Error(notifyErr),
			)
		}
	}
}

// retryPumpLoop 周期性把到期的重试任务泵回 Stream
func (c *BatchConsumer) retryPumpLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := c.queue.PumpRetries(ctx)
			if err != nil {
				c.logger.Error("Failed to pump retry jobs", zap.Error(err))
				continue
			}
			if moved > 0 {
				c.logger.Debug("Re-enqueued due retry jobs", zap.Int("count", moved))
			}
		}
	}
}

// reclaimLoop 周期性回收崩溃消费者留下的未确认任务
func (c *BatchConsumer) reclaimLoop(ctx context.Context) {
	interval := c.visibility / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			messages, err := c.queue.ReclaimStale(ctx)
			if err != nil {
				c.logger.Error("Failed to reclaim stale jobs", zap.Error(err))
				continue
			}
			for _, msg := range messages {
				c.logger.Warn("Reclaimed stale job",
					zap.String("job_id", msg.Job.ID),
					zap.Int("attempt", msg.Job.Attempt),
				)
				c.handle(ctx, msg)
			}
		}
	}
}
