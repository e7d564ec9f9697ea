package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options 队列配置
type Options struct {
	Stream             string
	Group              string
	Consumer           string
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	VisibilityTimeout  time.Duration
	ReadBatchSize      int64
	CompletedLimit     int64
	CompletedRetention time.Duration
}

// popRetryScript 原子弹出到期的重试任务并重新投递到 Stream
// KEYS[1]=retry zset KEYS[2]=stream ARGV[1]=now(ms) ARGV[2]=limit
var popRetryScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for i, member in ipairs(due) do
	redis.call('XADD', KEYS[2], '*', 'job', member)
	redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// RedisQueue 基于 Redis Streams 的持久化任务队列
// 任务在被确认（完成/进入重试集/进入失败集）之前一直留在 Stream 的
// pending 列表中，进程重启后可通过 XAUTOCLAIM 回收
type RedisQueue struct {
	client       *redis.Client
	opts         Options
	retryKey     string
	failedKey    string
	completedKey string
	logger       *zap.Logger
}

// NewRedisQueue 创建队列客户端
func NewRedisQueue(client *redis.Client, opts Options, logger *zap.Logger) *RedisQueue {
	base := strings.TrimSuffix(opts.Stream, ":stream")
	return &RedisQueue{
		client:       client,
		opts:         opts,
		retryKey:     base + ":retry",
		failedKey:    base + ":failed",
		completedKey: base + ":completed",
		logger:       logger,
	}
}

// EnsureGroup 创建消费者组（已存在则忽略）
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue 投递一批读数，返回任务 ID
func (q *RedisQueue) Enqueue(ctx context.Context, readings []models.Reading) (string, error) {
	if len(readings) == 0 {
		return "", fmt.Errorf("cannot enqueue empty batch")
	}

	job := Job{
		ID:         uuid.New().String(),
		Readings:   readings,
		Attempt:    0,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]interface{}{"job": string(data)},
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("Enqueued batch job",
		zap.String("job_id", job.ID),
		zap.Int("reading_count", len(readings)),
	)
	return job.ID, nil
}

// ReadBatch 读取一批待处理任务（阻塞最多 5 秒）
func (q *RedisQueue) ReadBatch(ctx context.Context) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    q.opts.ReadBatchSize,
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m, err := decodeMessage(msg)
			if err != nil {
				// 无法解析的消息直接确认并丢弃，避免堵死消费者
				q.logger.Error("Dropping undecodable job message",
					zap.String("stream_id", msg.ID),
					zap.Error(err),
				)
				q.ack(ctx, msg.ID)
				continue
			}
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// ReclaimStale 回收空闲超过可见性超时的未确认任务（消费者崩溃后重投）
func (q *RedisQueue) ReclaimStale(ctx context.Context) ([]Message, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.VisibilityTimeout,
		Start:    "0-0",
		Count:    q.opts.ReadBatchSize,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	var messages []Message
	for _, msg := range msgs {
		m, err := decodeMessage(msg)
		if err != nil {
			q.logger.Error("Dropping undecodable reclaimed message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			q.ack(ctx, msg.ID)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// MarkCompleted 确认任务完成并记录到有界的完成集
func (q *RedisQueue) MarkCompleted(ctx context.Context, msg Message) error {
	now := time.Now()
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.opts.Stream, q.opts.Group, msg.StreamID)
	pipe.XDel(ctx, q.opts.Stream, msg.StreamID)
	pipe.ZAdd(ctx, q.completedKey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: msg.Job.ID,
	})
	// 只保留最近 CompletedLimit 条
	pipe.ZRemRangeByRank(ctx, q.completedKey, 0, -(q.opts.CompletedLimit + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// ScheduleRetry 任务失败后按指数退避安排重试
func (q *RedisQueue) ScheduleRetry(ctx context.Context, msg Message, cause error) error {
	next := msg.Job
	next.Attempt++

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}

	delay := RetryDelay(q.opts.RetryBaseDelay, msg.Job.Attempt)
	dueAt := time.Now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.retryKey, &redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: string(data),
	})
	pipe.XAck(ctx, q.opts.Stream, q.opts.Group, msg.StreamID)
	pipe.XDel(ctx, q.opts.Stream, msg.StreamID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	q.logger.Warn("Batch job failed, retry scheduled",
		zap.String("job_id", msg.Job.ID),
		zap.Int("attempt", next.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return nil
}

// MarkFailed 重试耗尽后将任务移入失败集（保留至显式清理或重试）
func (q *RedisQueue) MarkFailed(ctx context.Context, msg Message, cause error) (FailedJob, error) {
	fj := FailedJob{
		Job:      msg.Job,
		Error:    cause.Error(),
		Attempts: msg.Job.Attempt + 1,
		FailedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(fj)
	if err != nil {
		return fj, fmt.Errorf("failed to marshal failed job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.failedKey, fj.Job.ID, string(data))
	pipe.XAck(ctx, q.opts.Stream, q.opts.Group, msg.StreamID)
	pipe.XDel(ctx, q.opts.Stream, msg.StreamID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fj, fmt.Errorf("failed to mark job failed: %w", err)
	}

	q.logger.Error("Batch job failed permanently",
		zap.String("job_id", fj.Job.ID),
		zap.Int("attempts", fj.Attempts),
		zap.Int("reading_count", len(fj.Job.Readings)),
		zap.Error(cause),
	)
	return fj, nil
}

// PumpRetries 将到期的重试任务重新投递到 Stream，返回投递条数
func (q *RedisQueue) PumpRetries(ctx context.Context) (int, error) {
	moved, err := popRetryScript.Run(ctx, q.client,
		[]string{q.retryKey, q.opts.Stream},
		time.Now().UnixMilli(), q.opts.ReadBatchSize,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to pump retries: %w", err)
	}
	return moved, nil
}

// Stats 队列各状态计数
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.TxPipeline()
	queued := pipe.XLen(ctx, q.opts.Stream)
	retrying := pipe.ZCard(ctx, q.retryKey)
	failed := pipe.HLen(ctx, q.failedKey)
	completed := pipe.ZCard(ctx, q.completedKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Stats{}, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return Stats{
		Queued:    queued.Val(),
		Retrying:  retrying.Val(),
		Failed:    failed.Val(),
		Completed: completed.Val(),
	}, nil
}

// ListFailed 列出失败任务（按失败时间排序）
func (q *RedisQueue) ListFailed(ctx context.Context) ([]FailedJob, error) {
	vals, err := q.client.HGetAll(ctx, q.failedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]FailedJob, 0, len(vals))
	for id, raw := range vals {
		var fj FailedJob
		if err := json.Unmarshal([]byte(raw), &fj); err != nil {
			q.logger.Error("Skipping corrupt failed-job record",
				zap.String("job_id", id),
				zap.Error(err),
			)
			continue
		}
		jobs = append(jobs, fj)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].FailedAt.Before(jobs[j].FailedAt) })
	return jobs, nil
}

// RetryAllFailed 将所有失败任务重新投递（attempt 归零），返回重投条数
func (q *RedisQueue) RetryAllFailed(ctx context.Context) (int, error) {
	failed, err := q.ListFailed(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, fj := range failed {
		job := fj.Job
		job.Attempt = 0
		data, err := json.Marshal(job)
		if err != nil {
			return count, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}

		pipe := q.client.TxPipeline()
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.opts.Stream,
			Values: map[string]interface{}{"job": string(data)},
		})
		pipe.HDel(ctx, q.failedKey, job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
		}
		count++
	}

	if count > 0 {
		q.logger.Info("Re-enqueued failed jobs", zap.Int("count", count))
	}
	return count, nil
}

// PurgeCompleted 清理早于保留窗口的完成记录，返回清理条数
func (q *RedisQueue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	removed, err := q.client.ZRemRangeByScore(ctx, q.completedKey,
		"-inf", strconv.FormatInt(cutoff, 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return removed, nil
}

// RetryDelay 第 attempt 次失败后的重试延迟（base 起步，逐次翻倍）
func RetryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (q *RedisQueue) ack(ctx context.Context, streamID string) {
	q.client.XAck(ctx, q.opts.Stream, q.opts.Group, streamID)
	q.client.XDel(ctx, q.opts.Stream, streamID)
}

func decodeMessage(msg redis.XMessage) (Message, error) {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		return Message{}, fmt.Errorf("message %s has no job payload", msg.ID)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return Message{StreamID: msg.ID, Job: job}, nil
}
