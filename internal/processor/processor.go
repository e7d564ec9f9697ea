package processor

import (
	"context"
	"errors"
	"fmt"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// partitionKey 批次分片键：同一患者同一日历日的读数归入一个分片
type partitionKey struct {
	PatientID int64
	Date      string
}

// partition 批次内的单个分片（保持批次内先后顺序）
type partition struct {
	Key      partitionKey
	Readings []models.Reading
}

// BatchProcessor 批处理器：原始读数落库 + 极值对账 + 条件聚合写
type BatchProcessor struct {
	readings   repository.ReadingRepository
	aggregates repository.HeartRateDailyRepository
	extrema    cache.Store
	logger     *zap.Logger
}

// NewBatchProcessor 创建批处理器
func NewBatchProcessor(
	readings repository.ReadingRepository,
	aggregates repository.HeartRateDailyRepository,
	extrema cache.Store,
	logger *zap.Logger,
) *BatchProcessor {
	return &BatchProcessor{
		readings:   readings,
		aggregates: aggregates,
		extrema:    extrema,
		logger:     logger,
	}
}

// ProcessBatch 处理一个批次
// 单个分片失败不阻塞其余分片，但任意分片失败都会使整个批次任务失败
// （由队列按批次粒度重试；原始读数写入可去重，重放安全）
func (p *BatchProcessor) ProcessBatch(ctx context.Context, batch []models.Reading) error {
	if len(batch) == 0 {
		return nil
	}

	parts := partitionBatch(batch)

	var errs []error
	for _, part := range parts {
		if err := p.processPartition(ctx, part); err != nil {
			errs = append(errs, fmt.Errorf("partition patient=%d date=%s: %w",
				part.Key.PatientID, part.Key.Date, err))
		}
	}
	return errors.Join(errs...)
}

// processPartition 处理单个 (patient, date) 分片
func (p *BatchProcessor) processPartition(ctx context.Context, part partition) error {
	// 1. 无条件批量落库原始读数（与极值是否变化无关）
	if _, err := p.readings.BulkInsert(ctx, part.Readings); err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}

	// 2. 单遍扫描求分片内极值
	local := localExtrema(part.Readings)

	// 3. 对账缓存，决定是否需要持久化聚合写
	result, err := p.reconcile(ctx, part.Key, local)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if result.Outcome == OutcomeUnchanged {
		// 核心省写分支：极值未变化，跳过持久化聚合写
		p.logger.Debug("Extrema unchanged, skipping aggregate write",
			zap.Int64("patient_id", part.Key.PatientID),
			zap.String("date", part.Key.Date),
			zap.Int("reading_count", len(part.Readings)),
		)
		return nil
	}

	// 4. 聚合行必须与对账后的缓存状态完全一致
	row := &models.HeartRateDaily{
		PatientID:        part.Key.PatientID,
		Date:             part.Key.Date,
		BPMMin:           result.Entry.Min,
		BPMMinRecordedAt: result.Entry.MinAt,
		BPMMax:           result.Entry.Max,
		BPMMaxRecordedAt: result.Entry.MaxAt,
	}
	if err := p.aggregates.Upsert(ctx, row); err != nil {
		return fmt.Errorf("aggregate upsert: %w", err)
	}

	p.logger.Info("Daily extrema updated",
		zap.Int64("patient_id", part.Key.PatientID),
		zap.String("date", part.Key.Date),
		zap.String("outcome", result.Outcome.String()),
		zap.Int("bpm_min", result.Entry.Min),
		zap.Int("bpm_max", result.Entry.Max),
	)
	return nil
}

// partitionBatch 按 (patientID, 日历日) 分片，分片和分片内读数都保持首次出现顺序
func partitionBatch(batch []models.Reading) []partition {
	index := make(map[partitionKey]int)
	var parts []partition

	for _, reading := range batch {
		key := partitionKey{
			PatientID: reading.PatientID,
			Date:      reading.CalendarDate(),
		}
		i, ok := index[key]
		if !ok {
			i = len(parts)
			index[key] = i
			parts = append(parts, partition{Key: key})
		}
		parts[i].Readings = append(parts[i].Readings, reading)
	}
	return parts
}

// localExtrema 单遍扫描求分片内极值；相等取批次内先出现的读数
func localExtrema(readings []models.Reading) models.DailyExtrema {
	ext := models.DailyExtrema{
		Min:   readings[0].BPM,
		MinAt: readings[0].RecordedAt,
		Max:   readings[0].BPM,
		MaxAt: readings[0].RecordedAt,
	}
	for _, reading := range readings[1:] {
		if reading.BPM < ext.Min {
			ext.Min = reading.BPM
			ext.MinAt = reading.RecordedAt
		}
		if reading.BPM > ext.Max {
			ext.Max = reading.BPM
			ext.MaxAt = reading.RecordedAt
		}
	}
	return ext
}

// reconcileAttempts 条目在读取与更新之间过期时的重试次数
const reconcileAttempts = 2

// reconcile 将分片极值与缓存对账，返回带结局标签的结果
// 并发安全：播种和字段更新都是缓存侧原子操作，两个批次同时对账
// 同一 (patient, date) 不会丢失更新
func (p *BatchProcessor) reconcile(ctx context.Context, key partitionKey, local models.DailyExtrema) (ReconcileResult, error) {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		cur, err := p.extrema.Get(ctx, key.PatientID, key.Date)
		if errors.Is(err, cache.ErrCacheMiss) {
			created, err := p.extrema.Seed(ctx, key.PatientID, key.Date, &local)
			if err != nil {
				return ReconcileResult{}, err
			}
			if !created {
				// 播种竞争失败：另一批次刚创建了条目，转入比较更新
				continue
			}
			return p.resolve(ctx, key, OutcomeSeeded)
		}
		if err != nil {
			return ReconcileResult{}, err
		}

		// min 和 max 独立更新，各自刷新 TTL
		minChanged, err := p.extrema.UpdateMin(ctx, key.PatientID, key.Date, local.Min, local.MinAt)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue // 条目刚过期，重新播种
		}
		if err != nil {
			return ReconcileResult{}, err
		}
		maxChanged, err := p.extrema.UpdateMax(ctx, key.PatientID, key.Date, local.Max, local.MaxAt)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return ReconcileResult{}, err
		}

		if !minChanged && !maxChanged {
			return ReconcileResult{Outcome: OutcomeUnchanged, Entry: *cur}, nil
		}
		return p.resolve(ctx, key, OutcomeImproved)
	}
	return ReconcileResult{}, fmt.Errorf("extrema entry for patient=%d date=%s kept expiring during reconciliation", key.PatientID, key.Date)
}

// resolve 回读对账后的缓存状态（聚合写必须镜像缓存，不允许使用本地推导值）
func (p *BatchProcessor) resolve(ctx context.Context, key partitionKey, outcome Outcome) (ReconcileResult, error) {
	entry, err := p.extrema.Get(ctx, key.PatientID, key.Date)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to re-read extrema after %s: %w", outcome, err)
	}
	return ReconcileResult{Outcome: outcome, Entry: *entry}, nil
}
