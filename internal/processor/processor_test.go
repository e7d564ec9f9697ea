package processor_test

import (
	"context"
	"testing"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/processor"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func reading(patientID int64, bpm int, at time.Time) models.Reading {
	return models.Reading{PatientID: patientID, BPM: bpm, RecordedAt: at}
}

func newProcessor() (*processor.BatchProcessor, *fakeReadingRepo, *fakeDailyRepo, *fakeExtremaStore) {
	readings := newFakeReadingRepo()
	daily := newFakeDailyRepo()
	extrema := newFakeExtremaStore()
	p := processor.NewBatchProcessor(readings, daily, extrema, zap.NewNop())
	return p, readings, daily, extrema
}

func TestProcessBatch_FirstOfDay_SeedsCacheAndWritesAggregate(t *testing.T) {
	p, readings, daily, _ := newProcessor()

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	batch := []models.Reading{
		reading(1, 72, t0),
		reading(1, 65, t0.Add(time.Second)),
		reading(1, 90, t0.Add(2*time.Second)),
		reading(1, 80, t0.Add(3*time.Second)),
	}

	require.NoError(t, p.ProcessBatch(context.Background(), batch))

	// 所有读数无条件落库
	require.Len(t, readings.inserted, 4)

	// 当日首批：恰好一次聚合写，极值与时间戳来自实际读数
	require.Len(t, daily.upserts, 1)
	row := daily.upserts[0]
	require.Equal(t, int64(1), row.PatientID)
	require.Equal(t, "2026-08-23", row.Date)
	require.Equal(t, 65, row.BPMMin)
	require.Equal(t, t0.Add(time.Second), row.BPMMinRecordedAt)
	require.Equal(t, 90, row.BPMMax)
	require.Equal(t, t0.Add(2*time.Second), row.BPMMaxRecordedAt)
}

func TestProcessBatch_ReadingWithinExtrema_SkipsAllWrites(t *testing.T) {
	p, readings, daily, extrema := newProcessor()

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	first := []models.Reading{
		reading(1, 65, t0),
		reading(1, 90, t0.Add(time.Second)),
	}
	require.NoError(t, p.ProcessBatch(context.Background(), first))
	require.Len(t, daily.upserts, 1)

	// 落在极值区间内的后续批次：原始读数落库，聚合不写，缓存字段不变
	later := []models.Reading{reading(1, 78, t0.Add(time.Minute))}
	require.NoError(t, p.ProcessBatch(context.Background(), later))

	require.Len(t, readings.inserted, 3)
	require.Len(t, daily.upserts, 1)
	require.Equal(t, 0, extrema.minWrites)
	require.Equal(t, 0, extrema.maxWrites)
}

func TestProcessBatch_Improvement_UpdatesOnlyChangedField(t *testing.T) {
	p, _, daily, extrema := newProcessor()

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	first := []models.Reading{
		reading(1, 65, t0),
		reading(1, 90, t0.Add(time.Second)),
	}
	require.NoError(t, p.ProcessBatch(context.Background(), first))

	// 只有 max 被刷新：min 字段不产生写
	t1 := t0.Add(time.Hour)
	require.NoError(t, p.ProcessBatch(context.Background(), []models.Reading{reading(1, 95, t1)}))

	require.Equal(t, 0, extrema.minWrites)
	require.Equal(t, 1, extrema.maxWrites)

	require.Len(t, daily.upserts, 2)
	row := daily.upserts[1]
	require.Equal(t, 65, row.BPMMin)
	require.Equal(t, t0, row.BPMMinRecordedAt)
	require.Equal(t, 95, row.BPMMax)
	require.Equal(t, t1, row.BPMMaxRecordedAt)
}

func TestProcessBatch_Replay_IsIdempotent(t *testing.T) {
	p, readings, daily, _ := newProcessor()

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	batch := []models.Reading{
		reading(1, 65, t0),
		reading(1, 90, t0.Add(time.Second)),
	}

	require.NoError(t, p.ProcessBatch(context.Background(), batch))
	require.NoError(t, p.ProcessBatch(context.Background(), batch))

	// 重放不产生重复原始行，也不产生多余聚合写
	require.Len(t, readings.inserted, 2)
	require.Len(t, daily.upserts, 1)
}

func TestProcessBatch_PartitionsByPatientAndDay(t *testing.T) {
	p, readings, daily, _ := newProcessor()

	day1 := time.Date(2026, 8, 23, 23, 59, 59, 0, time.UTC)
	day2 := time.Date(2026, 8, 24, 0, 0, 1, 0, time.UTC)
	batch := []models.Reading{
		reading(1, 70, day1),
		reading(2, 80, day1),
		reading(1, 75, day2), // 患者1跨日
	}

	require.NoError(t, p.ProcessBatch(context.Background(), batch))

	// 三个分片：各一次批量落库 + 各一次首日聚合写
	require.Equal(t, 3, readings.batches)
	require.Len(t, daily.upserts, 3)

	dates := map[string]bool{}
	for _, row := range daily.upserts {
		dates[extremaKey(row.PatientID, row.Date)] = true
	}
	require.True(t, dates["1:2026-08-23"])
	require.True(t, dates["2:2026-08-23"])
	require.True(t, dates["1:2026-08-24"])
}

func TestProcessBatch_TieBreak_FirstObservedWins(t *testing.T) {
	p, _, daily, _ := newProcessor()

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	batch := []models.Reading{
		reading(1, 70, t0),
		reading(1, 70, t0.Add(time.Second)),
	}

	require.NoError(t, p.ProcessBatch(context.Background(), batch))

	require.Len(t, daily.upserts, 1)
	row := daily.upserts[0]
	require.Equal(t, t0, row.BPMMinRecordedAt)
	require.Equal(t, t0, row.BPMMaxRecordedAt)
}

func TestProcessBatch_CacheErrorFailsBatch(t *testing.T) {
	p, _, daily, extrema := newProcessor()
	extrema.getErr = context.DeadlineExceeded

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	err := p.ProcessBatch(context.Background(), []models.Reading{reading(1, 70, t0)})

	// 缓存不可用必须使任务失败（触发队列重试），不允许绕过条件写
	require.Error(t, err)
	require.Empty(t, daily.upserts)
}

func TestProcessBatch_PartitionFailureDoesNotBlockOthers(t *testing.T) {
	p, readings, daily, _ := newProcessor()
	readings.failPatient = 1

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	batch := []models.Reading{
		reading(1, 70, t0),
		reading(2, 80, t0),
	}

	err := p.ProcessBatch(context.Background(), batch)

	// 整体报错（批次粒度重试），但患者2的分片已完成
	require.Error(t, err)
	require.Len(t, daily.upserts, 1)
	require.Equal(t, int64(2), daily.upserts[0].PatientID)
}

func TestProcessBatch_SeedRace_FallsBackToUpdates(t *testing.T) {
	p, _, daily, extrema := newProcessor()

	t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	// 模拟另一批次在 Get 与 Seed 之间播种了更宽的极值区间
	require.NoError(t, extrema.Set(context.Background(), 1, "2026-08-23", &models.DailyExtrema{
		Min: 50, MinAt: t0, Max: 110, MaxAt: t0,
	}))
	extrema.missNextGet = true

	require.NoError(t, p.ProcessBatch(context.Background(), []models.Reading{reading(1, 70, t0.Add(time.Second))}))

	// 播种失败后转入比较更新：区间内读数不写聚合
	require.Equal(t, 1, extrema.seedCalls)
	require.Empty(t, daily.upserts)
}
