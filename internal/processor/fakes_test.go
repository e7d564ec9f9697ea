package processor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/models"
)

// fakeExtremaStore 仅用于单元测试（内存版极值缓存，语义与 Redis 实现一致）
type fakeExtremaStore struct {
	mu      sync.Mutex
	entries map[string]models.DailyExtrema

	getErr      error
	missNextGet bool // 下一次 Get 强制未命中（模拟播种竞争）
	seedCalls   int
	minWrites   int
	maxWrites   int
}

func newFakeExtremaStore() *fakeExtremaStore {
	return &fakeExtremaStore{
		entries: make(map[string]models.DailyExtrema),
	}
}

func extremaKey(patientID int64, date string) string {
	return fmt.Sprintf("%d:%s", patientID, date)
}

func (f *fakeExtremaStore) Get(ctx context.Context, patientID int64, date string) (*models.DailyExtrema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.missNextGet {
		f.missNextGet = false
		return nil, cache.ErrCacheMiss
	}
	e, ok := f.entries[extremaKey(patientID, date)]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	copied := e
	return &copied, nil
}

func (f *fakeExtremaStore) Set(ctx context.Context, patientID int64, date string, e *models.DailyExtrema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[extremaKey(patientID, date)] = *e
	return nil
}

func (f *fakeExtremaStore) Seed(ctx context.Context, patientID int64, date string, e *models.DailyExtrema) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seedCalls++
	key := extremaKey(patientID, date)
	if _, ok := f.entries[key]; ok {
		return false, nil
	}
	f.entries[key] = *e
	return true, nil
}

func (f *fakeExtremaStore) UpdateMin(ctx context.Context, patientID int64, date string, min int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := extremaKey(patientID, date)
	e, ok := f.entries[key]
	if !ok {
		return false, cache.ErrCacheMiss
	}
	if min < e.Min {
		e.Min = min
		e.MinAt = at
		f.entries[key] = e
		f.minWrites++
		return true, nil
	}
	return false, nil
}

func (f *fakeExtremaStore) UpdateMax(ctx context.Context, patientID int64, date string, max int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := extremaKey(patientID, date)
	e, ok := f.entries[key]
	if !ok {
		return false, cache.ErrCacheMiss
	}
	if max > e.Max {
		e.Max = max
		e.MaxAt = at
		f.entries[key] = e
		f.maxWrites++
		return true, nil
	}
	return false, nil
}

// fakeReadingRepo 仅用于单元测试（带去重约束的内存读数仓库）
type fakeReadingRepo struct {
	mu       sync.Mutex
	seen     map[string]bool
	inserted []models.Reading
	batches  int

	failPatient int64 // 非零时该患者的写入报错
}

func newFakeReadingRepo() *fakeReadingRepo {
	return &fakeReadingRepo{seen: make(map[string]bool)}
}

func (f *fakeReadingRepo) BulkInsert(ctx context.Context, readings []models.Reading) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failPatient != 0 {
		for _, r := range readings {
			if r.PatientID == f.failPatient {
				return 0, errors.New("bulk insert failed")
			}
		}
	}

	f.batches++
	var count int64
	for _, r := range readings {
		key := fmt.Sprintf("%d:%d:%d", r.PatientID, r.RecordedAt.UnixMilli(), r.BPM)
		if f.seen[key] {
			continue
		}
		f.seen[key] = true
		f.inserted = append(f.inserted, r)
		count++
	}
	return count, nil
}

func (f *fakeReadingRepo) GetByPatientAndRange(ctx context.Context, patientID int64, from, to time.Time) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []models.Reading
	for _, r := range f.inserted {
		if r.PatientID == patientID && !r.RecordedAt.Before(from) && r.RecordedAt.Before(to) {
			result = append(result, r)
		}
	}
	return result, nil
}

// fakeDailyRepo 仅用于单元测试（记录每次聚合写）
type fakeDailyRepo struct {
	mu      sync.Mutex
	upserts []models.HeartRateDaily
	rows    map[string]models.HeartRateDaily
}

func newFakeDailyRepo() *fakeDailyRepo {
	return &fakeDailyRepo{rows: make(map[string]models.HeartRateDaily)}
}

func (f *fakeDailyRepo) Upsert(ctx context.Context, row *models.HeartRateDaily) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.upserts = append(f.upserts, *row)
	f.rows[extremaKey(row.PatientID, row.Date)] = *row
	return nil
}

func (f *fakeDailyRepo) GetByPatientAndDate(ctx context.Context, patientID int64, date string) (*models.HeartRateDaily, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[extremaKey(patientID, date)]
	if !ok {
		return nil, errors.New("no rows")
	}
	copied := row
	return &copied, nil
}

func (f *fakeDailyRepo) GetRange(ctx context.Context, patientID int64, fromDate, toDate string) ([]*models.HeartRateDaily, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*models.HeartRateDaily
	for _, row := range f.rows {
		if row.PatientID == patientID && row.Date >= fromDate && row.Date <= toDate {
			copied := row
			result = append(result, &copied)
		}
	}
	return result, nil
}
