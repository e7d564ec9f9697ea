package cache

import (
	"context"
	"errors"
	"time"

	"wisefido-vitals/internal/models"
)

// ErrCacheMiss 表示缓存条目不存在（或已过期）
var ErrCacheMiss = errors.New("cache miss")

// Store 极值缓存的抽象接口（用于在单元测试中替换 Redis）
// Seed/UpdateMin/UpdateMax 必须是原子操作：同一 (patient, date) 键上的
// 并发对账不允许丢失更新
type Store interface {
	// Get 读取某患者某日的极值条目；不存在返回 ErrCacheMiss
	Get(ctx context.Context, patientID int64, date string) (*models.DailyExtrema, error)

	// Set 全量覆盖写入并刷新过期时间
	Set(ctx context.Context, patientID int64, date string, e *models.DailyExtrema) error

	// Seed 条目不存在时创建（原子）；返回是否由本次调用创建
	Seed(ctx context.Context, patientID int64, date string, e *models.DailyExtrema) (bool, error)

	// UpdateMin 新值严格小于缓存值时更新 min/min_at（原子比较交换），
	// 无论是否更新都会刷新过期时间；条目不存在返回 ErrCacheMiss
	UpdateMin(ctx context.Context, patientID int64, date string, min int, at time.Time) (bool, error)

	// UpdateMax 对称于 UpdateMin
	UpdateMax(ctx context.Context, patientID int64, date string, max int, at time.Time) (bool, error)
}

// ExtremaTTL 计算 (patient, date) 条目的存活时长：
// D 日创建的条目要存活到 D+1 日结束（UTC 午夜）再加 skew 容忍时钟偏差，
// 以便跨午夜迟到的读数仍能命中当日条目
func ExtremaTTL(date string, now time.Time, skew time.Duration) (time.Duration, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return 0, err
	}

	expireAt := day.AddDate(0, 0, 2).Add(skew) // D+1 日结束 = D+2 日 00:00
	ttl := expireAt.Sub(now)
	if ttl < skew {
		// 处理极迟到达的历史读数：保证条目至少存活 skew 时长
		ttl = skew
	}
	return ttl, nil
}
