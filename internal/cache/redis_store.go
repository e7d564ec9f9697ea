package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 缓存条目的 HASH 字段名
const (
	fieldMin   = "min"
	fieldMinAt = "min_at"
	fieldMax   = "max"
	fieldMaxAt = "max_at"
)

// seedScript 条目不存在时创建（EXISTS + HSET + PEXPIRE 原子执行）
var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'min', ARGV[1], 'min_at', ARGV[2], 'max', ARGV[3], 'max_at', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// updateMinScript 新值严格小于缓存 min 时更新，始终刷新 TTL
// 返回：1=已更新 0=未更新 -1=条目不存在
var updateMinScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'min')
if cur == false then
	return -1
end
local changed = 0
if tonumber(ARGV[1]) < tonumber(cur) then
	redis.call('HSET', KEYS[1], 'min', ARGV[1], 'min_at', ARGV[2])
	changed = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return changed
`)

// updateMaxScript 对称于 updateMinScript
var updateMaxScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'max')
if cur == false then
	return -1
end
local changed = 0
if tonumber(ARGV[1]) > tonumber(cur) then
	redis.call('HSET', KEYS[1], 'max', ARGV[1], 'max_at', ARGV[2])
	changed = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return changed
`)

// RedisStore 基于 Redis HASH 的极值缓存实现
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttlSkew   time.Duration
	logger    *zap.Logger
}

// NewRedisStore 创建 Redis 极值缓存
func NewRedisStore(client *redis.Client, keyPrefix string, ttlSkew time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttlSkew:   ttlSkew,
		logger:    logger,
	}
}

// Key 构建缓存键，如 "vitals:hr:extrema:42:2026-08-23"
func (s *RedisStore) Key(patientID int64, date string) string {
	return fmt.Sprintf("%s%d:%s", s.keyPrefix, patientID, date)
}

// Get 读取极值条目
func (s *RedisStore) Get(ctx context.Context, patientID int64, date string) (*models.DailyExtrema, error) {
	vals, err := s.client.HGetAll(ctx, s.Key(patientID, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get extrema entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrCacheMiss
	}
	return decodeEntry(vals)
}

// Set 全量覆盖写入并刷新过期时间
func (s *RedisStore) Set(ctx context.Context, patientID int64, date string, e *models.DailyExtrema) error {
	ttl, err := ExtremaTTL(date, time.Now(), s.ttlSkew)
	if err != nil {
		return fmt.Errorf("invalid extrema date %q: %w", date, err)
	}

	key := s.Key(patientID, date)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		fieldMin, strconv.Itoa(e.Min),
		fieldMinAt, encodeTime(e.MinAt),
		fieldMax, strconv.Itoa(e.Max),
		fieldMaxAt, encodeTime(e.MaxAt),
	)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set extrema entry: %w", err)
	}
	return nil
}

// Seed 条目不存在时创建
func (s *RedisStore) Seed(ctx context.Context, patientID int64, date string, e *models.DailyExtrema) (bool, error) {
	ttl, err := ExtremaTTL(date, time.Now(), s.ttlSkew)
	if err != nil {
		return false, fmt.Errorf("invalid extrema date %q: %w", date, err)
	}

	created, err := seedScript.Run(ctx, s.client,
		[]string{s.Key(patientID, date)},
		strconv.Itoa(e.Min), encodeTime(e.MinAt),
		strconv.Itoa(e.Max), encodeTime(e.MaxAt),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to seed extrema entry: %w", err)
	}

	if created == 1 {
		s.logger.Debug("Seeded extrema cache entry",
			zap.Int64("patient_id", patientID),
			zap.String("date", date),
			zap.Int("min", e.Min),
			zap.Int("max", e.Max),
		)
	}
	return created == 1, nil
}

// UpdateMin 条件更新 min/min_at
func (s *RedisStore) UpdateMin(ctx context.Context, patientID int64, date string, min int, at time.Time) (bool, error) {
	return s.updateField(ctx, updateMinScript, patientID, date, min, at)
}

// UpdateMax 条件更新 max/max_at
func (s *RedisStore) UpdateMax(ctx context.Context, patientID int64, date string, max int, at time.Time) (bool, error) {
	return s.updateField(ctx, updateMaxScript, patientID, date, max, at)
}

func (s *RedisStore) updateField(ctx context.Context, script *redis.Script, patientID int64, date string, value int, at time.Time) (bool, error) {
	ttl, err := ExtremaTTL(date, time.Now(), s.ttlSkew)
	if err != nil {
		return false, fmt.Errorf("invalid extrema date %q: %w", date, err)
	}

	changed, err := script.Run(ctx, s.client,
		[]string{s.Key(patientID, date)},
		strconv.Itoa(value), encodeTime(at), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update extrema entry: %w", err)
	}
	if changed == -1 {
		// 条目在读取和更新之间过期，由调用方重新播种
		return false, ErrCacheMiss
	}
	return changed == 1, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeEntry(vals map[string]string) (*models.DailyExtrema, error) {
	min, err := strconv.Atoi(vals[fieldMin])
	if err != nil {
		return nil, fmt.Errorf("corrupt extrema entry: bad min %q", vals[fieldMin])
	}
	max, err := strconv.Atoi(vals[fieldMax])
	if err != nil {
		return nil, fmt.Errorf("corrupt extrema entry: bad max %q", vals[fieldMax])
	}
	minAt, err := time.Parse(time.RFC3339Nano, vals[fieldMinAt])
	if err != nil {
		return nil, fmt.Errorf("corrupt extrema entry: bad min_at %q", vals[fieldMinAt])
	}
	maxAt, err := time.Parse(time.RFC3339Nano, vals[fieldMaxAt])
	if err != nil {
		return nil, fmt.Errorf("corrupt extrema entry: bad max_at %q", vals[fieldMaxAt])
	}

	return &models.DailyExtrema{Min: min, MinAt: minAt, Max: max, MaxAt: maxAt}, nil
}
