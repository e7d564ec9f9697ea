package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtremaTTL_MidDay(t *testing.T) {
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	skew := time.Hour

	ttl, err := ExtremaTTL("2026-08-23", now, skew)
	require.NoError(t, err)

	// 存活到 2026-08-25 00:00 UTC + 1h 偏差容忍
	expected := time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC).Sub(now)
	require.Equal(t, expected, ttl)
}

func TestExtremaTTL_LateArrivalGetsMinimumLifetime(t *testing.T) {
	// 三天后才到达的历史读数：条目至少存活 skew 时长
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	skew := time.Hour

	ttl, err := ExtremaTTL("2026-08-23", now, skew)
	require.NoError(t, err)
	require.Equal(t, skew, ttl)
}

func TestExtremaTTL_JustBeforeExpiry(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 30, 0, 0, time.UTC)
	skew := time.Hour

	ttl, err := ExtremaTTL("2026-08-23", now, skew)
	require.NoError(t, err)
	require.Equal(t, skew, ttl) // 剩余 30m < skew，抬升到 skew
}

func TestExtremaTTL_InvalidDate(t *testing.T) {
	_, err := ExtremaTTL("23/08/2026", time.Now(), time.Hour)
	require.Error(t, err)
}

func TestRedisStoreKey(t *testing.T) {
	s := NewRedisStore(nil, "vitals:hr:extrema:", time.Hour, zap.NewNop())
	require.Equal(t, "vitals:hr:extrema:42:2026-08-23", s.Key(42, "2026-08-23"))
}

func TestDecodeEntry(t *testing.T) {
	minAt := time.Date(2026, 8, 23, 10, 0, 1, 0, time.UTC)
	maxAt := time.Date(2026, 8, 23, 10, 0, 2, 0, time.UTC)

	entry, err := decodeEntry(map[string]string{
		fieldMin:   "65",
		fieldMinAt: encodeTime(minAt),
		fieldMax:   "90",
		fieldMaxAt: encodeTime(maxAt),
	})
	require.NoError(t, err)
	require.Equal(t, 65, entry.Min)
	require.Equal(t, minAt, entry.MinAt)
	require.Equal(t, 90, entry.Max)
	require.Equal(t, maxAt, entry.MaxAt)
}

func TestDecodeEntry_Corrupt(t *testing.T) {
	_, err := decodeEntry(map[string]string{
		fieldMin:   "not-a-number",
		fieldMinAt: encodeTime(time.Now()),
		fieldMax:   "90",
		fieldMaxAt: encodeTime(time.Now()),
	})
	require.Error(t, err)
}
