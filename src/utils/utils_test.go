package utils

import (
	"strconv"
	"testing"
	"time"

	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(seq int64) models.MQuoteUpdate {
	return models.MQuoteUpdate{Seq: seq, Symbol: "MNQ" + strconv.FormatInt(seq, 10)}
}

func seqs(us []models.MQuoteUpdate) []int64 {
	out := make([]int64, len(us))
	for i, u := range us {
		out[i] = u.Seq
	}
	return out
}

// -----------------------------------------------------------------------------

func TestQuoteBufferWraps(t *testing.T) {
	qb := NewQuoteBuffer(3)
	assert.Empty(t, qb.GetAll())
	_, ok := qb.Last()
	assert.False(t, ok)

	for i := int64(1); i <= 5; i++ {
		qb.Append(update(i))
	}

	assert.True(t, qb.IsFull())
	assert.Equal(t, 3, qb.Size())
	assert.Equal(t, []int64{3, 4, 5}, seqs(qb.GetAll()))
	assert.Equal(t, []int64{4, 5}, seqs(qb.GetLatest(2)))
	assert.Equal(t, []int64{3, 4, 5}, seqs(qb.GetLatest(10)))

	last, ok := qb.Last()
	require.True(t, ok)
	assert.Equal(t, int64(5), last.Seq)

	qb.Clear()
	assert.Zero(t, qb.Size())
	assert.Equal(t, 3, qb.Capacity())
}

func TestQuoteBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, 1024, NewQuoteBuffer(0).Capacity())
}

// -----------------------------------------------------------------------------

func TestFallbackCalendar(t *testing.T) {
	tc := &TradingCalendar{Fallback: true, Timezone: time.UTC}

	monday := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, tc.IsTradingDay(monday))
	assert.True(t, tc.IsOpenOnMinute(monday))
	assert.False(t, tc.IsOpenOnMinute(monday.Add(-31*time.Minute)))
	assert.False(t, tc.IsOpenOnMinute(monday.Add(6*time.Hour)))

	saturday := time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC)
	assert.False(t, tc.IsTradingDay(saturday))
	assert.False(t, tc.IsOpenOnMinute(saturday))
}

func TestGetCalendarFallsBackToNYSE(t *testing.T) {
	tc := GetCalendar("not-a-mic")
	require.NotNil(t, tc)
	assert.Equal(t, "xnys", tc.MIC)
}

func TestSchedulerDisabledIsAlwaysOpen(t *testing.T) {
	ms := NewMarketScheduler("xnys", false, logger.NewNopLogger())
	ms.Now = func() time.Time { return time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC) }
	assert.True(t, ms.IsOpen())
}

func TestSchedulerFollowsCalendar(t *testing.T) {
	ms := &MarketScheduler{
		Enabled:  true,
		Logger:   logger.NewNopLogger(),
		Calendar: &TradingCalendar{MIC: "test", Fallback: true, Timezone: time.UTC},
	}

	ms.Now = func() time.Time { return time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC) }
	assert.False(t, ms.IsOpen())

	ms.Now = func() time.Time { return time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC) }
	assert.True(t, ms.IsOpen())
}
