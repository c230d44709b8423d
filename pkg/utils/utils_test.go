package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ── Time ──

func TestMarketOpenClose(t *testing.T) {
	date := time.Date(2026, 2, 18, 12, 0, 0, 0, MSK)

	open := MarketOpenTime(date)
	assert.Equal(t, 10, open.Hour())
	assert.Equal(t, 0, open.Minute())

	close := MarketCloseTime(date)
	assert.Equal(t, 18, close.Hour())
	assert.Equal(t, 40, close.Minute())
}

func TestIsMarketOpenAt(t *testing.T) {
	assert.True(t, IsMarketOpenAt(time.Date(2026, 2, 18, 11, 0, 0, 0, MSK)), "Wednesday 11:00")
	assert.False(t, IsMarketOpenAt(time.Date(2026, 2, 21, 11, 0, 0, 0, MSK)), "Saturday")
	assert.False(t, IsMarketOpenAt(time.Date(2026, 2, 18, 9, 0, 0, 0, MSK)), "before open")
	assert.False(t, IsMarketOpenAt(time.Date(2026, 2, 18, 19, 0, 0, 0, MSK)), "after close")
	assert.False(t, IsMarketOpenAt(time.Date(2026, 6, 12, 11, 0, 0, 0, MSK)), "Russia Day")
}

func TestMarketStatusAt(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 2, 18, h, m, 0, 0, MSK) }
	tests := []struct {
		at   time.Time
		want string
	}{
		{day(8, 0), "PRE-MARKET"},
		{day(9, 55), "OPENING AUCTION"},
		{day(12, 0), "OPEN"},
		{day(18, 50), "CLOSED"},
		{day(20, 0), "EVENING SESSION"},
		{time.Date(2026, 2, 22, 12, 0, 0, 0, MSK), "CLOSED (Weekend)"},
		{time.Date(2026, 2, 23, 12, 0, 0, 0, MSK), "CLOSED (День защитника Отечества)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MarketStatusAt(tt.at), tt.at.String())
	}
}

func TestNextTradingDay(t *testing.T) {
	fri := time.Date(2026, 2, 20, 12, 0, 0, 0, MSK)
	next := NextTradingDay(fri)
	// Saturday, Sunday and the Monday holiday are skipped.
	assert.Equal(t, 24, next.Day())
	assert.Equal(t, time.Tuesday, next.Weekday())
}

// ── Formatting ──

func TestFormatRUB(t *testing.T) {
	assert.Equal(t, "1 234 567,80 ₽", FormatRUB(1234567.8))
	assert.Equal(t, "0,00 ₽", FormatRUB(0))
	assert.Equal(t, "-1 000,50 ₽", FormatRUB(-1000.5))
	assert.Equal(t, "999,00 ₽", FormatRUB(999))
}

func TestFormatRUBCompact(t *testing.T) {
	assert.Equal(t, "1,5 млн ₽", FormatRUBCompact(1_500_000))
	assert.Equal(t, "2 млрд ₽", FormatRUBCompact(2e9))
	assert.Equal(t, "50 тыс ₽", FormatRUBCompact(50_000))
	assert.Equal(t, "750 ₽", FormatRUBCompact(750))
}

func TestFormatPct(t *testing.T) {
	assert.Equal(t, "18,46%", FormatPct(18.456))
	assert.Equal(t, "98,50", FormatPrice(98.5))
}

// ── SECID ──

func TestSecID(t *testing.T) {
	assert.Equal(t, "RU000A106HB4", NormalizeSecID("  $ru000a106hb4 "))
	assert.True(t, IsISIN("RU000A106HB4"))
	assert.False(t, IsISIN("SU26238"))
	assert.True(t, IsValidSecID("SU26238RMFS4"))
	assert.False(t, IsValidSecID("bad secid!"))
	assert.True(t, IsOFZ("su26238rmfs4"))
	assert.False(t, IsOFZ("RU000A106HB4"))
}
