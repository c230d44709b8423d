package utils

import (
	"time"
)

// MSK is the Moscow time zone (UTC+3, no DST).
var MSK *time.Location

func init() {
	var err error
	MSK, err = time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		MSK = time.FixedZone("MSK", 3*60*60)
	}
}

// NowMSK returns the current time in Moscow.
func NowMSK() time.Time {
	return time.Now().In(MSK)
}

// ToMSK converts a time.Time to Moscow time.
func ToMSK(t time.Time) time.Time {
	return t.In(MSK)
}

func atMSK(date time.Time, hour, min int) time.Time {
	d := date.In(MSK)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, MSK)
}

// PreOpenStart returns the opening auction start (9:50 MSK) for a given date.
func PreOpenStart(date time.Time) time.Time { return atMSK(date, 9, 50) }

// MarketOpenTime returns the bond main session start (10:00 MSK).
func MarketOpenTime(date time.Time) time.Time { return atMSK(date, 10, 0) }

// MarketCloseTime returns the bond main session end (18:40 MSK).
func MarketCloseTime(date time.Time) time.Time { return atMSK(date, 18, 40) }

// EveningOpenTime returns the evening session start (19:05 MSK).
func EveningOpenTime(date time.Time) time.Time { return atMSK(date, 19, 5) }

// EveningCloseTime returns the evening session end (23:50 MSK).
func EveningCloseTime(date time.Time) time.Time { return atMSK(date, 23, 50) }

// IsMarketOpenAt checks if the MOEX bond main session is running at t.
func IsMarketOpenAt(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	return !t.Before(MarketOpenTime(t)) && t.Before(MarketCloseTime(t))
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(MSK)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// NextTradingDay returns the next trading day after the given date.
func NextTradingDay(from time.Time) time.Time {
	next := from.In(MSK).AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// IsTradingHoliday checks if the given date is a MOEX non-trading day.
func IsTradingHoliday(t time.Time) bool {
	_, ok := moexHolidays2026[t.In(MSK).Format("2006-01-02")]
	return ok
}

// MOEX non-trading weekdays for 2026 (update annually).
var moexHolidays2026 = map[string]string{
	"2026-01-01": "Новый год",
	"2026-01-02": "Новогодние каникулы",
	"2026-01-07": "Рождество",
	"2026-02-23": "День защитника Отечества",
	"2026-03-09": "Международный женский день",
	"2026-05-01": "Праздник Весны и Труда",
	"2026-05-11": "День Победы",
	"2026-06-12": "День России",
	"2026-11-04": "День народного единства",
	"2026-12-31": "Новый год",
}

// FormatDateTimeMSK formats a time.Time to "2006-01-02 15:04:05 MSK".
func FormatDateTimeMSK(t time.Time) string {
	return t.In(MSK).Format("2006-01-02 15:04:05") + " MSK"
}

// MarketStatusAt returns the bond market session state at t.
func MarketStatusAt(t time.Time) string {
	t = t.In(MSK)

	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if name, ok := moexHolidays2026[t.Format("2006-01-02")]; ok {
		return "CLOSED (" + name + ")"
	}

	switch {
	case t.Before(PreOpenStart(t)):
		return "PRE-MARKET"
	case t.Before(MarketOpenTime(t)):
		return "OPENING AUCTION"
	case t.Before(MarketCloseTime(t)):
		return "OPEN"
	case !t.Before(EveningOpenTime(t)) && t.Before(EveningCloseTime(t)):
		return "EVENING SESSION"
	default:
		return "CLOSED"
	}
}

// MarketStatus returns the current market status string.
func MarketStatus() string {
	return MarketStatusAt(NowMSK())
}
