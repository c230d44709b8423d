// Package models defines the core data structures used throughout moexbonds.
package models

import (
	"math"
	"strings"

	"cloud.google.com/go/civil"
)

// DefaultCurrency is the settlement currency assumed when the feed reports none.
const DefaultCurrency = "RUB"

// Bond is one exchange-traded bond built from a single feed snapshot.
// Optional fields are pointers: nil means the feed did not report the value.
type Bond struct {
	// Identity
	SecID     string `json:"secid"`      // e.g., "RU000A106HB4"
	ISIN      string `json:"isin"`
	RegNumber string `json:"regnumber"`  // state registration number
	ShortName string `json:"shortname"`  // e.g., "Сегежа3P1R"
	FullName  string `json:"full_name"`
	Board     string `json:"board"`      // ISS board, e.g., "TQCB"

	// Pricing
	Price        float64  `json:"price"` // % of face value
	Yield        float64  `json:"yield"` // % annualized to maturity
	YieldToOffer *float64 `json:"yield_to_offer,omitempty"`

	// Coupon
	CouponPercent    float64  `json:"coupon_percent"`
	CouponPeriodDays int      `json:"coupon_period_days"`
	CouponValue      float64  `json:"coupon_value"` // RUB per bond
	AccruedInterest  *float64 `json:"accrued_interest,omitempty"`

	// Dates
	MaturityDate   civil.Date  `json:"maturity_date"`
	OfferDate      *civil.Date `json:"offer_date,omitempty"`
	NextCouponDate *civil.Date `json:"next_coupon_date,omitempty"`
	CallOptionDate *civil.Date `json:"call_option_date,omitempty"`
	PutOptionDate  *civil.Date `json:"put_option_date,omitempty"`

	// Size
	FaceValue float64 `json:"face_value"`
	LotSize   int     `json:"lot_size"`
	IssueSize float64 `json:"issue_size"`
	Volume    float64 `json:"volume"` // traded value today, RUB

	// Classification
	ListLevel   int     `json:"list_level"` // 1 (most vetted) .. 3
	FaceUnit    *string `json:"face_unit,omitempty"`
	CurrencyID  *string `json:"currency_id,omitempty"`
	BondType    *string `json:"bond_type,omitempty"`
	BondSubType *string `json:"bond_sub_type,omitempty"`

	// Market extras
	Bid          *float64 `json:"bid,omitempty"`
	Offer        *float64 `json:"offer,omitempty"`
	Open         *float64 `json:"open,omitempty"`
	High         *float64 `json:"high,omitempty"`
	Low          *float64 `json:"low,omitempty"`
	WAPrice      *float64 `json:"waprice,omitempty"`
	NumTrades    *int     `json:"num_trades,omitempty"`
	DurationMOEX *float64 `json:"duration_moex,omitempty"`

	// Derived at normalization time
	IsFloater    bool `json:"is_floater"`
	IsAmortized  bool `json:"is_amortized"`
	DurationDays int  `json:"duration_days"` // days to maturity as of the snapshot
}

// CouponFrequency returns the number of coupon payments per year derived
// from the coupon period, or 0 when the period is unknown.
func (b *Bond) CouponFrequency() int {
	return CouponFrequency(b.CouponPeriodDays)
}

// CouponFrequency converts a coupon period in days to payments per year.
func CouponFrequency(periodDays int) int {
	if periodDays <= 0 {
		return 0
	}
	return int(math.Round(365 / float64(periodDays)))
}

// Currency resolves the bond's currency: face unit first, then settlement
// currency, then DefaultCurrency. ISS reports roubles as "SUR".
func (b *Bond) Currency() string {
	for _, c := range []*string{b.FaceUnit, b.CurrencyID} {
		if c != nil && *c != "" {
			return NormalizeCurrency(*c)
		}
	}
	return DefaultCurrency
}

// NormalizeCurrency maps ISS currency codes onto ISO codes.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "SUR" || code == "RUR" {
		return DefaultCurrency
	}
	return code
}

// HasOffer reports whether the bond has a known offer date.
func (b *Bond) HasOffer() bool {
	return b.OfferDate != nil
}

// Rating is the "best buy" category assigned by the rating heuristic.
type Rating string

const (
	RatingNone      Rating = ""
	RatingGem       Rating = "GEM"
	RatingSafe      Rating = "SAFE"
	RatingHighYield Rating = "HIGH_YIELD"
)

// Label returns a short human-readable label for the rating.
func (r Rating) Label() string {
	switch r {
	case RatingGem:
		return "💎 Топ выбор"
	case RatingSafe:
		return "🛡 Надежные"
	case RatingHighYield:
		return "🔥 Высокая доходность"
	default:
		return ""
	}
}

// RatedBond pairs a bond with the rating shown next to it.
type RatedBond struct {
	Bond
	Rating          Rating `json:"rating,omitempty"`
	CouponFrequency int    `json:"coupon_frequency"`
	Currency        string `json:"currency"`
}

// Float64 returns a pointer to v. Handy for optional fields in literals.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Date returns a pointer to d.
func Date(d civil.Date) *civil.Date { return &d }
