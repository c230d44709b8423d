package screener

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// RejectReason names why a feed row was dropped during normalization.
type RejectReason string

const (
	RejectNone       RejectReason = ""
	RejectNoSecID    RejectReason = "no_secid"
	RejectDuplicate  RejectReason = "duplicate_secid"
	RejectNoMaturity RejectReason = "no_maturity"
	RejectMatured    RejectReason = "matured"
	RejectNoPrice    RejectReason = "no_price"
)

// NormalizeStats summarizes one normalization pass.
type NormalizeStats struct {
	Input    int                  `json:"input"`
	Accepted int                  `json:"accepted"`
	Rejected map[RejectReason]int `json:"rejected"`
}

// RejectedTotal is the number of dropped rows.
func (s NormalizeStats) RejectedTotal() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// Normalizer turns raw ISS tables into validated bond records.
type Normalizer struct {
	now        func() time.Time
	heuristics NameHeuristicClassifier
}

// NormalizerOption customizes a Normalizer.
type NormalizerOption func(*Normalizer)

// WithClock fixes the time used to compute days to maturity.
func WithClock(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) { n.now = now }
}

// WithHeuristics replaces the name heuristics.
func WithHeuristics(h NameHeuristicClassifier) NormalizerOption {
	return func(n *Normalizer) { n.heuristics = h }
}

// NewNormalizer creates a Normalizer using the wall clock and DefaultHeuristics.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{now: time.Now, heuristics: DefaultHeuristics{}}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Heuristics returns the classifier in use.
func (n *Normalizer) Heuristics() NameHeuristicClassifier { return n.heuristics }

// Normalize joins securities rows with their market data by SECID and
// builds one Bond per valid row. Rows are rejected individually; an empty
// result is not an error. The first row wins when a SECID repeats.
func (n *Normalizer) Normalize(sec, md models.Table) ([]models.Bond, NormalizeStats) {
	stats := NormalizeStats{Input: sec.Len(), Rejected: map[RejectReason]int{}}
	now := n.now()

	mdBySecID := make(map[string]int, md.Len())
	for i := range md.Data {
		id := md.Row(i).String("SECID")
		if _, dup := mdBySecID[id]; id != "" && !dup {
			mdBySecID[id] = i
		}
	}

	seen := make(map[string]struct{}, sec.Len())
	out := make([]models.Bond, 0, sec.Len())
	for i := range sec.Data {
		row := sec.Row(i)
		secid := row.String("SECID")

		var mdRow models.Row
		if j, ok := mdBySecID[secid]; ok {
			mdRow = md.Row(j)
		}

		b, reason := n.normalizeAt(row, mdRow, now)
		if reason == RejectNone {
			if _, dup := seen[b.SecID]; dup {
				reason = RejectDuplicate
			}
		}
		if reason != RejectNone {
			stats.Rejected[reason]++
			log.Trace().Str("secid", secid).Str("reason", string(reason)).Msg("row rejected")
			continue
		}
		seen[b.SecID] = struct{}{}
		out = append(out, b)
	}

	stats.Accepted = len(out)
	log.Debug().Int("rows", stats.Input).Int("accepted", stats.Accepted).
		Int("rejected", stats.RejectedTotal()).Msg("normalized feed")
	return out, stats
}

// NormalizeRow builds one bond from a securities row and its (possibly
// empty) market data row.
func (n *Normalizer) NormalizeRow(row, md models.Row) (models.Bond, RejectReason) {
	return n.normalizeAt(row, md, n.now())
}

func (n *Normalizer) normalizeAt(row, md models.Row, now time.Time) (models.Bond, RejectReason) {
	secid := row.String("SECID")
	if secid == "" {
		return models.Bond{}, RejectNoSecID
	}

	mat := row.OptDate("MATDATE")
	if mat == nil {
		return models.Bond{}, RejectNoMaturity
	}
	days := DaysUntil(mat.In(time.UTC), now)
	if days <= 0 {
		return models.Bond{}, RejectMatured
	}

	price := firstNonZero(md.OptFloat("LAST"), row.OptFloat("PREVLEGALCLOSEPRICE"), row.OptFloat("PREVPRICE"))
	if price <= 0 {
		return models.Bond{}, RejectNoPrice
	}

	listLevel := row.Int("LISTLEVEL", 0)
	if listLevel <= 0 {
		listLevel = 3
	}

	shortName := row.String("SHORTNAME")
	b := models.Bond{
		SecID:     secid,
		ISIN:      row.String("ISIN"),
		RegNumber: row.String("REGNUMBER"),
		ShortName: shortName,
		FullName:  row.String("SECNAME"),
		Board:     row.String("BOARDID"),

		Price:        price,
		Yield:        firstNonZero(md.OptFloat("YIELD"), row.OptFloat("YIELDATPREVWAPRICE")),
		YieldToOffer: md.OptFloat("YIELDTOOFFER"),

		CouponPercent:    row.Float("COUPONPERCENT", 0),
		CouponPeriodDays: row.Int("COUPONPERIOD", 0),
		CouponValue:      row.Float("COUPONVALUE", 0),
		AccruedInterest:  row.OptFloat("ACCRUEDINT"),

		MaturityDate:   *mat,
		OfferDate:      row.OptDate("OFFERDATE"),
		NextCouponDate: row.OptDate("NEXTCOUPON"),
		CallOptionDate: row.OptDate("CALLOPTIONDATE"),
		PutOptionDate:  row.OptDate("PUTOPTIONDATE"),

		FaceValue: row.Float("FACEVALUE", 0),
		LotSize:   row.Int("LOTSIZE", 0),
		IssueSize: row.Float("ISSUESIZE", 0),
		Volume:    md.Float("VALTODAY", 0),

		ListLevel:   listLevel,
		FaceUnit:    row.OptString("FACEUNIT"),
		CurrencyID:  row.OptString("CURRENCYID"),
		BondType:    row.OptString("BONDTYPE"),
		BondSubType: row.OptString("BONDSUBTYPE"),

		Bid:          md.OptFloat("BID"),
		Offer:        md.OptFloat("OFFER"),
		Open:         md.OptFloat("OPEN"),
		High:         md.OptFloat("HIGH"),
		Low:          md.OptFloat("LOW"),
		WAPrice:      md.OptFloat("WAPRICE"),
		NumTrades:    md.OptInt("NUMTRADES"),
		DurationMOEX: md.OptFloat("DURATION"),

		IsFloater:    n.heuristics.IsFloater(shortName),
		IsAmortized:  n.heuristics.IsAmortized(shortName),
		DurationDays: days,
	}
	return b, RejectNone
}

// DaysUntil returns ceil((t - now) / 24h).
func DaysUntil(t, now time.Time) int {
	return int(math.Ceil(float64(t.Sub(now)) / float64(24*time.Hour)))
}

// firstNonZero returns the first present, non-zero value, or 0.
func firstNonZero(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil && *v != 0 {
			return *v
		}
	}
	return 0
}
