package models

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Bond Tests ──

func TestCouponFrequency(t *testing.T) {
	tests := []struct {
		period int
		want   int
	}{
		{182, 2},
		{91, 4},
		{30, 12},
		{364, 1},
		{0, 0},
		{-5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CouponFrequency(tt.period), "period %d", tt.period)
	}

	b := Bond{CouponPeriodDays: 182}
	assert.Equal(t, 2, b.CouponFrequency())
}

func TestBondCurrency(t *testing.T) {
	b := Bond{}
	assert.Equal(t, "RUB", b.Currency(), "no face unit and no currency id")

	b.CurrencyID = String("SUR")
	assert.Equal(t, "RUB", b.Currency())

	b.FaceUnit = String("usd")
	assert.Equal(t, "USD", b.Currency(), "face unit wins over currency id")

	b.FaceUnit = String("")
	assert.Equal(t, "RUB", b.Currency(), "empty face unit falls through")
}

func TestRatingLabel(t *testing.T) {
	assert.NotEmpty(t, RatingGem.Label())
	assert.NotEmpty(t, RatingSafe.Label())
	assert.NotEmpty(t, RatingHighYield.Label())
	assert.Empty(t, RatingNone.Label())
}

// ── Filter/Sort Parsing ──

func TestParseTriState(t *testing.T) {
	for in, want := range map[string]TriState{"": TriAll, "ALL": TriAll, "only": TriOnly, " exclude ": TriExclude} {
		got, err := ParseTriState(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTriState("maybe")
	assert.Error(t, err)

	assert.True(t, TriAll.Allows(true))
	assert.True(t, TriAll.Allows(false))
	assert.True(t, TriOnly.Allows(true))
	assert.False(t, TriOnly.Allows(false))
	assert.False(t, TriExclude.Allows(true))
	assert.True(t, TriExclude.Allows(false))
}

func TestParseBondType(t *testing.T) {
	got, err := ParseBondType("ofz")
	require.NoError(t, err)
	assert.Equal(t, BondTypeGovernment, got)

	got, err = ParseBondType("")
	require.NoError(t, err)
	assert.Equal(t, BondTypeAny, got)

	_, err = ParseBondType("junk")
	assert.Error(t, err)
}

func TestParseSortField(t *testing.T) {
	f, err := ParseSortField("coupon_percent")
	require.NoError(t, err)
	assert.Equal(t, SortCouponPercent, f)

	f, err = ParseSortField("COUPONFREQUENCY")
	require.NoError(t, err)
	assert.Equal(t, SortCouponFrequency, f)

	_, err = ParseSortField("rating")
	assert.Error(t, err)
}

func TestParseSortOrder(t *testing.T) {
	o, err := ParseSortOrder("")
	require.NoError(t, err)
	assert.Equal(t, Desc, o)
	assert.Equal(t, Asc, o.Flip())

	_, err = ParseSortOrder("sideways")
	assert.Error(t, err)
}

func TestDefaultViewState(t *testing.T) {
	vs := DefaultViewState()
	assert.Equal(t, 1, vs.Page)
	assert.Equal(t, 25, vs.PageSize)
	assert.Equal(t, SortKey{Field: SortVolume, Order: Desc}, vs.Sort)
	assert.Equal(t, 10.0, vs.Filters.MinYield)
	assert.Equal(t, 105.0, vs.Filters.MaxPrice)
	assert.Equal(t, 2000, vs.Filters.MaxDurationDays)
}

// ── Table Tests ──

func TestTableRowAccessors(t *testing.T) {
	tbl := Table{
		Columns: []string{"SECID", "PREVPRICE", "MATDATE", "LISTLEVEL", "OFFERDATE", "ACCRUEDINT"},
		Data: [][]any{
			{"RU000A1", 99.5, "2027-03-15", float64(2), "0000-00-00", nil},
			{"RU000A2", "101.25", "not-a-date", "x", "", ""},
		},
	}

	r := tbl.Row(0)
	require.True(t, r.Valid())
	assert.Equal(t, "RU000A1", r.String("secid"))
	assert.Equal(t, 99.5, r.Float("PREVPRICE", 0))
	assert.Equal(t, 2, r.Int("LISTLEVEL", 3))
	require.NotNil(t, r.OptDate("MATDATE"))
	assert.Equal(t, civil.Date{Year: 2027, Month: time.March, Day: 15}, *r.OptDate("MATDATE"))
	assert.Nil(t, r.OptDate("OFFERDATE"), "ISS zero date is absent")
	assert.Nil(t, r.OptFloat("ACCRUEDINT"), "null stays absent")
	assert.Nil(t, r.OptFloat("NOSUCHCOLUMN"))
	assert.Equal(t, -1, tbl.Index("NOSUCHCOLUMN"))

	r = tbl.Row(1)
	assert.Equal(t, 101.25, r.Float("PREVPRICE", 0), "numeric strings are cast")
	assert.Nil(t, r.OptDate("MATDATE"))
	assert.Equal(t, 3, r.Int("LISTLEVEL", 3), "non-numeric falls back to default")
	assert.Nil(t, r.OptFloat("ACCRUEDINT"), "empty string is absent")

	assert.False(t, tbl.Row(5).Valid())
}

func TestTableAppendAlignsColumns(t *testing.T) {
	var merged Table
	merged.Append(Table{Columns: []string{"SECID", "LAST"}, Data: [][]any{{"A", 100.0}}})
	merged.Append(Table{Columns: []string{"LAST", "EXTRA", "SECID"}, Data: [][]any{{99.0, "x", "B"}}})
	merged.Append(Table{Columns: []string{"SECID"}, Data: [][]any{{"C"}}})

	require.Equal(t, 3, merged.Len())
	assert.Equal(t, []string{"SECID", "LAST"}, merged.Columns)
	assert.Equal(t, "B", merged.Row(1).String("SECID"))
	assert.Equal(t, 99.0, merged.Row(1).Float("LAST", 0))
	assert.Nil(t, merged.Row(2).OptFloat("LAST"))
}

func TestFavoritesHas(t *testing.T) {
	var nilFavs Favorites
	assert.False(t, nilFavs.Has("X"))
	favs := Favorites{"X": {SecID: "X"}}
	assert.True(t, favs.Has("X"))
}

func TestDefaultMacroContext(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	m := DefaultMacroContext(now)
	assert.Equal(t, 21.0, m.KeyRate)
	assert.Equal(t, 9.0, m.Inflation)
	assert.Equal(t, civil.Date{Year: 2026, Month: time.October, Day: 16}, m.Date)
	assert.Equal(t, "default", m.Source)
}
