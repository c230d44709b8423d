package screener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moexbonds/moexbonds/pkg/models"
)

var (
	testNow   = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	testToday = civil.Date{Year: 2026, Month: time.October, Day: 16}
)

func fixedClock() time.Time { return testNow }

func mkBond(id string, mod func(b *models.Bond)) models.Bond {
	b := models.Bond{
		SecID:            id,
		ShortName:        id,
		Price:            100,
		Yield:            15,
		Volume:           100_000,
		ListLevel:        1,
		DurationDays:     500,
		CouponPeriodDays: 182,
		MaturityDate:     civil.Date{Year: 2028, Month: time.March, Day: 1},
	}
	if mod != nil {
		mod(&b)
	}
	return b
}

func ids(bonds []models.Bond) []string {
	out := make([]string, len(bonds))
	for i := range bonds {
		out[i] = bonds[i].SecID
	}
	return out
}

func ratedIDs(bonds []models.RatedBond) []string {
	out := make([]string, len(bonds))
	for i := range bonds {
		out[i] = bonds[i].SecID
	}
	return out
}

// ── Normalization ──

func TestNormalize(t *testing.T) {
	sec := models.Table{
		Columns: []string{"SECID", "SHORTNAME", "PREVLEGALCLOSEPRICE", "PREVPRICE", "YIELDATPREVWAPRICE", "MATDATE", "COUPONPERIOD", "LISTLEVEL"},
		Data: [][]any{
			{"A", "Альфа1Р1", 101.5, 100.0, 18.0, "2027-10-16", 182.0, 0.0},
			{"B", "БетаФл2", nil, 99.2, 15.0, "2027-01-01", 91.0, 2.0},
			{"", "Безымянная", 100.0, 100.0, 10.0, "2028-01-01", 182.0, 1.0},
			{"C", "Гамма", 100.0, 100.0, 10.0, "2026-10-16", 182.0, 1.0},
			{"D", "Дельта", nil, nil, 10.0, "2028-01-01", 182.0, 1.0},
			{"A", "Альфа1Р1", 90.0, 90.0, 30.0, "2027-10-16", 182.0, 1.0},
			{"E", "Эпсилон", 100.0, 100.0, 10.0, "0000-00-00", 182.0, 1.0},
		},
	}
	md := models.Table{
		Columns: []string{"SECID", "LAST", "YIELD", "VALTODAY"},
		Data: [][]any{
			{"A", 0.0, nil, 1000.0},
			{"B", nil, nil, nil},
			{"A", 555.0, 1.0, 1.0},
		},
	}

	bonds, stats := NewNormalizer(WithClock(fixedClock)).Normalize(sec, md)
	require.Equal(t, []string{"A", "B"}, ids(bonds))

	a := bonds[0]
	assert.Equal(t, 101.5, a.Price, "zero LAST falls back to previous legal close")
	assert.Equal(t, 18.0, a.Yield, "missing YIELD falls back to yield at prev WA price")
	assert.Equal(t, 1000.0, a.Volume, "first market data row wins")
	assert.Equal(t, 3, a.ListLevel, "list level 0 means 3")
	assert.Equal(t, 365, a.DurationDays)
	assert.Equal(t, 2, a.CouponFrequency())

	b := bonds[1]
	assert.Equal(t, 99.2, b.Price, "missing LAST and legal close fall back to PREVPRICE")
	assert.Equal(t, 0.0, b.Volume)
	assert.True(t, b.IsFloater)
	assert.Equal(t, 4, b.CouponFrequency())

	assert.Equal(t, 7, stats.Input)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 5, stats.RejectedTotal())
	assert.Equal(t, map[RejectReason]int{
		RejectNoSecID:    1,
		RejectMatured:    1,
		RejectNoPrice:    1,
		RejectDuplicate:  1,
		RejectNoMaturity: 1,
	}, stats.Rejected)
}

func TestNormalizeEmptyFeed(t *testing.T) {
	bonds, stats := NewNormalizer().Normalize(models.Table{}, models.Table{})
	assert.Empty(t, bonds)
	assert.Zero(t, stats.RejectedTotal())
}

func TestNormalizeIsDeterministic(t *testing.T) {
	sec := models.Table{
		Columns: []string{"SECID", "PREVPRICE", "MATDATE"},
		Data:    [][]any{{"X", 100.0, "2027-06-01"}, {"Y", 98.0, "2029-06-01"}},
	}
	n := NewNormalizer(WithClock(fixedClock))
	first, _ := n.Normalize(sec, models.Table{})
	second, _ := n.Normalize(sec, models.Table{})
	assert.Equal(t, first, second)
}

func TestDaysUntil(t *testing.T) {
	assert.Equal(t, 1, DaysUntil(testNow.Add(time.Hour), testNow))
	assert.Equal(t, 0, DaysUntil(testNow.Add(-time.Hour), testNow))
	assert.Equal(t, 2, DaysUntil(testNow.Add(48*time.Hour), testNow))
}

// ── Heuristics ──

func TestHeuristics(t *testing.T) {
	h := DefaultHeuristics{}
	assert.True(t, h.IsFloater("ГазпромКС1"))
	assert.True(t, h.IsFloater("ОФЗ 29014 ПК"))
	assert.False(t, h.IsFloater("Альфа1Р1"))
	assert.True(t, h.IsAmortized("Ам Сегежа"))
	assert.False(t, h.IsAmortized("Роснефть1"))

	gov := mkBond("SU26238RMFS4", func(b *models.Bond) { b.ShortName = "ОФЗ 26238" })
	muni := mkBond("RU000M", func(b *models.Bond) { b.ShortName = "МособлЗО" })
	hy := mkBond("RU000H", func(b *models.Bond) { b.ShortName = "СегежаВДО" })
	hyByType := mkBond("RU000T", func(b *models.Bond) { b.BondType = models.String("Высокодоходные облигации") })
	corp := mkBond("RU000C", func(b *models.Bond) { b.ShortName = "Роснефть1" })

	assert.Equal(t, models.BondTypeGovernment, h.BondType(&gov))
	assert.Equal(t, models.BondTypeMunicipal, h.BondType(&muni))
	assert.Equal(t, models.BondTypeHighYield, h.BondType(&hy))
	assert.Equal(t, models.BondTypeHighYield, h.BondType(&hyByType))
	assert.Equal(t, models.BondTypeCorporate, h.BondType(&corp))
}

// ── Rating ──

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		mod  func(b *models.Bond)
		want models.Rating
	}{
		{"gem beats safe", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield, b.Price, b.DurationDays = 1, 60_000, 21, 105, 900 }, models.RatingGem},
		{"gem beats safe and high yield", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield, b.Price = 1, 200_000, 25, 100 }, models.RatingGem},
		{"safe beats high yield", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield, b.Price, b.DurationDays = 2, 200_000, 25, 110, 900 }, models.RatingSafe},
		{"safe when price too high for gem", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield, b.Price, b.DurationDays = 2, 60_000, 21, 110, 900 }, models.RatingSafe},
		{"yield threshold is strict", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield, b.Price, b.DurationDays = 1, 60_000, 20, 100, 900 }, models.RatingSafe},
		{"high yield on low list level", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield = 3, 200_000, 25 }, models.RatingHighYield},
		{"nothing", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield = 3, 5_000, 12 }, models.RatingNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mkBond("X", tt.mod)
			assert.Equal(t, tt.want, Classify(&b))
		})
	}

	r := Rate(mkBond("X", func(b *models.Bond) { b.CouponPeriodDays = 0 }))
	assert.Equal(t, 0, r.CouponFrequency)
	assert.Equal(t, "RUB", r.Currency)
}

// ── Filtering ──

func scenarioBonds() []models.Bond {
	return []models.Bond{
		mkBond("A", func(b *models.Bond) {
			b.ListLevel, b.Volume, b.Yield, b.Price, b.DurationDays, b.CouponPeriodDays = 1, 60_000, 21, 105, 900, 182
		}),
		mkBond("B", func(b *models.Bond) {
			b.ListLevel, b.Volume, b.Yield, b.Price, b.DurationDays = 3, 5_000, 12, 99, 500
		}),
	}
}

func TestBestBuysScenario(t *testing.T) {
	vs := models.DefaultViewState()
	vs.Filters.BestBuysOnly = true
	vs.PageSize = 25

	r := NewPipeline(WithPipelineClock(fixedClock)).Run(scenarioBonds(), vs, nil)
	require.Equal(t, []string{"A"}, ratedIDs(r.Items))
	assert.Equal(t, models.RatingGem, r.Items[0].Rating)
	assert.Equal(t, 2, r.Items[0].CouponFrequency)
	assert.Equal(t, 1, r.TotalPages)
	assert.Equal(t, 1, r.ResultCount)
	assert.Equal(t, 2, r.TotalCount)
}

func TestDefaultFiltersRanges(t *testing.T) {
	bonds := []models.Bond{
		mkBond("ok", nil),
		mkBond("lowyield", func(b *models.Bond) { b.Yield = 9.99 }),
		mkBond("pricey", func(b *models.Bond) { b.Price = 105.01 }),
		mkBond("long", func(b *models.Bond) { b.DurationDays = 2001 }),
		mkBond("edge", func(b *models.Bond) { b.Yield, b.Price, b.DurationDays = 10, 105, 2000 }),
	}
	got := Filter(bonds, models.DefaultFilterConfig(), nil, testToday)
	assert.Equal(t, []string{"ok", "edge"}, ids(got))

	cfg := models.DefaultFilterConfig()
	cfg.MaxPrice, cfg.MaxDurationDays = 0, 0
	got = Filter(bonds, cfg, nil, testToday)
	assert.Equal(t, []string{"ok", "pricey", "long", "edge"}, ids(got), "zero bounds are unbounded")
}

func TestSearchBypassesBestBuys(t *testing.T) {
	cfg := models.DefaultFilterConfig()
	cfg.BestBuysOnly = true
	cfg.SearchText = "  b "

	got := Filter(scenarioBonds(), cfg, nil, testToday)
	assert.Equal(t, []string{"B"}, ids(got))

	cfg.SearchText = "zzz"
	assert.Empty(t, Filter(scenarioBonds(), cfg, nil, testToday))

	cfg.SearchText = "B"
	cfg.MinYield = 13
	assert.Empty(t, Filter(scenarioBonds(), cfg, nil, testToday), "range filters still apply before search")
}

func TestCategoricalFilters(t *testing.T) {
	usd := mkBond("USD1", func(b *models.Bond) { b.FaceUnit = models.String("USD") })
	rub := mkBond("RUB1", func(b *models.Bond) { b.CurrencyID = models.String("SUR") })
	lvl2 := mkBond("L2", func(b *models.Bond) { b.ListLevel = 2 })
	monthly := mkBond("M", func(b *models.Bond) { b.CouponPeriodDays = 30 })
	bonds := []models.Bond{usd, rub, lvl2, monthly}

	cfg := models.DefaultFilterConfig()
	cfg.Currency = "usd"
	assert.Equal(t, []string{"USD1"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.DefaultFilterConfig()
	cfg.Currency = "RUB"
	assert.Equal(t, []string{"RUB1", "L2", "M"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.DefaultFilterConfig()
	cfg.ListLevel = 2
	assert.Equal(t, []string{"L2"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.DefaultFilterConfig()
	cfg.CouponFrequency = 12
	assert.Equal(t, []string{"M"}, ids(Filter(bonds, cfg, nil, testToday)))

	ofz := mkBond("SU26238RMFS4", func(b *models.Bond) { b.ShortName = "ОФЗ 26238" })
	cfg = models.DefaultFilterConfig()
	cfg.BondType = models.BondTypeGovernment
	assert.Equal(t, []string{"SU26238RMFS4"}, ids(Filter(append(bonds, ofz), cfg, nil, testToday)))
}

func TestTriStateFilters(t *testing.T) {
	fl := mkBond("FL", func(b *models.Bond) { b.IsFloater = true })
	am := mkBond("AM", func(b *models.Bond) { b.IsAmortized = true })
	of := mkBond("OF", func(b *models.Bond) { b.OfferDate = models.Date(civil.Date{Year: 2027, Month: 1, Day: 1}) })
	plain := mkBond("P", nil)
	bonds := []models.Bond{fl, am, of, plain}

	cfg := models.DefaultFilterConfig()
	cfg.Floater = models.TriOnly
	assert.Equal(t, []string{"FL"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.DefaultFilterConfig()
	cfg.Amortized = models.TriExclude
	assert.Equal(t, []string{"FL", "OF", "P"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.DefaultFilterConfig()
	cfg.HasOffer = models.TriOnly
	assert.Equal(t, []string{"OF"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.FilterConfig{} // zero tri-states behave as "all"
	assert.Len(t, Filter(bonds, cfg, nil, testToday), 4)
}

func TestOfferWithinDays(t *testing.T) {
	offer := func(id string, d civil.Date) models.Bond {
		return mkBond(id, func(b *models.Bond) { b.OfferDate = models.Date(d) })
	}
	bonds := []models.Bond{
		offer("soon", civil.Date{Year: 2026, Month: 11, Day: 1}),
		offer("today", testToday),
		offer("late", civil.Date{Year: 2027, Month: 1, Day: 1}),
		offer("past", civil.Date{Year: 2026, Month: 10, Day: 1}),
		mkBond("none", nil),
	}
	cfg := models.DefaultFilterConfig()
	cfg.OfferWithinDays = models.Int(30)
	assert.Equal(t, []string{"soon", "today"}, ids(Filter(bonds, cfg, nil, testToday)))
}

func TestAccruedBounds(t *testing.T) {
	bonds := []models.Bond{
		mkBond("low", func(b *models.Bond) { b.AccruedInterest = models.Float64(5) }),
		mkBond("high", func(b *models.Bond) { b.AccruedInterest = models.Float64(50) }),
		mkBond("unknown", nil),
	}
	cfg := models.DefaultFilterConfig()
	cfg.MinAccrued = models.Float64(10)
	assert.Equal(t, []string{"high", "unknown"}, ids(Filter(bonds, cfg, nil, testToday)))

	cfg = models.DefaultFilterConfig()
	cfg.MaxAccrued = models.Float64(10)
	assert.Equal(t, []string{"low", "unknown"}, ids(Filter(bonds, cfg, nil, testToday)))
}

func TestFavoritesOnly(t *testing.T) {
	bonds := scenarioBonds()
	cfg := models.DefaultFilterConfig()
	cfg.FavoritesOnly = true

	assert.Empty(t, Filter(bonds, cfg, nil, testToday))
	favs := models.Favorites{"B": bonds[1]}
	assert.Equal(t, []string{"B"}, ids(Filter(bonds, cfg, favs, testToday)))
}

// ── Sorting ──

func TestSortStableDescending(t *testing.T) {
	bonds := []models.Bond{
		mkBond("A", func(b *models.Bond) { b.Yield = 15 }),
		mkBond("B", func(b *models.Bond) { b.Yield = 20 }),
		mkBond("C", func(b *models.Bond) { b.Yield = 15 }),
	}
	got := Sort(bonds, models.SortKey{Field: models.SortYield, Order: models.Desc})
	assert.Equal(t, []string{"B", "A", "C"}, ids(got))

	got = Sort(bonds, models.SortKey{Field: models.SortYield, Order: models.Asc})
	assert.Equal(t, []string{"A", "C", "B"}, ids(got))
	assert.Equal(t, []string{"A", "B", "C"}, ids(bonds), "input is not reordered")
}

func TestSortByNameUsesRussianCollation(t *testing.T) {
	bonds := []models.Bond{
		mkBond("1", func(b *models.Bond) { b.ShortName = "Вега" }),
		mkBond("2", func(b *models.Bond) { b.ShortName = "банк" }),
		mkBond("3", func(b *models.Bond) { b.ShortName = "Альфа" }),
	}
	got := Sort(bonds, models.SortKey{Field: models.SortShortName, Order: models.Asc})
	assert.Equal(t, []string{"3", "2", "1"}, ids(got))
}

func TestSortByMaturityAndFrequency(t *testing.T) {
	early := mkBond("early", func(b *models.Bond) { b.MaturityDate = civil.Date{Year: 2027, Month: 1, Day: 1}; b.CouponPeriodDays = 91 })
	late := mkBond("late", func(b *models.Bond) { b.MaturityDate = civil.Date{Year: 2030, Month: 1, Day: 1}; b.CouponPeriodDays = 182 })
	bonds := []models.Bond{late, early}

	assert.Equal(t, []string{"early", "late"}, ids(Sort(bonds, models.SortKey{Field: models.SortMaturity, Order: models.Asc})))
	assert.Equal(t, []string{"early", "late"}, ids(Sort(bonds, models.SortKey{Field: models.SortCouponFrequency, Order: models.Desc})))
	assert.Positive(t, Compare(&late, &early, models.SortKey{Field: models.SortMaturity, Order: models.Asc}))
}

// ── Pagination ──

func TestPaginate(t *testing.T) {
	xs := make([]int, 51)
	for i := range xs {
		xs[i] = i + 1
	}

	p := Paginate(xs, 25, 3)
	assert.Equal(t, []int{51}, p.Items)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 51, p.From)
	assert.Equal(t, 51, p.To)

	p = Paginate(xs, 25, 7)
	assert.Equal(t, 1, p.Page, "out of range clamps to the first page")
	assert.Equal(t, 1, p.Items[0])

	p = Paginate(xs, models.PageSizeAll, 4)
	assert.Len(t, p.Items, 51)
	assert.Equal(t, 1, p.TotalPages)

	empty := Paginate([]int{}, 10, 1)
	assert.Empty(t, empty.Items)
	assert.Equal(t, 1, empty.TotalPages)
	assert.Zero(t, empty.From)

	assert.Equal(t, 3, TotalPages(51, 25))
	assert.Equal(t, 1, TotalPages(0, 25))
}

func TestPaginateCoversEveryItemOnce(t *testing.T) {
	xs := make([]int, 37)
	for i := range xs {
		xs[i] = i
	}
	for _, size := range []int{1, 10, 25, 36, 37, 100} {
		var seen []int
		for page := 1; page <= TotalPages(len(xs), size); page++ {
			seen = append(seen, Paginate(xs, size, page).Items...)
		}
		assert.Equal(t, xs, seen, "page size %d", size)
	}
}

// ── Pipeline & session ──

func manyBonds(n int) []models.Bond {
	out := make([]models.Bond, n)
	for i := range out {
		out[i] = mkBond(fmt.Sprintf("B%03d", i), func(b *models.Bond) { b.Volume = float64(1000 + i) })
	}
	return out
}

func TestPipelineIsIdempotent(t *testing.T) {
	set := manyBonds(40)
	p := NewPipeline(WithPipelineClock(fixedClock))
	vs := models.DefaultViewState()

	first := p.Run(set, vs, nil)
	second := p.Run(set, vs, nil)
	assert.Equal(t, first, second)
	assert.Equal(t, "B039", first.Items[0].SecID, "volume descending by default")
	assert.Equal(t, "B000", set[0].SecID)
	assert.InDelta(t, 15.0, first.AvgYield, 1e-9)
}

func TestFilterIsIdempotent(t *testing.T) {
	set := append(scenarioBonds(), manyBonds(12)...)
	set = append(set,
		mkBond("RU000FLT", func(b *models.Bond) { b.ShortName, b.IsFloater, b.Yield = "ОФЗ 29025", true, 22 }),
		mkBond("RU000HY", func(b *models.Bond) { b.ListLevel, b.Volume, b.Yield, b.Price = 3, 300_000, 30, 90 }),
	)
	favs := models.Favorites{"B003": {SecID: "B003"}, "RU000HY": {SecID: "RU000HY"}}

	configs := map[string]models.FilterConfig{
		"defaults": models.DefaultFilterConfig(),
		"search with best buys and tri-state": func() models.FilterConfig {
			c := models.DefaultFilterConfig()
			c.SearchText = "b0"
			c.BestBuysOnly = true
			c.Floater = models.TriExclude
			return c
		}(),
		"best buys only": func() models.FilterConfig {
			c := models.DefaultFilterConfig()
			c.BestBuysOnly = true
			c.MinYield = 0
			return c
		}(),
		"favorites and floaters only": func() models.FilterConfig {
			c := models.DefaultFilterConfig()
			c.FavoritesOnly = true
			c.Floater = models.TriOnly
			return c
		}(),
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			once := Filter(set, cfg, favs, testToday)
			twice := Filter(once, cfg, favs, testToday)
			assert.Equal(t, ids(once), ids(twice))
		})
	}
}

func TestSessionSortToggle(t *testing.T) {
	s := NewSession(models.DefaultViewState())
	s.ToggleSort(models.SortVolume)
	assert.Equal(t, models.SortKey{Field: models.SortVolume, Order: models.Asc}, s.State().Sort)
	s.ToggleSort(models.SortVolume)
	assert.Equal(t, models.Desc, s.State().Sort.Order)
	s.ToggleSort(models.SortYield)
	assert.Equal(t, models.SortKey{Field: models.SortYield, Order: models.Desc}, s.State().Sort)
}

func TestSessionPaging(t *testing.T) {
	p := NewPipeline(WithPipelineClock(fixedClock))
	set := manyBonds(60)
	s := NewSession(models.DefaultViewState())

	r := s.Recompute(p, set, nil)
	require.Equal(t, 3, r.TotalPages)

	assert.False(t, s.GoToPage(4))
	assert.False(t, s.GoToPage(0))
	assert.False(t, s.GoToPageInput("two"))
	assert.True(t, s.GoToPageInput(" 2 "))
	r = s.Recompute(p, set, nil)
	assert.Equal(t, 2, r.Page)
	assert.Equal(t, 26, r.From)

	r = s.Recompute(p, set[:55], nil)
	assert.Equal(t, 1, r.Page, "a changed result count returns to the first page")

	require.True(t, s.GoToPage(2))
	s.UpdateFilters(func(f *models.FilterConfig) { f.MinYield = 5 })
	assert.Equal(t, 1, s.State().Page)

	require.True(t, s.GoToPage(2))
	assert.True(t, s.SetPageSize(models.PageSizeAll))
	assert.Equal(t, 1, s.State().Page)
	assert.False(t, s.SetPageSize(-1))
}

func TestSessionApplyPreset(t *testing.T) {
	s := NewSession(models.DefaultViewState())
	preset := models.Preset{
		Name:    "short gems",
		Filters: models.FilterConfig{MinYield: 18, BestBuysOnly: true},
		Sort:    models.SortKey{Field: models.SortDuration, Order: models.Asc},
	}
	s.ApplyPreset(preset)
	assert.Equal(t, preset.Filters, s.State().Filters)
	assert.Equal(t, preset.Sort, s.State().Sort)
	assert.Equal(t, 1, s.State().Page)
}

func TestSessionApplyPresetIncompleteSort(t *testing.T) {
	s := NewSession(models.DefaultViewState())
	s.ApplyPreset(models.Preset{Name: "no sort"})
	assert.Equal(t, models.DefaultSortKey(), s.State().Sort, "empty sort keeps the current one")

	s.ApplyPreset(models.Preset{Name: "no order", Sort: models.SortKey{Field: models.SortYield}})
	assert.Equal(t, models.SortKey{Field: models.SortYield, Order: models.Desc}, s.State().Sort)
}

// ── Working set & service ──

func TestWorkingSetDiscardsStaleCommit(t *testing.T) {
	var ws WorkingSet
	older, newer := ws.Begin(), ws.Begin()

	require.True(t, ws.Commit(newer, NewSnapshot(manyBonds(2), testNow, "direct", nil, NormalizeStats{})))
	assert.False(t, ws.Commit(older, NewSnapshot(manyBonds(5), testNow, "direct", nil, NormalizeStats{})))
	assert.Equal(t, newer, ws.Current().Seq)
	assert.Equal(t, 2, ws.Current().Len())
}

type stubFeed struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*models.Feed, error)
}

func (s *stubFeed) FetchFeed(context.Context) (*models.Feed, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

func testFeed(secids ...string) *models.Feed {
	sec := models.Table{Columns: []string{"SECID", "SHORTNAME", "PREVPRICE", "YIELDATPREVWAPRICE", "MATDATE"}}
	for _, id := range secids {
		sec.Data = append(sec.Data, []any{id, "Облигация " + id, 100.0, 15.0, "2028-01-01"})
	}
	return &models.Feed{Securities: sec, FetchedAt: testNow, Source: "direct", Boards: []string{"TQCB"}}
}

type cachingFeed struct {
	stubFeed
	invalidated int
}

func (c *cachingFeed) Invalidate(context.Context) {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
}

func TestServiceForceRefreshInvalidates(t *testing.T) {
	feed := &cachingFeed{stubFeed: stubFeed{fn: func(int) (*models.Feed, error) { return testFeed("X"), nil }}}
	svc := NewService(feed, WithNormalizer(NewNormalizer(WithClock(fixedClock))))

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, feed.invalidated, "plain refresh keeps caches")

	info, err := svc.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, feed.invalidated)
	assert.Equal(t, 1, info.Count)
	assert.Equal(t, 2, feed.calls)

	// Sources without a cache are refreshed as usual.
	plain := NewService(&stubFeed{fn: func(int) (*models.Feed, error) { return testFeed("X", "Y"), nil }})
	info, err = plain.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
}

func TestServiceRefreshAndLookup(t *testing.T) {
	feed := &stubFeed{fn: func(call int) (*models.Feed, error) {
		if call == 2 {
			return nil, errors.New("upstream down")
		}
		return testFeed("X", "Y"), nil
	}}
	svc := NewService(feed, WithNormalizer(NewNormalizer(WithClock(fixedClock))))

	_, err := svc.Lookup("X")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	var events []RefreshEvent
	svc.OnRefresh(func(ev RefreshEvent) { events = append(events, ev) })

	info, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, "direct", info.Source)

	rb, err := svc.Lookup("X")
	require.NoError(t, err)
	assert.Equal(t, "Облигация X", rb.ShortName)

	_, err = svc.Lookup("Z")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, svc.Snapshot().Count, "failed refresh keeps the previous working set")

	require.Len(t, events, 2)
	assert.NoError(t, events[0].Err)
	assert.Error(t, events[1].Err)

	r := svc.View(models.DefaultViewState(), nil)
	assert.Equal(t, 2, r.ResultCount)
}

func TestServiceDiscardsSlowRefresh(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	feed := &stubFeed{fn: func(call int) (*models.Feed, error) {
		if call == 1 {
			close(started)
			<-release
			return testFeed("OLD"), nil
		}
		return testFeed("NEW1", "NEW2"), nil
	}}
	svc := NewService(feed, WithNormalizer(NewNormalizer(WithClock(fixedClock))))

	done := make(chan SnapshotInfo)
	go func() {
		info, _ := svc.Refresh(context.Background())
		done <- info
	}()
	<-started

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	close(release)
	<-done

	assert.Equal(t, 2, svc.Snapshot().Count)
	_, err = svc.Lookup("OLD")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureLoaded(t *testing.T) {
	feed := &stubFeed{fn: func(int) (*models.Feed, error) { return testFeed("X"), nil }}
	svc := NewService(feed)
	require.NoError(t, svc.EnsureLoaded(context.Background()))
	require.NoError(t, svc.EnsureLoaded(context.Background()))
	assert.Equal(t, 1, feed.calls)
}
