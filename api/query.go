package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// parseViewState overlays query parameters on base. Numbers that fail to
// parse are ignored and the base value is kept. Unknown enum values (sort
// field, order, tri-state, bond type) are errors.
func parseViewState(q url.Values, base models.ViewState) (models.ViewState, error) {
	vs := base
	f := &vs.Filters

	floatParam(q, "min_yield", &f.MinYield)
	floatParam(q, "max_price", &f.MaxPrice)
	floatParam(q, "min_volume", &f.MinVolume)
	intParam(q, "max_duration", &f.MaxDurationDays)
	intParam(q, "list_level", &f.ListLevel)
	intParam(q, "coupon_frequency", &f.CouponFrequency)

	if q.Has("q") {
		f.SearchText = q.Get("q")
	}
	if q.Has("currency") {
		f.Currency = strings.TrimSpace(q.Get("currency"))
	}
	if q.Has("bond_type") {
		bt, err := models.ParseBondType(q.Get("bond_type"))
		if err != nil {
			return vs, err
		}
		f.BondType = bt
	}
	for name, dst := range map[string]*models.TriState{
		"floater":   &f.Floater,
		"amortized": &f.Amortized,
		"has_offer": &f.HasOffer,
	} {
		if !q.Has(name) {
			continue
		}
		t, err := models.ParseTriState(q.Get(name))
		if err != nil {
			return vs, fmt.Errorf("%s: %w", name, err)
		}
		*dst = t
	}

	if v, ok := optInt(q, "offer_within_days"); ok {
		f.OfferWithinDays = &v
	}
	if v, ok := optFloat(q, "min_accrued"); ok {
		f.MinAccrued = &v
	}
	if v, ok := optFloat(q, "max_accrued"); ok {
		f.MaxAccrued = &v
	}
	boolParam(q, "best_buys", &f.BestBuysOnly)
	boolParam(q, "favorites_only", &f.FavoritesOnly)

	if q.Has("sort") {
		field, err := models.ParseSortField(q.Get("sort"))
		if err != nil {
			return vs, err
		}
		vs.Sort.Field = field
	}
	if q.Has("order") {
		order, err := models.ParseSortOrder(q.Get("order"))
		if err != nil {
			return vs, err
		}
		vs.Sort.Order = order
	}

	if n, ok := optInt(q, "page_size"); ok && n >= 0 {
		vs.PageSize = n
	}
	vs.Page = 1
	if n, ok := optInt(q, "page"); ok && n >= 1 {
		vs.Page = n
	}
	return vs, nil
}

func optFloat(q url.Values, name string) (float64, bool) {
	if !q.Has(name) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(q.Get(name)), ",", "."), 64)
	return v, err == nil
}

func optInt(q url.Values, name string) (int, bool) {
	if !q.Has(name) {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(q.Get(name)))
	return v, err == nil
}

func floatParam(q url.Values, name string, dst *float64) {
	if v, ok := optFloat(q, name); ok {
		*dst = v
	}
}

func intParam(q url.Values, name string, dst *int) {
	if v, ok := optInt(q, name); ok {
		*dst = v
	}
}

func boolParam(q url.Values, name string, dst *bool) {
	if !q.Has(name) {
		return
	}
	if v, err := strconv.ParseBool(q.Get(name)); err == nil {
		*dst = v
	}
}
