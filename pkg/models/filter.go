package models

import (
	"fmt"
	"strings"
)

// TriState is an all/only/exclude toggle for a boolean attribute.
type TriState string

const (
	TriAll     TriState = "all"
	TriOnly    TriState = "only"
	TriExclude TriState = "exclude"
)

// ParseTriState parses a tri-state value; the empty string means TriAll.
func ParseTriState(s string) (TriState, error) {
	switch TriState(strings.ToLower(strings.TrimSpace(s))) {
	case "", TriAll:
		return TriAll, nil
	case TriOnly:
		return TriOnly, nil
	case TriExclude:
		return TriExclude, nil
	}
	return TriAll, fmt.Errorf("invalid tri-state %q (want all, only or exclude)", s)
}

// Allows reports whether a record with flag value v passes the toggle.
func (t TriState) Allows(v bool) bool {
	switch t {
	case TriOnly:
		return v
	case TriExclude:
		return !v
	default:
		return true
	}
}

// BondTypeCategory is the heuristic issuer category of a bond.
type BondTypeCategory string

const (
	BondTypeAny        BondTypeCategory = "all"
	BondTypeGovernment BondTypeCategory = "government"
	BondTypeMunicipal  BondTypeCategory = "municipal"
	BondTypeHighYield  BondTypeCategory = "high_yield"
	BondTypeCorporate  BondTypeCategory = "corporate"
)

// ParseBondType parses a bond-type category; the empty string means any.
func ParseBondType(s string) (BondTypeCategory, error) {
	switch BondTypeCategory(strings.ToLower(strings.TrimSpace(s))) {
	case "", BondTypeAny:
		return BondTypeAny, nil
	case BondTypeGovernment, "ofz", "gov":
		return BondTypeGovernment, nil
	case BondTypeMunicipal, "muni":
		return BondTypeMunicipal, nil
	case BondTypeHighYield, "hy", "vdo":
		return BondTypeHighYield, nil
	case BondTypeCorporate, "corp":
		return BondTypeCorporate, nil
	}
	return BondTypeAny, fmt.Errorf("invalid bond type %q", s)
}

// CurrencyAny disables the currency filter.
const CurrencyAny = "all"

// FilterConfig is the flat set of independent constraints applied to the
// working set. Zero values are permissive except the numeric bounds, whose
// product defaults come from configuration.
type FilterConfig struct {
	MinYield        float64 `json:"min_yield"         yaml:"min_yield"         mapstructure:"min_yield"`
	MaxPrice        float64 `json:"max_price"         yaml:"max_price"         mapstructure:"max_price"`
	MinVolume       float64 `json:"min_volume"        yaml:"min_volume"        mapstructure:"min_volume"`
	MaxDurationDays int     `json:"max_duration_days" yaml:"max_duration_days" mapstructure:"max_duration_days"`
	SearchText      string  `json:"search_text"       yaml:"search_text"       mapstructure:"search_text"`

	ListLevel       int              `json:"list_level"       yaml:"list_level"       mapstructure:"list_level"`       // 0 = any
	CouponFrequency int              `json:"coupon_frequency" yaml:"coupon_frequency" mapstructure:"coupon_frequency"` // 0 = any
	Currency        string           `json:"currency"         yaml:"currency"         mapstructure:"currency"`         // "" or "all" = any
	BondType        BondTypeCategory `json:"bond_type"        yaml:"bond_type"        mapstructure:"bond_type"`

	Floater   TriState `json:"floater"   yaml:"floater"   mapstructure:"floater"`
	Amortized TriState `json:"amortized" yaml:"amortized" mapstructure:"amortized"`
	HasOffer  TriState `json:"has_offer" yaml:"has_offer" mapstructure:"has_offer"`

	OfferWithinDays *int     `json:"offer_within_days,omitempty" yaml:"offer_within_days,omitempty" mapstructure:"offer_within_days"`
	MinAccrued      *float64 `json:"min_accrued,omitempty"       yaml:"min_accrued,omitempty"       mapstructure:"min_accrued"`
	MaxAccrued      *float64 `json:"max_accrued,omitempty"       yaml:"max_accrued,omitempty"       mapstructure:"max_accrued"`

	BestBuysOnly  bool `json:"best_buys_only"  yaml:"best_buys_only"  mapstructure:"best_buys_only"`
	FavoritesOnly bool `json:"favorites_only"  yaml:"favorites_only"  mapstructure:"favorites_only"`
}

// DefaultFilterConfig returns the product defaults used by the dashboard.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinYield:        10,
		MaxPrice:        105,
		MinVolume:       0,
		MaxDurationDays: 2000,
		Currency:        CurrencyAny,
		BondType:        BondTypeAny,
		Floater:         TriAll,
		Amortized:       TriAll,
		HasOffer:        TriAll,
	}
}

// Favorites maps SECID to the bond snapshot saved when it was starred.
type Favorites map[string]Bond

// Has reports whether secid is a favorite. A nil set has no favorites.
func (f Favorites) Has(secid string) bool {
	_, ok := f[secid]
	return ok
}
