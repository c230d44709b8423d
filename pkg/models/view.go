package models

import (
	"fmt"
	"strings"
)

// SortField names a sortable bond attribute.
type SortField string

const (
	SortPrice           SortField = "price"
	SortYield           SortField = "yield"
	SortCouponPercent   SortField = "couponPercent"
	SortMaturity        SortField = "maturity"
	SortVolume          SortField = "volume"
	SortListLevel       SortField = "listLevel"
	SortCouponFrequency SortField = "couponFrequency"
	SortShortName       SortField = "shortname"
	SortDuration        SortField = "duration"
)

// SortFields lists every accepted sort field in display order.
var SortFields = []SortField{
	SortYield, SortPrice, SortCouponPercent, SortMaturity, SortVolume,
	SortListLevel, SortCouponFrequency, SortShortName, SortDuration,
}

// ParseSortField resolves a field name case-insensitively. Snake-case
// spellings ("coupon_percent") are accepted too.
func ParseSortField(s string) (SortField, error) {
	want := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	for _, f := range SortFields {
		if strings.ToLower(string(f)) == want {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// SortOrder is ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// ParseSortOrder parses "asc" or "desc"; the empty string means Desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", Desc:
		return Desc, nil
	case Asc:
		return Asc, nil
	}
	return "", fmt.Errorf("unknown sort order %q", s)
}

// Flip returns the opposite order.
func (o SortOrder) Flip() SortOrder {
	if o == Asc {
		return Desc
	}
	return Asc
}

// SortKey is the active sort.
type SortKey struct {
	Field SortField `json:"field" yaml:"field" mapstructure:"field"`
	Order SortOrder `json:"order" yaml:"order" mapstructure:"order"`
}

// DefaultSortKey sorts by traded volume, highest first.
func DefaultSortKey() SortKey {
	return SortKey{Field: SortVolume, Order: Desc}
}

func (k SortKey) String() string {
	return string(k.Field) + " " + string(k.Order)
}

// PageSizeAll shows the whole result on one page.
const PageSizeAll = 0

// PageSizes are the page sizes offered to users.
var PageSizes = []int{10, 25, 50, 100, PageSizeAll}

// ViewState is everything that determines which slice of the working set
// is shown. It is passed by value; nothing mutates it behind the caller.
type ViewState struct {
	Filters  FilterConfig `json:"filters"`
	Sort     SortKey      `json:"sort"`
	PageSize int          `json:"page_size"` // PageSizeAll or a positive count
	Page     int          `json:"page"`      // 1-based
}

// DefaultViewState returns the initial dashboard view.
func DefaultViewState() ViewState {
	return ViewState{
		Filters:  DefaultFilterConfig(),
		Sort:     DefaultSortKey(),
		PageSize: 25,
		Page:     1,
	}
}
