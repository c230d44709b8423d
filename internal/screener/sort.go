package screener

import (
	"cmp"
	"slices"

	"cloud.google.com/go/civil"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// Comparator orders bonds by a SortKey. A Comparator holds a collator and
// must not be shared between goroutines.
type Comparator struct {
	key      models.SortKey
	collator *collate.Collator
}

// NewComparator creates a comparator for key. Strings compare with Russian
// collation rules, case-insensitively.
func NewComparator(key models.SortKey) *Comparator {
	return &Comparator{
		key:      key,
		collator: collate.New(language.Russian, collate.IgnoreCase),
	}
}

// Compare returns -1, 0 or 1. Descending order inverts the result.
func (c *Comparator) Compare(a, b *models.Bond) int {
	r := c.compareAsc(a, b)
	if c.key.Order == models.Desc {
		return -r
	}
	return r
}

func (c *Comparator) compareAsc(a, b *models.Bond) int {
	switch c.key.Field {
	case models.SortPrice:
		return cmp.Compare(a.Price, b.Price)
	case models.SortYield:
		return cmp.Compare(a.Yield, b.Yield)
	case models.SortCouponPercent:
		return cmp.Compare(a.CouponPercent, b.CouponPercent)
	case models.SortMaturity:
		return compareDates(a.MaturityDate, b.MaturityDate)
	case models.SortVolume:
		return cmp.Compare(a.Volume, b.Volume)
	case models.SortListLevel:
		return cmp.Compare(a.ListLevel, b.ListLevel)
	case models.SortCouponFrequency:
		return cmp.Compare(a.CouponFrequency(), b.CouponFrequency())
	case models.SortDuration:
		return cmp.Compare(a.DurationDays, b.DurationDays)
	case models.SortShortName:
		return c.collator.CompareString(a.ShortName, b.ShortName)
	default:
		return 0
	}
}

func compareDates(a, b civil.Date) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// Compare orders a and b by key.
func Compare(a, b *models.Bond, key models.SortKey) int {
	return NewComparator(key).Compare(a, b)
}

// Sort returns a new slice ordered by key. The sort is stable, so equal
// keys keep their input order.
func Sort(bonds []models.Bond, key models.SortKey) []models.Bond {
	out := slices.Clone(bonds)
	c := NewComparator(key)
	slices.SortStableFunc(out, func(a, b models.Bond) int {
		return c.Compare(&a, &b)
	})
	return out
}
