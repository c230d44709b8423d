package screener

import "github.com/moexbonds/moexbonds/pkg/models"

// Rating thresholds. Volumes are in RUB traded today, yields and prices in
// percent.
const (
	gemMaxLevel  = 2
	gemMinVolume = 50_000
	gemMinYield  = 20
	gemMaxPrice  = 108

	safeMaxLevel    = 2
	safeMinVolume   = 50_000
	safeMinYield    = 16
	safeMaxDuration = 1200

	hyMinYield  = 24
	hyMinVolume = 100_000
)

// Classify assigns the "best buy" category. The first matching rule wins:
// GEM, then SAFE, then HIGH_YIELD. Bonds matching none get RatingNone.
func Classify(b *models.Bond) models.Rating {
	switch {
	case b.ListLevel <= gemMaxLevel && b.Volume > gemMinVolume && b.Yield > gemMinYield && b.Price < gemMaxPrice:
		return models.RatingGem
	case b.ListLevel <= safeMaxLevel && b.Volume > safeMinVolume && b.Yield > safeMinYield && b.DurationDays < safeMaxDuration:
		return models.RatingSafe
	case b.Yield > hyMinYield && b.Volume > hyMinVolume:
		return models.RatingHighYield
	default:
		return models.RatingNone
	}
}

// Rate wraps b with its rating and the derived display fields.
func Rate(b models.Bond) models.RatedBond {
	return models.RatedBond{
		Bond:            b,
		Rating:          Classify(&b),
		CouponFrequency: b.CouponFrequency(),
		Currency:        b.Currency(),
	}
}
