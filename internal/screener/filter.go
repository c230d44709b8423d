package screener

import (
	"strings"

	"cloud.google.com/go/civil"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// Predicate evaluates a FilterConfig against bonds.
type Predicate struct {
	cfg        models.FilterConfig
	favorites  models.Favorites
	today      civil.Date
	heuristics NameHeuristicClassifier
	search     string
	currency   string
}

// NewPredicate prepares cfg for repeated evaluation. today anchors the
// offer-within window.
func NewPredicate(cfg models.FilterConfig, favorites models.Favorites, today civil.Date, h NameHeuristicClassifier) *Predicate {
	if h == nil {
		h = DefaultHeuristics{}
	}
	currency := strings.TrimSpace(cfg.Currency)
	if strings.EqualFold(currency, models.CurrencyAny) {
		currency = ""
	}
	return &Predicate{
		cfg:        cfg,
		favorites:  favorites,
		today:      today,
		heuristics: h,
		search:     strings.ToLower(strings.TrimSpace(cfg.SearchText)),
		currency:   models.NormalizeCurrency(currency),
	}
}

// Include reports whether b passes every constraint.
//
// When search text is set, the search match decides the outcome on its own
// and the best-buys check is skipped.
func (p *Predicate) Include(b *models.Bond) bool {
	cfg := p.cfg

	// Numeric ranges
	if b.Yield < cfg.MinYield {
		return false
	}
	if cfg.MaxPrice > 0 && b.Price > cfg.MaxPrice {
		return false
	}
	if b.Volume < cfg.MinVolume {
		return false
	}
	if cfg.MaxDurationDays > 0 && b.DurationDays > cfg.MaxDurationDays {
		return false
	}
	if b.AccruedInterest != nil {
		if cfg.MinAccrued != nil && *b.AccruedInterest < *cfg.MinAccrued {
			return false
		}
		if cfg.MaxAccrued != nil && *b.AccruedInterest > *cfg.MaxAccrued {
			return false
		}
	}

	// Categorical
	if cfg.ListLevel > 0 && b.ListLevel != cfg.ListLevel {
		return false
	}
	if p.currency != "" && b.Currency() != p.currency {
		return false
	}
	if cfg.CouponFrequency > 0 && b.CouponFrequency() != cfg.CouponFrequency {
		return false
	}
	if cfg.BondType != "" && cfg.BondType != models.BondTypeAny && p.heuristics.BondType(b) != cfg.BondType {
		return false
	}

	// Tri-states
	if !triAllows(cfg.Floater, b.IsFloater) || !triAllows(cfg.Amortized, b.IsAmortized) || !triAllows(cfg.HasOffer, b.HasOffer()) {
		return false
	}

	if cfg.OfferWithinDays != nil {
		if b.OfferDate == nil {
			return false
		}
		d := b.OfferDate.DaysSince(p.today)
		if d < 0 || d > *cfg.OfferWithinDays {
			return false
		}
	}

	if cfg.FavoritesOnly && !p.favorites.Has(b.SecID) {
		return false
	}

	if p.search != "" {
		return matchesSearch(b, p.search)
	}

	if cfg.BestBuysOnly && Classify(b) == models.RatingNone {
		return false
	}
	return true
}

// Filter returns the bonds passing p, in input order.
func (p *Predicate) Filter(bonds []models.Bond) []models.Bond {
	out := make([]models.Bond, 0, len(bonds))
	for i := range bonds {
		if p.Include(&bonds[i]) {
			out = append(out, bonds[i])
		}
	}
	return out
}

// Include is a one-off form of Predicate.Include using DefaultHeuristics.
func Include(b *models.Bond, cfg models.FilterConfig, favorites models.Favorites, today civil.Date) bool {
	return NewPredicate(cfg, favorites, today, nil).Include(b)
}

// Filter is a one-off form of Predicate.Filter using DefaultHeuristics.
func Filter(bonds []models.Bond, cfg models.FilterConfig, favorites models.Favorites, today civil.Date) []models.Bond {
	return NewPredicate(cfg, favorites, today, nil).Filter(bonds)
}

// triAllows treats the zero value as "all".
func triAllows(t models.TriState, v bool) bool {
	if t == "" {
		return true
	}
	return t.Allows(v)
}

func matchesSearch(b *models.Bond, term string) bool {
	for _, field := range []string{b.ShortName, b.SecID, b.FullName, b.ISIN, b.RegNumber} {
		if field != "" && strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}
