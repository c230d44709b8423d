package screener

import (
	"strings"

	"github.com/moexbonds/moexbonds/pkg/models"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

// NameHeuristicClassifier derives attributes the feed does not report
// directly from instrument names and free-text type fields.
//
// These are substring heuristics over Russian naming conventions and have
// known false positives: "ам" also occurs inside unrelated words, so some
// bullet bonds are flagged as amortizing.
type NameHeuristicClassifier interface {
	IsFloater(shortName string) bool
	IsAmortized(shortName string) bool
	BondType(b *models.Bond) models.BondTypeCategory
}

// DefaultHeuristics is the built-in NameHeuristicClassifier.
type DefaultHeuristics struct{}

var (
	// "ФЛ"/"ПК" (переменный купон), RUONIA and key-rate ("КС") linked names.
	floaterMarkers = []string{"фл", "пк", "ruonia", "кс"}
	// "Ам"/"аморт" mark amortizing principal.
	amortMarkers = []string{"ам", "аморт"}

	govTypeMarkers  = []string{"офз", "государствен", "ofz"}
	muniNameMarkers = []string{"мун", "обл", "город", "москов", "мос.", "спб"}
	muniTypeMarkers = []string{"муниципал", "субфедерал", "municipal", "subfederal"}
	hyTypeMarkers   = []string{"вдо", "высокодоход"}
)

// IsFloater reports a floating or variable coupon.
func (DefaultHeuristics) IsFloater(shortName string) bool {
	return containsAny(strings.ToLower(shortName), floaterMarkers)
}

// IsAmortized reports amortizing principal.
func (DefaultHeuristics) IsAmortized(shortName string) bool {
	return containsAny(strings.ToLower(shortName), amortMarkers)
}

// BondType assigns the first matching category in the order government,
// municipal, high-yield, corporate.
func (DefaultHeuristics) BondType(b *models.Bond) models.BondTypeCategory {
	name := strings.ToLower(b.ShortName)
	kind := strings.ToLower(deref(b.BondType) + " " + deref(b.BondSubType))

	switch {
	case utils.IsOFZ(b.SecID), strings.HasPrefix(name, "офз"), containsAny(kind, govTypeMarkers):
		return models.BondTypeGovernment
	case containsAny(name, muniNameMarkers), containsAny(kind, muniTypeMarkers):
		return models.BondTypeMunicipal
	case containsAny(kind, hyTypeMarkers), strings.Contains(name, "вдо"):
		return models.BondTypeHighYield
	default:
		return models.BondTypeCorporate
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
