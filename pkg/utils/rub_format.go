// Package utils provides common utility functions for moexbonds.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatRUB formats an amount the Russian way: space-grouped thousands,
// comma decimal separator and a trailing ₽ (1234567.8 → "1 234 567,80 ₽").
func FormatRUB(amount float64) string {
	return formatGrouped(amount, 2) + " ₽"
}

// FormatRUBCompact formats large amounts with тыс/млн/млрд suffixes.
// e.g., 1500000 → "1,5 млн ₽"
func FormatRUBCompact(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 1e9:
		return trimDecimals(amount/1e9) + " млрд ₽"
	case abs >= 1e6:
		return trimDecimals(amount/1e6) + " млн ₽"
	case abs >= 1e3:
		return trimDecimals(amount/1e3) + " тыс ₽"
	default:
		return formatGrouped(amount, 0) + " ₽"
	}
}

// FormatPct formats a percentage with two decimals: 18.456 → "18,46%".
func FormatPct(pct float64) string {
	return strings.Replace(fmt.Sprintf("%.2f%%", pct), ".", ",", 1)
}

// FormatPrice formats a price quoted in % of face value: 98.5 → "98,50".
func FormatPrice(p float64) string {
	return formatGrouped(p, 2)
}

// formatGrouped renders n with the given decimals and space-separated
// thousands.
func formatGrouped(n float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, math.Abs(n))
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if n < 0 && strings.Trim(s, "0.") != "" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}

// trimDecimals formats with up to 2 decimals, removing trailing zeros.
func trimDecimals(n float64) string {
	s := fmt.Sprintf("%.2f", n)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return strings.Replace(s, ".", ",", 1)
}
