package utils

import (
	"regexp"
	"strings"
)

var (
	isinPattern  = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	secidPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,31}$`)
)

// NormalizeSecID canonicalizes user-typed instrument codes: trims, uppercases
// and strips a leading "$" as pasted from chats.
func NormalizeSecID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "$")
}

// IsISIN reports whether s looks like an ISIN (RU000A106HB4).
func IsISIN(s string) bool {
	return isinPattern.MatchString(NormalizeSecID(s))
}

// IsValidSecID reports whether s is a plausible ISS SECID.
func IsValidSecID(s string) bool {
	return secidPattern.MatchString(NormalizeSecID(s))
}

// IsOFZ reports whether a SECID belongs to a federal loan bond (SU26238RMFS4).
func IsOFZ(secid string) bool {
	return strings.HasPrefix(NormalizeSecID(secid), "SU")
}
