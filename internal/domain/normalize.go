package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHumanName trims leading/trailing whitespace and collapses internal whitespace runs.
// The result is NFC-normalized so that visually identical names compare equal.
func NormalizeHumanName(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// NormalizeEmail trims whitespace and lower-cases the address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FoldForSearch case-folds s for case-insensitive matching (e.g. "Straße" matches "STRASSE").
// A Caser is stateful, so a fresh one is used per call.
func FoldForSearch(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
