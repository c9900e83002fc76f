package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// NormalizeName canonicalizes a brand or company name for use as a cache
// or similarity key: Unicode NFC, case folding, collapsed whitespace.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	s = foldCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}
