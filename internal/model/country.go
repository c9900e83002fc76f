package model

import "strings"

// countryISO maps common country names to ISO 3166-1 alpha-2 codes.
// Only countries that appear in ownership research with any frequency are
// listed; unknown names get no flag.
var countryISO = map[string]string{
	"united states":  "US",
	"usa":            "US",
	"united kingdom": "GB",
	"uk":             "GB",
	"switzerland":    "CH",
	"germany":        "DE",
	"france":         "FR",
	"netherlands":    "NL",
	"denmark":        "DK",
	"norway":         "NO",
	"sweden":         "SE",
	"finland":        "FI",
	"italy":          "IT",
	"spain":          "ES",
	"japan":          "JP",
	"china":          "CN",
	"south korea":    "KR",
	"canada":         "CA",
	"australia":      "AU",
	"brazil":         "BR",
	"india":          "IN",
	"ireland":        "IE",
	"belgium":        "BE",
	"austria":        "AT",
	"luxembourg":     "LU",
	"mexico":         "MX",
}

// CountryFlag returns the flag emoji for a country name, or "" when the
// country is unknown.
func CountryFlag(country string) string {
	iso, ok := countryISO[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return ""
	}
	// Regional indicator symbols: 'A' maps to U+1F1E6.
	r1 := rune(0x1F1E6 + rune(iso[0]) - 'A')
	r2 := rune(0x1F1E6 + rune(iso[1]) - 'A')
	return string([]rune{r1, r2})
}
