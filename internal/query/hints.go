package query

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ownedby/ownership-cli/internal/model"
)

var titleCaser = cases.Title(language.Und)

// countryProfiles drive hint expansion: legal entity suffixes and company
// registries worth searching for brands tied to a country.
var countryProfiles = map[string]struct {
	suffixes   []string
	registries []string
}{
	"denmark":        {suffixes: []string{"A/S", "ApS"}, registries: []string{"CVR registry", "virk.dk"}},
	"germany":        {suffixes: []string{"GmbH", "AG"}, registries: []string{"Handelsregister", "unternehmensregister.de"}},
	"sweden":         {suffixes: []string{"AB"}, registries: []string{"Bolagsverket"}},
	"norway":         {suffixes: []string{"AS", "ASA"}, registries: []string{"Brønnøysundregistrene"}},
	"france":         {suffixes: []string{"S.A.", "SARL"}, registries: []string{"Infogreffe"}},
	"netherlands":    {suffixes: []string{"B.V.", "N.V."}, registries: []string{"KVK register"}},
	"switzerland":    {suffixes: []string{"AG", "S.A."}, registries: []string{"Zefix"}},
	"united kingdom": {suffixes: []string{"Ltd", "PLC"}, registries: []string{"Companies House"}},
	"united states":  {suffixes: []string{"Inc", "LLC", "Corp"}, registries: []string{"SEC EDGAR"}},
	"japan":          {suffixes: []string{"K.K.", "Co., Ltd."}, registries: []string{"NTA corporate number"}},
	"italy":          {suffixes: []string{"S.p.A.", "S.r.l."}, registries: []string{"Registro Imprese"}},
	"spain":          {suffixes: []string{"S.A.", "S.L."}, registries: []string{"Registro Mercantil"}},
}

// productTypes map context keywords to a coarse product category and the
// industry terms that sharpen ownership searches for it.
var productTypes = []struct {
	keywords []string
	category string
	industry []string
}{
	{[]string{"snack", "chips", "crisps", "pork rinds", "candy", "chocolate", "biscuit", "cookie"}, "snack food", []string{"food manufacturer", "snack producer"}},
	{[]string{"beer", "wine", "soda", "cola", "juice", "drink", "beverage", "coffee", "tea"}, "beverage", []string{"beverage company", "brewery"}},
	{[]string{"shampoo", "soap", "deodorant", "lotion", "cosmetic", "toothpaste"}, "personal care", []string{"consumer goods company", "personal care brand"}},
	{[]string{"detergent", "cleaner", "household"}, "household goods", []string{"consumer goods company"}},
	{[]string{"toy", "game", "lego"}, "toys", []string{"toy manufacturer"}},
	{[]string{"dairy", "milk", "cheese", "yogurt", "butter"}, "dairy", []string{"dairy cooperative", "dairy producer"}},
	{[]string{"clothing", "apparel", "shoes", "sneaker", "fashion"}, "apparel", []string{"fashion group", "apparel company"}},
	{[]string{"electronics", "phone", "laptop", "appliance"}, "electronics", []string{"electronics manufacturer"}},
}

var countryPattern = regexp.MustCompile(`(?i)\b(?:from|made in|produced in|based in|origin[:\s]+)\s+([A-Za-zÀ-ÿ][A-Za-zÀ-ÿ .]{1,30}?)(?:[,.!?]|\s+(?:i|I)\s+think\b|$)`)

// ParseHints extracts structured research hints from a request's
// free-text context. Purely deterministic: no model call is spent before
// the query budget is committed.
func ParseHints(context string) *model.Hints {
	h := &model.Hints{}
	text := strings.TrimSpace(context)
	if text == "" {
		return h
	}
	lower := strings.ToLower(text)

	if m := countryPattern.FindStringSubmatch(text); m != nil {
		country := strings.TrimSpace(m[1])
		h.CountryGuess = titleCaser.String(strings.ToLower(country))
		if profile, ok := countryProfiles[strings.ToLower(country)]; ok {
			h.EntitySuffixes = profile.suffixes
			h.RegistryHints = profile.registries
		}
	}

	for _, pt := range productTypes {
		for _, kw := range pt.keywords {
			if strings.Contains(lower, kw) {
				h.ProductType = pt.category
				h.IndustryHints = pt.industry
				return h
			}
		}
	}
	return h
}
