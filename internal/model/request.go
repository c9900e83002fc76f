package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ResearchRequest identifies a product whose ultimate owner should be
// resolved. Brand is the only mandatory field; barcode and product name
// narrow the cache key when present.
type ResearchRequest struct {
	Barcode     string `json:"barcode,omitempty"`
	Brand       string `json:"brand"`
	ProductName string `json:"product_name,omitempty"`

	// Context carries free-text hints supplied by the caller (or extracted
	// upstream from an image), e.g. "pork rinds from Denmark I think".
	Context string `json:"context,omitempty"`

	// Evaluation marks the request as part of an evaluation run; results
	// are still produced normally but tagged in the trace.
	Evaluation bool `json:"evaluation,omitempty"`

	// FollowUp forces a re-run that ignores previously cached negative
	// results. Cached positive results are still honored.
	FollowUp bool `json:"follow_up,omitempty"`
}

// Validate rejects requests the pipeline cannot act on.
func (r ResearchRequest) Validate() error {
	if strings.TrimSpace(r.Brand) == "" {
		return eris.New("request: brand is required")
	}
	return nil
}

// Hints is the structured form of a request's free-text context, produced
// by the query builder's hint parser.
type Hints struct {
	CountryGuess   string   `json:"country_guess,omitempty"`
	ProductType    string   `json:"product_type,omitempty"`
	EntitySuffixes []string `json:"likely_entity_suffixes,omitempty"`
	IndustryHints  []string `json:"industry_hints,omitempty"`
	RegistryHints  []string `json:"registry_hints,omitempty"`
}
