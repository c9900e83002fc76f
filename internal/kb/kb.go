// Package kb retrieves prior research results by brand similarity. A
// strong prior can answer a request without web research; weaker matches
// become context for the synthesis prompt.
package kb

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/store"
)

// Options tune retrieval and promotion thresholds.
type Options struct {
	// SimilarityThreshold is the floor for a strong prior.
	SimilarityThreshold float64
	// PriorMinConfidence is the confidence floor for a strong prior.
	PriorMinConfidence int
	// PromoteMinConfidence is the floor for persisting a new claim.
	PromoteMinConfidence int
	// SearchLimit caps the entries fetched per lookup.
	SearchLimit int
}

// Retriever ranks knowledge base entries against a request.
type Retriever struct {
	store store.Store
	opts  Options
}

// New builds a Retriever over the given store.
func New(st store.Store, opts Options) *Retriever {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	return &Retriever{store: st, opts: opts}
}

// Result is the outcome of a knowledge base lookup.
type Result struct {
	// Entries is ranked by similarity, best first.
	Entries []model.KnowledgeBaseEntry
	// StrongPrior is set when the best entry clears both the similarity
	// and confidence thresholds and can answer the request directly.
	StrongPrior *model.KnowledgeBaseEntry
}

// Lookup scores stored entries against the request brand and optional
// product type. Direct brand matches are tried first; when none exist,
// high-confidence entries are ranked by fuzzy similarity.
func (r *Retriever) Lookup(ctx context.Context, brand, productType string) (*Result, error) {
	entries, err := r.store.SearchKB(ctx, brand, productType, r.opts.SearchLimit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		entries, err = r.store.HighConfidenceKB(ctx, r.opts.PriorMinConfidence, r.opts.SearchLimit*4)
		if err != nil {
			return nil, err
		}
	}

	norm := model.NormalizeName(brand)
	normType := model.NormalizeName(productType)
	for i := range entries {
		entries[i].Similarity = similarity(norm, normType, entries[i])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Similarity > entries[j].Similarity
	})

	res := &Result{Entries: entries}
	if len(entries) > 0 {
		best := entries[0]
		if best.Similarity >= r.opts.SimilarityThreshold && best.Confidence >= r.opts.PriorMinConfidence {
			res.StrongPrior = &entries[0]
			zap.L().Debug("knowledge base strong prior",
				zap.String("brand", brand),
				zap.String("beneficiary", best.Beneficiary),
				zap.Float64("similarity", best.Similarity),
				zap.Int("confidence", best.Confidence))
		}
	}
	return res, nil
}

// Claim converts a strong prior into an ownership claim. Confidence
// carries over from the stored entry.
func (r *Retriever) Claim(e model.KnowledgeBaseEntry) model.OwnershipClaim {
	return model.OwnershipClaim{
		Beneficiary:        e.Beneficiary,
		BeneficiaryCountry: e.BeneficiaryCountry,
		BeneficiaryFlag:    model.CountryFlag(e.BeneficiaryCountry),
		StructureType:      e.StructureType,
		OwnershipFlow:      e.OwnershipFlow,
		Confidence:         e.Confidence,
		Sources:            e.Sources,
		Reasoning:          e.Reasoning,
		ResultType:         model.ResultKnowledgeBase,
	}
}

// Promote persists a freshly researched claim as a knowledge base entry
// when it clears the promotion bar: a named owner at sufficient
// confidence. Negative results are never promoted.
func (r *Retriever) Promote(ctx context.Context, req model.ResearchRequest, hints *model.Hints, claim model.OwnershipClaim) (string, error) {
	if !claim.Resolved() || claim.Confidence < r.opts.PromoteMinConfidence {
		return "", nil
	}
	productType := ""
	if hints != nil {
		productType = hints.ProductType
	}
	return r.store.InsertKB(ctx, model.KnowledgeBaseEntry{
		Brand:              req.Brand,
		ProductName:        req.ProductName,
		Barcode:            req.Barcode,
		ProductType:        productType,
		Beneficiary:        claim.Beneficiary,
		BeneficiaryCountry: claim.BeneficiaryCountry,
		StructureType:      claim.StructureType,
		OwnershipFlow:      claim.OwnershipFlow,
		Confidence:         claim.Confidence,
		Reasoning:          claim.Reasoning,
		Sources:            claim.Sources,
	})
}

// similarity scores an entry against a normalized brand name and product
// type. An exact brand match is a perfect score; otherwise edit distance
// dominates, with smaller rewards for entries that carry structure,
// country, high stored confidence, and a matching product type.
func similarity(normBrand, normType string, e model.KnowledgeBaseEntry) float64 {
	entryNorm := model.NormalizeName(e.Brand)
	if entryNorm == normBrand {
		return 1.0
	}

	score := levenshteinRatio(normBrand, entryNorm) * 0.4
	if e.StructureType != "" && e.StructureType != model.StructureUnknown {
		score += 0.3
	}
	if e.BeneficiaryCountry != "" && e.BeneficiaryCountry != model.UnknownBeneficiary {
		score += 0.2
	}
	score += float64(e.Confidence) / 100 * 0.1
	if normType != "" && model.NormalizeName(e.ProductType) == normType {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// levenshteinRatio is 1 - editDistance/maxLen, in [0,1].
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
