// Package compliance routes verification away from providers whose terms
// bar certain brand categories. Routing decisions are always audit logged.
package compliance

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ownedby/ownership-cli/internal/model"
)

// medicalKeywords flag brands the primary verification provider may not
// process. Matching is substring-based on purpose: a brand named
// "MediPharm" must route compliance-safe even without an exact word hit.
var medicalKeywords = []string{
	"pharmacy", "medical", "health", "drug", "medicine", "clinic",
	"hospital", "pharmaceutical", "healthcare", "therapeutic",
	"diagnostic", "clinical", "medicinal",
}

// Classifier decides whether a request falls into a restricted category.
type Classifier interface {
	Restricted(req model.ResearchRequest, hints *model.Hints) (restricted bool, matched string)
}

// KeywordClassifier matches restricted keywords against the brand,
// product name, caller context, and parsed product type.
type KeywordClassifier struct {
	keywords []string
}

// NewKeywordClassifier builds a classifier from the built-in medical list
// plus any operator-configured extras.
func NewKeywordClassifier(extra []string) *KeywordClassifier {
	kws := make([]string, 0, len(medicalKeywords)+len(extra))
	kws = append(kws, medicalKeywords...)
	for _, k := range extra {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kws = append(kws, k)
		}
	}
	return &KeywordClassifier{keywords: kws}
}

func (c *KeywordClassifier) Restricted(req model.ResearchRequest, hints *model.Hints) (bool, string) {
	fields := []string{req.Brand, req.ProductName, req.Context}
	if hints != nil {
		fields = append(fields, hints.ProductType)
		fields = append(fields, hints.IndustryHints...)
	}
	haystack := strings.ToLower(strings.Join(fields, " "))
	for _, kw := range c.keywords {
		if strings.Contains(haystack, kw) {
			return true, kw
		}
	}
	return false, ""
}

// Router selects the verification path for a request.
type Router struct {
	classifier Classifier
}

// NewRouter builds a Router over a classifier.
func NewRouter(c Classifier) *Router {
	return &Router{classifier: c}
}

// RouteResult is the routing decision with its audit fields.
type RouteResult struct {
	Path           model.VerificationPath
	MatchedKeyword string
}

// Route picks the verification path. Restricted requests always take the
// compliance-safe path; the decision is logged unconditionally so audits
// can reconstruct every routing choice.
func (r *Router) Route(req model.ResearchRequest, hints *model.Hints) RouteResult {
	restricted, matched := r.classifier.Restricted(req, hints)
	res := RouteResult{Path: model.PathPrimary}
	if restricted {
		res = RouteResult{Path: model.PathComplianceSafe, MatchedKeyword: matched}
	}
	zap.L().Info("verification routing decision",
		zap.String("brand", req.Brand),
		zap.String("path", string(res.Path)),
		zap.Bool("restricted", restricted),
		zap.String("matched_keyword", matched))
	return res
}
