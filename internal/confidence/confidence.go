// Package confidence computes the final confidence score of a claim from
// weighted, deterministic factors. The same inputs always produce the
// same score and the published breakdown sums exactly to it.
package confidence

import (
	"math"
	"sort"

	"github.com/ownedby/ownership-cli/internal/model"
)

// Factor names, stable across releases: evaluation tooling keys on them.
const (
	FactorSourceQuality        = "source_quality"
	FactorEvidenceStrength     = "evidence_strength"
	FactorVerification         = "verification"
	FactorReasoningQuality     = "reasoning_quality"
	FactorDataConsistency      = "data_consistency"
	FactorExecutionReliability = "execution_reliability"
)

// weights must sum to 1.0.
var weights = map[string]float64{
	FactorSourceQuality:        0.25,
	FactorEvidenceStrength:     0.30,
	FactorVerification:         0.20,
	FactorReasoningQuality:     0.15,
	FactorDataConsistency:      0.05,
	FactorExecutionReliability: 0.05,
}

// factorOrder fixes breakdown ordering.
var factorOrder = []string{
	FactorSourceQuality,
	FactorEvidenceStrength,
	FactorVerification,
	FactorReasoningQuality,
	FactorDataConsistency,
	FactorExecutionReliability,
}

// Component is one factor's line in the breakdown.
type Component struct {
	Factor       string  `json:"factor"`
	RawScore     float64 `json:"raw_score"`
	Weight       float64 `json:"weight"`
	Contribution int     `json:"contribution"`
}

// Breakdown is the full scoring result.
type Breakdown struct {
	Components []Component `json:"components"`
	// Adjustments applied after the weighted sum.
	VerificationDelta     int `json:"verification_delta,omitempty"`
	DisambiguationPenalty int `json:"disambiguation_penalty,omitempty"`
	Score                 int `json:"confidence_score"`
	Label                 string `json:"confidence_level"`
}

// Options tune the estimator.
type Options struct {
	// UnknownCeiling caps the score of unresolved claims.
	UnknownCeiling int
}

// Estimator computes claim confidence.
type Estimator struct {
	opts Options
}

// New builds an Estimator.
func New(opts Options) *Estimator {
	if opts.UnknownCeiling <= 0 {
		opts.UnknownCeiling = 40
	}
	return &Estimator{opts: opts}
}

// Estimate scores a web-research claim. Earlier pipeline stages (cache,
// static mapping, knowledge base) carry their own confidence and skip
// this estimator.
func (e *Estimator) Estimate(claim model.OwnershipClaim, outcome model.ResearchOutcome, verification *model.VerificationOutcome) Breakdown {
	raws := map[string]float64{
		FactorSourceQuality:        sourceQuality(outcome),
		FactorEvidenceStrength:     evidenceStrength(claim, outcome),
		FactorVerification:         verificationScore(verification),
		FactorReasoningQuality:     reasoningQuality(claim),
		FactorDataConsistency:      dataConsistency(claim, outcome),
		FactorExecutionReliability: executionReliability(outcome),
	}

	bd := roundComponents(raws)

	if verification != nil {
		bd.VerificationDelta = verification.ConfidenceDelta
		bd.Score += verification.ConfidenceDelta
	}
	if n := len(claim.Alternatives); n > 0 {
		penalty := 5 * n
		if penalty > 10 {
			penalty = 10
		}
		bd.DisambiguationPenalty = -penalty
		bd.Score -= penalty
	}

	bd.Score = clamp(bd.Score, 0, 100)
	if !claim.Resolved() && bd.Score >= e.opts.UnknownCeiling {
		bd.Score = e.opts.UnknownCeiling - 1
	}
	bd.Label = Label(bd.Score)
	return bd
}

// Label maps a score to its human-readable level.
func Label(score int) string {
	switch {
	case score >= 85:
		return "Very High"
	case score >= 70:
		return "High"
	case score >= 50:
		return "Medium"
	case score >= 30:
		return "Low"
	default:
		return "Very Low"
	}
}

// roundComponents converts exact weighted contributions to integers that
// sum exactly to the rounded total, assigning leftover points to the
// largest fractional remainders first.
func roundComponents(raws map[string]float64) Breakdown {
	type part struct {
		name  string
		exact float64
	}
	parts := make([]part, 0, len(factorOrder))
	total := 0.0
	for _, name := range factorOrder {
		exact := raws[name] * weights[name]
		parts = append(parts, part{name: name, exact: exact})
		total += exact
	}
	target := int(math.Round(total))

	comps := make([]Component, len(parts))
	floorSum := 0
	for i, p := range parts {
		c := int(math.Floor(p.exact))
		comps[i] = Component{
			Factor:       p.name,
			RawScore:     math.Round(raws[p.name]*100) / 100,
			Weight:       weights[p.name],
			Contribution: c,
		}
		floorSum += c
	}

	// Distribute the remainder deterministically: largest fraction first,
	// factor order as tiebreaker.
	remainder := target - floorSum
	idx := make([]int, len(parts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		fa := parts[idx[a]].exact - math.Floor(parts[idx[a]].exact)
		fb := parts[idx[b]].exact - math.Floor(parts[idx[b]].exact)
		return fa > fb
	})
	for i := 0; i < remainder && i < len(idx); i++ {
		comps[idx[i]].Contribution++
	}

	return Breakdown{Components: comps, Score: target}
}

func sourceQuality(outcome model.ResearchOutcome) float64 {
	if len(outcome.Findings) == 0 {
		return 0
	}
	sum := 0
	for _, f := range outcome.Findings {
		sum += f.Contribution
	}
	return float64(sum) / float64(len(outcome.Findings))
}

func evidenceStrength(claim model.OwnershipClaim, outcome model.ResearchOutcome) float64 {
	if !claim.Resolved() {
		return 0
	}
	ownerNorm := model.NormalizeName(claim.Beneficiary)
	score := 0.0
	types := make(map[model.EvidenceType]bool)
	for _, f := range outcome.Findings {
		if model.NormalizeName(f.Owner) != ownerNorm {
			continue
		}
		types[f.EvidenceType] = true
		score += 15
	}
	// Independent evidence types are worth more than repetition.
	score += float64(len(types)) * 10
	if score > 100 {
		score = 100
	}
	return score
}

func verificationScore(v *model.VerificationOutcome) float64 {
	if v == nil {
		return 40
	}
	switch v.Status {
	case model.VerificationConfirmed:
		return 100
	case model.VerificationAmbiguous:
		return 50
	case model.VerificationNotVerified, model.VerificationSkipped:
		return 40
	case model.VerificationContradicted:
		return 0
	default:
		return 40
	}
}

func reasoningQuality(claim model.OwnershipClaim) float64 {
	score := 0.0
	if len(claim.Reasoning) >= 40 {
		score += 50
	} else if len(claim.Reasoning) > 0 {
		score += 25
	}
	if len(claim.OwnershipFlow) >= 2 {
		score += 30
	}
	if claim.BeneficiaryCountry != "" && claim.BeneficiaryCountry != model.UnknownBeneficiary {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

func dataConsistency(claim model.OwnershipClaim, outcome model.ResearchOutcome) float64 {
	if len(outcome.Findings) == 0 {
		return 0
	}
	ownerNorm := model.NormalizeName(claim.Beneficiary)
	agree := 0
	for _, f := range outcome.Findings {
		if model.NormalizeName(f.Owner) == ownerNorm {
			agree++
		}
	}
	return float64(agree) / float64(len(outcome.Findings)) * 100
}

func executionReliability(outcome model.ResearchOutcome) float64 {
	if !outcome.Success {
		return 0
	}
	// AvgScore already reflects how trustworthy the executed searches were.
	if outcome.AvgScore > 100 {
		return 100
	}
	return outcome.AvgScore
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
