// Package synth turns research findings into an ownership claim via the
// synthesis model, with guardrails against hallucinated owners.
package synth

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/pkg/anthropic"
)

// Options configure the synthesizer.
type Options struct {
	Model     string
	MaxTokens int64
	// UnknownConfidenceCeiling caps confidence whenever the model cannot
	// name an owner grounded in the findings.
	UnknownConfidenceCeiling int
}

// Synthesizer produces ownership claims from research outcomes.
type Synthesizer struct {
	client anthropic.Client
	opts   Options
}

// New builds a Synthesizer.
func New(client anthropic.Client, opts Options) *Synthesizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.UnknownConfidenceCeiling <= 0 {
		opts.UnknownConfidenceCeiling = 40
	}
	return &Synthesizer{client: client, opts: opts}
}

// claimPayload is the JSON shape the synthesis prompt requests.
type claimPayload struct {
	Beneficiary        string                `json:"financial_beneficiary"`
	BeneficiaryCountry string                `json:"beneficiary_country"`
	StructureType      string                `json:"ownership_structure_type"`
	OwnershipFlow      []model.OwnershipNode `json:"ownership_flow"`
	Confidence         int                   `json:"confidence_score"`
	Reasoning          string                `json:"reasoning"`
	Alternatives       []model.Alternative   `json:"alternatives"`
}

// Synthesize calls the synthesis model and normalizes its answer into a
// validated claim. A malformed or ungrounded answer degrades to Unknown
// rather than failing the pipeline.
func (s *Synthesizer) Synthesize(ctx context.Context, req model.ResearchRequest, hints *model.Hints, outcome model.ResearchOutcome, priors []model.KnowledgeBaseEntry) (model.OwnershipClaim, error) {
	temp := 0.2
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.opts.Model,
		MaxTokens: s.opts.MaxTokens,
		System: []anthropic.SystemBlock{{
			Text:         SynthesisPrompt.System,
			CacheControl: &anthropic.CacheControl{},
		}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: BuildSynthesisInput(req, hints, outcome, priors),
		}},
		Temperature: &temp,
	})
	if err != nil {
		return model.OwnershipClaim{}, eris.Wrap(err, "synth: create message")
	}
	resp.Usage.LogCost(s.opts.Model, "ownership_synthesis")

	var payload claimPayload
	if err := DecodeLoose(resp.Text(), &payload); err != nil {
		zap.L().Warn("synthesis output unparseable, degrading to unknown",
			zap.String("brand", req.Brand),
			zap.Error(err))
		return model.UnknownClaim("Synthesis output could not be parsed."), nil
	}

	return s.normalize(req, outcome, payload), nil
}

// normalize enforces the anti-hallucination rules: an owner the findings
// never mention is discarded, and unknown answers keep low confidence.
func (s *Synthesizer) normalize(req model.ResearchRequest, outcome model.ResearchOutcome, p claimPayload) model.OwnershipClaim {
	claim := model.OwnershipClaim{
		Beneficiary:        strings.TrimSpace(p.Beneficiary),
		BeneficiaryCountry: strings.TrimSpace(p.BeneficiaryCountry),
		StructureType:      parseStructure(p.StructureType),
		OwnershipFlow:      p.OwnershipFlow,
		Confidence:         clamp(p.Confidence, 0, 100),
		Reasoning:          p.Reasoning,
		Alternatives:       p.Alternatives,
		Sources:            outcome.Sources,
		ResultType:         model.ResultWebResearch,
		WebSourceCount:     len(outcome.Sources),
	}

	if claim.Beneficiary == "" || strings.EqualFold(claim.Beneficiary, model.UnknownBeneficiary) {
		claim.Beneficiary = model.UnknownBeneficiary
		claim.ResultType = model.ResultNegative
		if claim.Confidence > s.opts.UnknownConfidenceCeiling {
			claim.Confidence = s.opts.UnknownConfidenceCeiling
		}
		if claim.BeneficiaryCountry == "" {
			claim.BeneficiaryCountry = model.UnknownBeneficiary
		}
		return claim
	}

	if !grounded(claim.Beneficiary, outcome) {
		zap.L().Warn("synthesis named an owner absent from findings, rejecting",
			zap.String("brand", req.Brand),
			zap.String("claimed_owner", claim.Beneficiary))
		unknown := model.UnknownClaim("Synthesis named an owner not supported by any finding.")
		unknown.Sources = outcome.Sources
		return unknown
	}

	claim.BeneficiaryFlag = model.CountryFlag(claim.BeneficiaryCountry)
	if err := claim.Validate(); err != nil {
		zap.L().Warn("synthesized claim failed validation",
			zap.String("brand", req.Brand),
			zap.Error(err))
		unknown := model.UnknownClaim("Synthesized claim failed validation.")
		unknown.Sources = outcome.Sources
		return unknown
	}
	return claim
}

// grounded reports whether the findings mention the named owner. Matching
// is loose: a normalized substring either way counts.
func grounded(owner string, outcome model.ResearchOutcome) bool {
	ownerNorm := model.NormalizeName(owner)
	for _, f := range outcome.Findings {
		candNorm := model.NormalizeName(f.Owner)
		if candNorm == "" {
			continue
		}
		if strings.Contains(ownerNorm, candNorm) || strings.Contains(candNorm, ownerNorm) {
			return true
		}
		if f.Snippet != "" && strings.Contains(model.NormalizeName(f.Snippet), ownerNorm) {
			return true
		}
	}
	return false
}

func parseStructure(s string) model.StructureType {
	switch model.StructureType(strings.ToLower(strings.TrimSpace(s))) {
	case model.StructurePublic:
		return model.StructurePublic
	case model.StructurePrivate:
		return model.StructurePrivate
	case model.StructureSubsidiary:
		return model.StructureSubsidiary
	case model.StructureStateOwned:
		return model.StructureStateOwned
	case model.StructureCooperative:
		return model.StructureCooperative
	case model.StructureFamily:
		return model.StructureFamily
	default:
		return model.StructureUnknown
	}
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
