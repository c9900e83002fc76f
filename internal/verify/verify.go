// Package verify re-examines a synthesized claim against the collected
// evidence using a second model, routed per compliance policy.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/synth"
	"github.com/ownedby/ownership-cli/pkg/anthropic"
	"github.com/ownedby/ownership-cli/pkg/gemini"
)

// ErrComplianceViolation means a restricted request reached the primary
// verification path. It is fatal: the pipeline must never silently
// re-route and continue.
var ErrComplianceViolation = eris.New("verify: restricted request routed to primary path")

// Options configure the verifier.
type Options struct {
	ClaudeModel     string
	ClaudeMaxTokens int64
}

// Verifier runs claim verification over both model paths.
type Verifier struct {
	gemini gemini.Client
	claude anthropic.Client
	opts   Options
}

// New builds a Verifier. Either client may be nil when the deployment
// only configures one path; verification then degrades to not_verified
// for the missing path.
func New(g gemini.Client, c anthropic.Client, opts Options) *Verifier {
	if opts.ClaudeMaxTokens <= 0 {
		opts.ClaudeMaxTokens = 1500
	}
	return &Verifier{gemini: g, claude: c, opts: opts}
}

const verifySystem = `You are verifying a corporate ownership claim against evidence.
Classify each evidence snippet as supporting, contradicting, or neutral
with respect to the claim, and judge the claim overall.

Respond with a single JSON object:
{
  "verification_status": "confirmed|contradicted|ambiguous",
  "confidence_delta": -30 to 20,
  "supporting_evidence": [{"text": "...", "source": "..."}],
  "contradicting_evidence": [{"text": "...", "source": "..."}],
  "neutral_evidence": [{"text": "...", "source": "..."}],
  "missing_evidence": [{"text": "what evidence would settle this"}],
  "verification_notes": "short explanation"
}`

// verdict is the JSON shape both models return.
type verdict struct {
	Status        string           `json:"verification_status"`
	Delta         int              `json:"confidence_delta"`
	Supporting    []model.Evidence `json:"supporting_evidence"`
	Contradicting []model.Evidence `json:"contradicting_evidence"`
	Neutral       []model.Evidence `json:"neutral_evidence"`
	Missing       []model.Evidence `json:"missing_evidence"`
	Notes         string           `json:"verification_notes"`
}

// Verify checks a claim on the given path. restricted must reflect the
// compliance router's classification; passing a restricted request down
// the primary path is a fatal ErrComplianceViolation.
func (v *Verifier) Verify(ctx context.Context, claim model.OwnershipClaim, findings []model.Finding, path model.VerificationPath, restricted bool) (*model.VerificationOutcome, error) {
	if restricted && path == model.PathPrimary {
		return nil, ErrComplianceViolation
	}

	prompt := buildPrompt(claim, findings)

	var raw string
	var method string
	var err error
	switch path {
	case model.PathComplianceSafe:
		method = "claude_compliance_safe"
		raw, err = v.verifyClaude(ctx, prompt)
	default:
		method = "gemini_primary"
		raw, err = v.verifyGemini(ctx, prompt)
	}
	if err != nil {
		zap.L().Warn("verification call failed, degrading to not_verified",
			zap.String("method", method),
			zap.Error(err))
		return notVerified(method, err.Error()), nil
	}

	var vd verdict
	if err := synth.DecodeLoose(raw, &vd); err != nil {
		zap.L().Warn("verification output unparseable, degrading to not_verified",
			zap.String("method", method),
			zap.Error(err))
		return notVerified(method, "verifier output could not be parsed"), nil
	}

	return &model.VerificationOutcome{
		Status:          parseStatus(vd.Status),
		ConfidenceDelta: clampDelta(vd.Delta),
		Supporting:      vd.Supporting,
		Contradicting:   vd.Contradicting,
		Neutral:         vd.Neutral,
		Missing:         vd.Missing,
		Method:          method,
		Notes:           vd.Notes,
	}, nil
}

func (v *Verifier) verifyGemini(ctx context.Context, prompt string) (string, error) {
	if v.gemini == nil {
		return "", eris.New("verify: primary verifier not configured")
	}
	return v.gemini.GenerateContent(ctx, gemini.GenerateRequest{
		System:      verifySystem,
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   1500,
	})
}

func (v *Verifier) verifyClaude(ctx context.Context, prompt string) (string, error) {
	if v.claude == nil {
		return "", eris.New("verify: compliance-safe verifier not configured")
	}
	temp := 0.1
	resp, err := v.claude.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       v.opts.ClaudeModel,
		MaxTokens:   v.opts.ClaudeMaxTokens,
		System:      []anthropic.SystemBlock{{Text: verifySystem}},
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(v.opts.ClaudeModel, "verification")
	return resp.Text(), nil
}

func buildPrompt(claim model.OwnershipClaim, findings []model.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: the ultimate financial beneficiary is %q", claim.Beneficiary)
	if claim.BeneficiaryCountry != "" {
		fmt.Fprintf(&b, " (%s)", claim.BeneficiaryCountry)
	}
	fmt.Fprintf(&b, ", structure %s, confidence %d.\n", claim.StructureType, claim.Confidence)
	if claim.Reasoning != "" {
		fmt.Fprintf(&b, "Claimed reasoning: %s\n", claim.Reasoning)
	}
	b.WriteString("\nEvidence:\n")
	if len(findings) == 0 {
		b.WriteString("(none collected)\n")
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Source, f.Snippet)
	}
	return b.String()
}

func notVerified(method, note string) *model.VerificationOutcome {
	return &model.VerificationOutcome{
		Status: model.VerificationNotVerified,
		Method: method,
		Notes:  note,
	}
}

func parseStatus(s string) model.VerificationStatus {
	switch model.VerificationStatus(strings.ToLower(strings.TrimSpace(s))) {
	case model.VerificationConfirmed:
		return model.VerificationConfirmed
	case model.VerificationContradicted:
		return model.VerificationContradicted
	case model.VerificationAmbiguous:
		return model.VerificationAmbiguous
	default:
		return model.VerificationNotVerified
	}
}

// clampDelta bounds the verifier's influence: it adjusts confidence, it
// does not overrule the estimator.
func clampDelta(d int) int {
	if d < -30 {
		return -30
	}
	if d > 20 {
		return 20
	}
	return d
}
