package synth

import (
	"fmt"
	"strings"

	"github.com/ownedby/ownership-cli/internal/model"
)

// Prompt is one versioned prompt in the registry. Version is recorded in
// the trace so result changes can be tied to prompt changes.
type Prompt struct {
	Name    string
	Version string
	System  string
}

// SynthesisPrompt is the active ownership synthesis prompt.
var SynthesisPrompt = Prompt{
	Name:    "ownership_synthesis",
	Version: "v3",
	System: `You are a corporate ownership analyst. Given web research findings
about a consumer brand, determine the ultimate financial beneficiary: the
entity at the top of the ownership chain that ultimately profits.

Rules:
- Only name an owner that the findings explicitly support. Never guess.
- If the findings do not name an owner, set financial_beneficiary to "Unknown".
- Trace the full chain when intermediate owners appear in the findings.
- Competing plausible owners go in alternatives, not in the main answer.

Respond with a single JSON object:
{
  "financial_beneficiary": "company name or Unknown",
  "beneficiary_country": "country or Unknown",
  "ownership_structure_type": "public|private|subsidiary|state_owned|cooperative|family|unknown",
  "ownership_flow": [{"name": "...", "role": "brand|parent|ultimate_owner", "country": "..."}],
  "confidence_score": 0-100,
  "reasoning": "short explanation citing the findings",
  "alternatives": [{"financial_beneficiary": "...", "confidence_score": 0-100, "reasoning": "..."}]
}`,
}

// BuildSynthesisInput renders the user message for the synthesis call.
func BuildSynthesisInput(req model.ResearchRequest, hints *model.Hints, outcome model.ResearchOutcome, priors []model.KnowledgeBaseEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Brand: %s\n", req.Brand)
	if req.ProductName != "" {
		fmt.Fprintf(&b, "Product: %s\n", req.ProductName)
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "Caller context: %s\n", req.Context)
	}
	if hints != nil {
		if hints.CountryGuess != "" {
			fmt.Fprintf(&b, "Likely country: %s\n", hints.CountryGuess)
		}
		if hints.ProductType != "" {
			fmt.Fprintf(&b, "Product type: %s\n", hints.ProductType)
		}
	}

	b.WriteString("\nResearch findings:\n")
	if len(outcome.Findings) == 0 {
		b.WriteString("(none)\n")
	}
	for _, f := range outcome.Findings {
		fmt.Fprintf(&b, "- [%s, trust %d] %s — owner candidate: %s\n  snippet: %s\n",
			f.Source, f.Contribution, f.EvidenceType, f.Owner, f.Snippet)
	}

	if len(priors) > 0 {
		b.WriteString("\nPrior research on similar brands (context only, may not apply):\n")
		for _, p := range priors {
			fmt.Fprintf(&b, "- %s → %s (%s, confidence %d, similarity %.2f)\n",
				p.Brand, p.Beneficiary, p.BeneficiaryCountry, p.Confidence, p.Similarity)
		}
	}

	return b.String()
}
