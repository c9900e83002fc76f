package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// UnknownBeneficiary is the sentinel owner for unresolved claims.
const UnknownBeneficiary = "Unknown"

// StructureType classifies the ownership structure of the ultimate owner.
type StructureType string

const (
	StructurePublic      StructureType = "public"
	StructurePrivate     StructureType = "private"
	StructureSubsidiary  StructureType = "subsidiary"
	StructureStateOwned  StructureType = "state_owned"
	StructureCooperative StructureType = "cooperative"
	StructureFamily      StructureType = "family"
	StructureUnknown     StructureType = "unknown"
)

// ResultType records which pipeline stage produced the final claim.
type ResultType string

const (
	ResultCached        ResultType = "cached"
	ResultStaticMapping ResultType = "static_mapping"
	ResultKnowledgeBase ResultType = "knowledge_base"
	ResultWebResearch   ResultType = "web_research"
	ResultNegative      ResultType = "negative"
)

// OwnershipNode is one hop in the chain from brand to ultimate owner.
type OwnershipNode struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Country string `json:"country,omitempty"`
}

// Alternative is a competing ownership claim surfaced when evidence
// supports more than one plausible ultimate owner.
type Alternative struct {
	Beneficiary string `json:"financial_beneficiary"`
	Country     string `json:"beneficiary_country,omitempty"`
	Confidence  int    `json:"confidence_score"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// OwnershipClaim is the pipeline's answer to "who really owns this brand".
type OwnershipClaim struct {
	Beneficiary        string               `json:"financial_beneficiary"`
	BeneficiaryCountry string               `json:"beneficiary_country,omitempty"`
	BeneficiaryFlag    string               `json:"beneficiary_flag,omitempty"`
	StructureType      StructureType        `json:"ownership_structure_type"`
	OwnershipFlow      []OwnershipNode      `json:"ownership_flow,omitempty"`
	Confidence         int                  `json:"confidence_score"`
	ConfidenceLevel    string               `json:"confidence_level,omitempty"`
	Sources            []string             `json:"sources,omitempty"`
	Reasoning          string               `json:"reasoning,omitempty"`
	Alternatives       []Alternative        `json:"alternatives,omitempty"`
	ResultType         ResultType           `json:"result_type"`
	Cached             bool                 `json:"cached"`
	WebSourceCount     int                  `json:"web_sources_count,omitempty"`
	Verification       *VerificationOutcome `json:"verification,omitempty"`
}

// Resolved reports whether the claim names an actual owner.
func (c OwnershipClaim) Resolved() bool {
	return c.Beneficiary != "" && c.Beneficiary != UnknownBeneficiary
}

// Validate enforces the claim invariants: confidence in [0,100] and an
// ownership flow that is a simple path (no repeated entities).
func (c OwnershipClaim) Validate() error {
	if c.Beneficiary == "" {
		return eris.New("claim: beneficiary must not be empty")
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return eris.Errorf("claim: confidence %d out of range [0,100]", c.Confidence)
	}
	seen := make(map[string]bool, len(c.OwnershipFlow))
	for _, node := range c.OwnershipFlow {
		key := strings.ToLower(strings.TrimSpace(node.Name))
		if seen[key] {
			return eris.Errorf("claim: ownership flow contains cycle at %q", node.Name)
		}
		seen[key] = true
	}
	return nil
}

// UnknownClaim builds the sentinel claim returned when research exhausts
// all stages without naming an owner.
func UnknownClaim(reasoning string) OwnershipClaim {
	return OwnershipClaim{
		Beneficiary:        UnknownBeneficiary,
		BeneficiaryCountry: UnknownBeneficiary,
		StructureType:      StructureUnknown,
		Confidence:         20,
		Reasoning:          reasoning,
		ResultType:         ResultNegative,
	}
}
