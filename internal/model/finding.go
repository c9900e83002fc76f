package model

// EvidenceType classifies how a finding asserts ownership.
type EvidenceType string

const (
	EvidenceParent      EvidenceType = "parent_company"
	EvidenceSubsidiary  EvidenceType = "subsidiary_of"
	EvidenceAcquisition EvidenceType = "acquired_by"
	EvidenceDivision    EvidenceType = "division_of"
	EvidenceMention     EvidenceType = "ownership_mention"
)

// Finding is one ownership-relevant extraction from web research.
type Finding struct {
	Owner        string       `json:"owner,omitempty"`
	Country      string       `json:"country,omitempty"`
	Source       string       `json:"source"`
	EvidenceType EvidenceType `json:"evidence_type"`
	Snippet      string       `json:"snippet,omitempty"`
	// Contribution is the finding's weight toward the initial confidence
	// estimate, derived from the source's trust score.
	Contribution int `json:"contribution"`
}

// ResearchOutcome is what the web research agent hands to the synthesizer.
type ResearchOutcome struct {
	Findings []Finding `json:"findings"`
	Sources  []string  `json:"sources"`
	Success  bool      `json:"success"`
	// AvgScore is the mean priority score of the search results that were
	// scraped, used by the confidence estimator.
	AvgScore float64 `json:"average_priority_score"`
}
