package model

// VerificationStatus is the outcome class of claim verification.
type VerificationStatus string

const (
	VerificationConfirmed    VerificationStatus = "confirmed"
	VerificationContradicted VerificationStatus = "contradicted"
	VerificationAmbiguous    VerificationStatus = "ambiguous"
	VerificationNotVerified  VerificationStatus = "not_verified"
	VerificationSkipped      VerificationStatus = "skipped"
)

// VerificationPath selects which model family performs verification.
type VerificationPath string

const (
	// PathPrimary is the default verification model.
	PathPrimary VerificationPath = "primary"
	// PathComplianceSafe is mandated for brand categories barred from the
	// primary provider.
	PathComplianceSafe VerificationPath = "compliance_safe"
)

// Evidence is a single snippet considered during verification.
type Evidence struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// VerificationOutcome is the result of re-examining a claim against the
// collected evidence.
type VerificationOutcome struct {
	Status          VerificationStatus `json:"verification_status"`
	ConfidenceDelta int                `json:"confidence_delta"`
	Supporting      []Evidence         `json:"supporting_evidence,omitempty"`
	Contradicting   []Evidence         `json:"contradicting_evidence,omitempty"`
	Neutral         []Evidence         `json:"neutral_evidence,omitempty"`
	Missing         []Evidence         `json:"missing_evidence,omitempty"`
	Method          string             `json:"verification_method"`
	Notes           string             `json:"verification_notes,omitempty"`
}
