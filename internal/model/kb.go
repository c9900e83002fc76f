package model

import "time"

// KnowledgeBaseEntry is a previously resolved claim persisted for
// similarity retrieval. Entries are evidence, not ground truth.
type KnowledgeBaseEntry struct {
	ID                 string          `json:"id"`
	Brand              string          `json:"brand"`
	ProductName        string          `json:"product_name,omitempty"`
	Barcode            string          `json:"barcode,omitempty"`
	ProductType        string          `json:"product_type,omitempty"`
	Beneficiary        string          `json:"financial_beneficiary"`
	BeneficiaryCountry string          `json:"beneficiary_country,omitempty"`
	StructureType      StructureType   `json:"ownership_structure_type"`
	OwnershipFlow      []OwnershipNode `json:"ownership_flow,omitempty"`
	Confidence         int             `json:"confidence_score"`
	Reasoning          string          `json:"reasoning,omitempty"`
	Sources            []string        `json:"sources,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Similarity is populated by retrieval, not persisted.
	Similarity float64 `json:"similarity_score,omitempty"`
}

// KBStats summarizes the knowledge base contents.
type KBStats struct {
	TotalEntries   int            `json:"total_entries"`
	AvgConfidence  float64        `json:"avg_confidence"`
	StructureTypes map[string]int `json:"structure_types"`
	TopBrands      []BrandCount   `json:"top_brands"`
}

// BrandCount is a brand with its entry count.
type BrandCount struct {
	Brand string `json:"brand"`
	Count int    `json:"count"`
}
