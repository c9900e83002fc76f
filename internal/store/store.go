// Package store persists product research results, static ownership
// mappings, the knowledge base, and execution traces.
package store

import (
	"context"
	"time"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/trace"
)

// ProductKey identifies a cached product result. Barcode is the most
// specific key; brand (+ optional product name) is the fallback.
type ProductKey struct {
	Barcode     string `json:"barcode,omitempty"`
	Brand       string `json:"brand"`
	ProductName string `json:"product_name,omitempty"`
}

// CachedProduct is a persisted research result.
type CachedProduct struct {
	ID                 string                `json:"id"`
	Key                ProductKey            `json:"key"`
	Claim              model.OwnershipClaim  `json:"claim"`
	VerificationStatus string                `json:"verification_status,omitempty"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// Mapping is one curated brand → owner fact.
type Mapping struct {
	Brand         string                `json:"brand"`
	Beneficiary   string                `json:"financial_beneficiary"`
	Country       string                `json:"beneficiary_country"`
	StructureType model.StructureType   `json:"ownership_structure_type"`
	Flow          []model.OwnershipNode `json:"ownership_flow,omitempty"`
}

// TraceSummary is a trace listing row.
type TraceSummary struct {
	ID              string    `json:"trace_id"`
	Brand           string    `json:"brand"`
	FinalResultType string    `json:"final_result_type"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// TraceFilter specifies criteria for listing traces.
type TraceFilter struct {
	Brand  string `json:"brand,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the research pipeline.
// Lookups return (nil, nil) on a miss; upserts are last-write-wins per key.
type Store interface {
	// Product cache. GetProduct tries the most specific key first
	// (barcode, or brand+product), then falls back to brand-only.
	GetProduct(ctx context.Context, key ProductKey) (*CachedProduct, error)
	UpsertProduct(ctx context.Context, key ProductKey, claim model.OwnershipClaim) error

	// Static ownership mappings.
	LookupMapping(ctx context.Context, brand string) (*Mapping, error)
	ListMappings(ctx context.Context) ([]Mapping, error)
	UpsertMapping(ctx context.Context, m Mapping) error

	// Knowledge base.
	InsertKB(ctx context.Context, entry model.KnowledgeBaseEntry) (string, error)
	SearchKB(ctx context.Context, brand, productType string, limit int) ([]model.KnowledgeBaseEntry, error)
	HighConfidenceKB(ctx context.Context, minConfidence, limit int) ([]model.KnowledgeBaseEntry, error)
	KBStats(ctx context.Context) (*model.KBStats, error)

	// Execution traces.
	SaveTrace(ctx context.Context, tr *trace.Trace) error
	GetTrace(ctx context.Context, id string) (*trace.Trace, error)
	ListTraces(ctx context.Context, filter TraceFilter) ([]TraceSummary, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
