package kb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/store"
	"github.com/ownedby/ownership-cli/internal/trace"
)

// fakeStore implements store.Store over in-memory slices. Only the KB
// methods carry behavior; the rest satisfy the interface.
type fakeStore struct {
	searchHits []model.KnowledgeBaseEntry
	highConf   []model.KnowledgeBaseEntry
	inserted   []model.KnowledgeBaseEntry
}

func (f *fakeStore) SearchKB(ctx context.Context, brand, productType string, limit int) ([]model.KnowledgeBaseEntry, error) {
	out := make([]model.KnowledgeBaseEntry, len(f.searchHits))
	copy(out, f.searchHits)
	return out, nil
}

func (f *fakeStore) HighConfidenceKB(ctx context.Context, minConfidence, limit int) ([]model.KnowledgeBaseEntry, error) {
	out := make([]model.KnowledgeBaseEntry, len(f.highConf))
	copy(out, f.highConf)
	return out, nil
}

func (f *fakeStore) InsertKB(ctx context.Context, entry model.KnowledgeBaseEntry) (string, error) {
	f.inserted = append(f.inserted, entry)
	return "kb-1", nil
}

func (f *fakeStore) GetProduct(ctx context.Context, key store.ProductKey) (*store.CachedProduct, error) {
	return nil, nil
}
func (f *fakeStore) UpsertProduct(ctx context.Context, key store.ProductKey, claim model.OwnershipClaim) error {
	return nil
}
func (f *fakeStore) LookupMapping(ctx context.Context, brand string) (*store.Mapping, error) {
	return nil, nil
}
func (f *fakeStore) ListMappings(ctx context.Context) ([]store.Mapping, error) { return nil, nil }
func (f *fakeStore) UpsertMapping(ctx context.Context, m store.Mapping) error  { return nil }
func (f *fakeStore) KBStats(ctx context.Context) (*model.KBStats, error)      { return nil, nil }
func (f *fakeStore) SaveTrace(ctx context.Context, tr *trace.Trace) error     { return nil }
func (f *fakeStore) GetTrace(ctx context.Context, id string) (*trace.Trace, error) {
	return nil, nil
}
func (f *fakeStore) ListTraces(ctx context.Context, filter store.TraceFilter) ([]store.TraceSummary, error) {
	return nil, nil
}
func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

func defaultOpts() Options {
	return Options{
		SimilarityThreshold:  0.85,
		PriorMinConfidence:   70,
		PromoteMinConfidence: 60,
		SearchLimit:          5,
	}
}

func TestLookupExactMatchIsStrongPrior(t *testing.T) {
	st := &fakeStore{searchHits: []model.KnowledgeBaseEntry{
		{Brand: "Kit Kat", Beneficiary: "Nestlé S.A.", BeneficiaryCountry: "Switzerland",
			StructureType: model.StructurePublic, Confidence: 90},
	}}
	r := New(st, defaultOpts())

	res, err := r.Lookup(context.Background(), "KIT KAT", "")
	require.NoError(t, err)
	require.NotNil(t, res.StrongPrior)
	assert.Equal(t, 1.0, res.StrongPrior.Similarity)
	assert.Equal(t, "Nestlé S.A.", res.StrongPrior.Beneficiary)
}

func TestLookupLowConfidenceIsNotStrongPrior(t *testing.T) {
	st := &fakeStore{searchHits: []model.KnowledgeBaseEntry{
		{Brand: "Kit Kat", Beneficiary: "Nestlé S.A.", Confidence: 50},
	}}
	r := New(st, defaultOpts())

	res, err := r.Lookup(context.Background(), "Kit Kat", "")
	require.NoError(t, err)
	assert.Nil(t, res.StrongPrior)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, 1.0, res.Entries[0].Similarity)
}

func TestLookupFuzzyRanking(t *testing.T) {
	st := &fakeStore{highConf: []model.KnowledgeBaseEntry{
		{Brand: "Nescafe Gold", Beneficiary: "Nestlé S.A.", BeneficiaryCountry: "Switzerland",
			StructureType: model.StructurePublic, Confidence: 90},
		{Brand: "Completely Different", Beneficiary: "Other Corp", Confidence: 80},
	}}
	r := New(st, defaultOpts())

	res, err := r.Lookup(context.Background(), "Nescafe", "")
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Nescafe Gold", res.Entries[0].Brand)
	assert.Greater(t, res.Entries[0].Similarity, res.Entries[1].Similarity)
	// Fuzzy matches never reach the strong-prior bar on edit distance alone.
	assert.Nil(t, res.StrongPrior)
}

func TestPromoteSkipsUnknownAndLowConfidence(t *testing.T) {
	st := &fakeStore{}
	r := New(st, defaultOpts())
	req := model.ResearchRequest{Brand: "Mystery Brand"}

	id, err := r.Promote(context.Background(), req, nil, model.UnknownClaim("nothing found"))
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = r.Promote(context.Background(), req, nil, model.OwnershipClaim{
		Beneficiary: "Someone Inc", Confidence: 45, ResultType: model.ResultWebResearch,
	})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, st.inserted)
}

func TestPromotePersistsQualifyingClaim(t *testing.T) {
	st := &fakeStore{}
	r := New(st, defaultOpts())
	req := model.ResearchRequest{Brand: "Lego", ProductName: "City Set"}
	hints := &model.Hints{ProductType: "toys"}

	id, err := r.Promote(context.Background(), req, hints, model.OwnershipClaim{
		Beneficiary:        "Kirkbi A/S",
		BeneficiaryCountry: "Denmark",
		StructureType:      model.StructureFamily,
		Confidence:         88,
		ResultType:         model.ResultWebResearch,
	})
	require.NoError(t, err)
	assert.Equal(t, "kb-1", id)
	require.Len(t, st.inserted, 1)
	assert.Equal(t, "Lego", st.inserted[0].Brand)
	assert.Equal(t, "toys", st.inserted[0].ProductType)
}

func TestSimilarityComponents(t *testing.T) {
	entry := model.KnowledgeBaseEntry{
		Brand:              "Nescafe Gold",
		BeneficiaryCountry: "Switzerland",
		StructureType:      model.StructurePublic,
		Confidence:         90,
	}
	score := similarity("nescafe", "", entry)
	// structure 0.3 + country 0.2 + confidence 0.09 plus a positive
	// edit-distance component.
	assert.Greater(t, score, 0.59)
	assert.Less(t, score, 1.0)

	bare := model.KnowledgeBaseEntry{Brand: "Nescafe Gold", Confidence: 0}
	assert.Less(t, similarity("nescafe", "", bare), score)
}

func TestSimilarityProductTypeBonus(t *testing.T) {
	entry := model.KnowledgeBaseEntry{
		Brand:              "Nescafe Gold",
		ProductType:        "Coffee",
		BeneficiaryCountry: "Switzerland",
		StructureType:      model.StructurePublic,
		Confidence:         90,
	}
	without := similarity("nescafe", "", entry)
	with := similarity("nescafe", "coffee", entry)
	assert.InDelta(t, without+0.1, with, 0.001)

	// The bonus never pushes a fuzzy match past a perfect score.
	entry.Confidence = 100
	assert.LessOrEqual(t, similarity("nescafe gol", "coffee", entry), 1.0)
}

func TestLookupPassesProductTypeThrough(t *testing.T) {
	st := &fakeStore{searchHits: []model.KnowledgeBaseEntry{
		{Brand: "Nescafe Gold", ProductType: "coffee", Beneficiary: "Nestlé S.A.",
			BeneficiaryCountry: "Switzerland", StructureType: model.StructurePublic, Confidence: 90},
		{Brand: "Nescafe Gold", ProductType: "tea", Beneficiary: "Other Corp",
			BeneficiaryCountry: "Switzerland", StructureType: model.StructurePublic, Confidence: 90},
	}}
	r := New(st, defaultOpts())

	res, err := r.Lookup(context.Background(), "Nescafe", "coffee")
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "coffee", res.Entries[0].ProductType)
	assert.Greater(t, res.Entries[0].Similarity, res.Entries[1].Similarity)
}

func TestLevenshteinRatio(t *testing.T) {
	assert.Equal(t, 1.0, levenshteinRatio("abc", "abc"))
	assert.Equal(t, 0.0, levenshteinRatio("abc", "xyz"))
	assert.InDelta(t, 0.8, levenshteinRatio("kitty", "kitts"), 0.001)
}
