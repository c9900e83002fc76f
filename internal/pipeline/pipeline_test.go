package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownedby/ownership-cli/internal/compliance"
	"github.com/ownedby/ownership-cli/internal/confidence"
	"github.com/ownedby/ownership-cli/internal/kb"
	"github.com/ownedby/ownership-cli/internal/mappings"
	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/query"
	"github.com/ownedby/ownership-cli/internal/research"
	"github.com/ownedby/ownership-cli/internal/store"
	"github.com/ownedby/ownership-cli/internal/synth"
	"github.com/ownedby/ownership-cli/internal/trace"
	"github.com/ownedby/ownership-cli/internal/verify"
	"github.com/ownedby/ownership-cli/pkg/anthropic"
	"github.com/ownedby/ownership-cli/pkg/gemini"
	"github.com/ownedby/ownership-cli/pkg/search"
)

// memStore is an in-memory store.Store for pipeline scenarios.
type memStore struct {
	mu       sync.Mutex
	products map[string]*store.CachedProduct
	kbRows   []model.KnowledgeBaseEntry
	traces   []*trace.Trace
}

func newMemStore() *memStore {
	return &memStore{products: make(map[string]*store.CachedProduct)}
}

func productKey(key store.ProductKey) string {
	if key.Barcode != "" {
		return "bc:" + key.Barcode
	}
	return "br:" + model.NormalizeName(key.Brand) + "|" + model.NormalizeName(key.ProductName)
}

func (m *memStore) GetProduct(ctx context.Context, key store.ProductKey) (*store.CachedProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[productKey(key)]; ok {
		return p, nil
	}
	// brand-only fallback
	prefix := "br:" + model.NormalizeName(key.Brand) + "|"
	for k, p := range m.products {
		if strings.HasPrefix(k, prefix) {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertProduct(ctx context.Context, key store.ProductKey, claim model.OwnershipClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	verStatus := ""
	if claim.Verification != nil {
		verStatus = string(claim.Verification.Status)
	}
	m.products[productKey(key)] = &store.CachedProduct{
		ID: productKey(key), Key: key, Claim: claim,
		VerificationStatus: verStatus, UpdatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) LookupMapping(ctx context.Context, brand string) (*store.Mapping, error) {
	return nil, nil
}
func (m *memStore) ListMappings(ctx context.Context) ([]store.Mapping, error) { return nil, nil }
func (m *memStore) UpsertMapping(ctx context.Context, mp store.Mapping) error { return nil }

func (m *memStore) InsertKB(ctx context.Context, entry model.KnowledgeBaseEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kbRows = append(m.kbRows, entry)
	return "kb-1", nil
}

func (m *memStore) SearchKB(ctx context.Context, brand, productType string, limit int) ([]model.KnowledgeBaseEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.KnowledgeBaseEntry
	norm := model.NormalizeName(brand)
	for _, e := range m.kbRows {
		if strings.Contains(model.NormalizeName(e.Brand), norm) || (productType != "" && e.ProductType == productType) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) HighConfidenceKB(ctx context.Context, minConfidence, limit int) ([]model.KnowledgeBaseEntry, error) {
	return nil, nil
}
func (m *memStore) KBStats(ctx context.Context) (*model.KBStats, error) { return &model.KBStats{}, nil }

func (m *memStore) SaveTrace(ctx context.Context, tr *trace.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, tr)
	return nil
}
func (m *memStore) GetTrace(ctx context.Context, id string) (*trace.Trace, error) { return nil, nil }
func (m *memStore) ListTraces(ctx context.Context, f store.TraceFilter) ([]store.TraceSummary, error) {
	return nil, nil
}
func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

// fakeSearch serves one scripted result set for every query.
type fakeSearch struct {
	mu      sync.Mutex
	results []search.Result
	calls   int
}

func (f *fakeSearch) Search(ctx context.Context, q string, num int) ([]search.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.results, nil
}

func (f *fakeSearch) FetchPage(ctx context.Context, pageURL string) (string, error) {
	return "", nil
}

type fakeClaude struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (f *fakeClaude) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := f.responses[0]
	if f.calls < len(f.responses) {
		resp = f.responses[f.calls]
	} else {
		resp = f.responses[len(f.responses)-1]
	}
	f.calls++
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: resp}},
	}, nil
}

type fakeGemini struct {
	mu       sync.Mutex
	response string
	calls    int
}

func (f *fakeGemini) GenerateContent(ctx context.Context, req gemini.GenerateRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.response, nil
}

type deps struct {
	store  *memStore
	search *fakeSearch
	claude *fakeClaude
	gemini *fakeGemini
}

func newPipeline(t *testing.T, d *deps) *Pipeline {
	t.Helper()
	if d.store == nil {
		d.store = newMemStore()
	}
	if d.search == nil {
		d.search = &fakeSearch{}
	}
	if d.claude == nil {
		d.claude = &fakeClaude{responses: []string{`{"financial_beneficiary":"Unknown","confidence_score":20}`}}
	}
	if d.gemini == nil {
		d.gemini = &fakeGemini{response: `{"verification_status":"confirmed","confidence_delta":10}`}
	}

	mp, err := mappings.New(d.store, "", 95)
	require.NoError(t, err)

	return New(
		d.store,
		mp,
		kb.New(d.store, kb.Options{SimilarityThreshold: 0.85, PriorMinConfidence: 70, PromoteMinConfidence: 60, SearchLimit: 5}),
		query.NewBuilder(8),
		research.New(d.search, research.Options{Concurrency: 2, QueryTimeout: 2 * time.Second, RateLimit: 1000}),
		synth.New(d.claude, synth.Options{Model: "m", UnknownConfidenceCeiling: 40}),
		compliance.NewRouter(compliance.NewKeywordClassifier(nil)),
		verify.New(d.gemini, d.claude, verify.Options{ClaudeModel: "m"}),
		confidence.New(confidence.Options{UnknownCeiling: 40}),
		Options{WebResearchMinConfidence: 30, CacheTTL: 720 * time.Hour},
	)
}

func TestResolveStaticMappingShortCircuits(t *testing.T) {
	d := &deps{}
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kit Kat"})
	require.NoError(t, err)

	assert.Equal(t, "Nestlé S.A.", res.Claim.Beneficiary)
	assert.GreaterOrEqual(t, res.Claim.Confidence, 90)
	assert.Equal(t, model.ResultStaticMapping, res.Claim.ResultType)
	assert.Equal(t, "Very High", res.Claim.ConfidenceLevel)

	require.NotNil(t, res.Trace)
	assert.True(t, res.Trace.HasStage(trace.StageCacheCheck))
	assert.True(t, res.Trace.HasStage(trace.StageStaticMapping))
	assert.False(t, res.Trace.HasStage(trace.StageWebResearch), "static mapping hit must not trigger web research")
	assert.False(t, res.Trace.HasStage(trace.StageSynthesis))
	assert.Zero(t, d.search.calls)
	assert.Zero(t, d.claude.calls)
}

func TestResolveUnknownBrandReturnsNegative(t *testing.T) {
	d := &deps{}
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "CompletelyUnknownBrand123"})
	require.NoError(t, err)

	assert.Equal(t, model.UnknownBeneficiary, res.Claim.Beneficiary)
	assert.Less(t, res.Claim.Confidence, 40)
	assert.Equal(t, model.ResultNegative, res.Claim.ResultType)

	// Full chain ran and was traced.
	for _, stage := range []string{
		trace.StageCacheCheck, trace.StageStaticMapping, trace.StageKnowledgeBase,
		trace.StageQueryBuilder, trace.StageWebResearch, trace.StageSynthesis,
		trace.StageCompliance, trace.StageVerification, trace.StageConfidence,
	} {
		assert.True(t, res.Trace.HasStage(stage), "missing stage %s", stage)
	}

	// Unresolved claims skip model verification.
	vs := res.Trace.StageByName(trace.StageVerification)
	require.NotNil(t, vs)
	assert.Equal(t, trace.StatusSkipped, vs.Status)
	assert.Zero(t, d.gemini.calls)

	// Empty result sets trigger alternate-query attempts, and those nest
	// under the web_research stage instead of opening new top-level stages.
	ws := res.Trace.StageByName(trace.StageWebResearch)
	require.NotNil(t, ws)
	assert.NotEmpty(t, ws.Retries)
}

func TestResolveKnowledgeBasePriorStillVerifies(t *testing.T) {
	d := &deps{}
	st := newMemStore()
	st.kbRows = []model.KnowledgeBaseEntry{{
		ID: "kb-seed", Brand: "Kims",
		Beneficiary: "Orkla ASA", BeneficiaryCountry: "Norway",
		StructureType: model.StructurePublic, Confidence: 88,
		Reasoning: "promoted from an earlier successful run",
	}}
	d.store = st
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kims"})
	require.NoError(t, err)

	assert.Equal(t, "Orkla ASA", res.Claim.Beneficiary)
	assert.Equal(t, model.ResultKnowledgeBase, res.Claim.ResultType)
	require.NotNil(t, res.Claim.Verification)
	assert.Equal(t, model.VerificationConfirmed, res.Claim.Verification.Status)
	assert.Equal(t, 98, res.Claim.Confidence, "prior confidence plus verification delta")
	assert.Equal(t, 1, d.gemini.calls, "a strong prior still passes verification")
	assert.Zero(t, d.search.calls, "a strong prior skips web research")
	assert.True(t, res.Trace.HasStage(trace.StageKnowledgeBase))
	assert.False(t, res.Trace.HasStage(trace.StageVerification),
		"prior verification runs inside the knowledge_base stage")
	assert.False(t, res.Trace.HasStage(trace.StageWebResearch))
}

func TestResolveContradictedPriorFallsThroughOnce(t *testing.T) {
	d := &deps{
		search: &fakeSearch{results: []search.Result{{
			Title:   "Kims - Wikipedia",
			Link:    "https://en.wikipedia.org/wiki/Kims",
			Snippet: "Kims is a subsidiary of Snack Holdings ApS.",
		}}},
		claude: &fakeClaude{responses: []string{`{
			"financial_beneficiary": "Snack Holdings ApS", "beneficiary_country": "Denmark",
			"ownership_structure_type": "private", "confidence_score": 72,
			"reasoning": "Recent filings show the brand changed hands."
		}`}},
		gemini: &fakeGemini{response: `{"verification_status":"contradicted","confidence_delta":-20}`},
	}
	st := newMemStore()
	st.kbRows = []model.KnowledgeBaseEntry{{
		ID: "kb-seed", Brand: "Kims",
		Beneficiary: "Orkla ASA", BeneficiaryCountry: "Norway",
		StructureType: model.StructurePublic, Confidence: 88,
		Reasoning: "promoted from an earlier successful run",
	}}
	d.store = st
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kims"})
	require.NoError(t, err)

	// The contradicted prior must not answer; the chain re-runs research.
	assert.NotEqual(t, model.ResultKnowledgeBase, res.Claim.ResultType)
	assert.True(t, res.Trace.HasStage(trace.StageWebResearch))
	assert.Greater(t, d.search.calls, 0)

	// Each stage appears at most once at the top level of the trace.
	counts := make(map[string]int)
	for _, s := range res.Trace.Stages {
		counts[s.Name]++
	}
	for name, n := range counts {
		assert.LessOrEqual(t, n, 1, "stage %s repeated at top level", name)
	}
	assert.LessOrEqual(t, counts[trace.StageCompliance], 1)
	assert.LessOrEqual(t, counts[trace.StageVerification], 1)
}

func TestResolveWebResearchSuccess(t *testing.T) {
	d := &deps{
		search: &fakeSearch{results: []search.Result{{
			Title:   "Kims - Wikipedia",
			Link:    "https://en.wikipedia.org/wiki/Kims",
			Snippet: "Kims is a subsidiary of Orkla ASA.",
		}}},
		claude: &fakeClaude{responses: []string{`{
			"financial_beneficiary": "Orkla ASA",
			"beneficiary_country": "Norway",
			"ownership_structure_type": "public",
			"confidence_score": 80,
			"reasoning": "Wikipedia states Kims is a subsidiary of Orkla ASA, which is well documented."
		}`}},
	}
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kims"})
	require.NoError(t, err)

	assert.Equal(t, "Orkla ASA", res.Claim.Beneficiary)
	assert.Equal(t, model.ResultWebResearch, res.Claim.ResultType)
	require.NotNil(t, res.Claim.Verification)
	assert.Equal(t, model.VerificationConfirmed, res.Claim.Verification.Status)
	assert.Equal(t, 1, d.gemini.calls, "unrestricted brand verifies on the primary path")
	assert.NotEmpty(t, res.Claim.ConfidenceLevel)

	// The result is cached and promoted to the knowledge base.
	cached, err := d.store.GetProduct(context.Background(), store.ProductKey{Brand: "Kims"})
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Orkla ASA", cached.Claim.Beneficiary)
}

func TestResolveRestrictedBrandUsesComplianceSafePath(t *testing.T) {
	d := &deps{
		search: &fakeSearch{results: []search.Result{{
			Link:    "https://en.wikipedia.org/wiki/Boots",
			Snippet: "Boots Pharmacy is a subsidiary of Walgreens Boots Alliance.",
		}}},
		claude: &fakeClaude{responses: []string{
			`{"financial_beneficiary": "Walgreens Boots Alliance", "beneficiary_country": "United States",
			  "ownership_structure_type": "public", "confidence_score": 78,
			  "reasoning": "Multiple sources state Boots is owned by Walgreens Boots Alliance."}`,
			`{"verification_status": "confirmed", "confidence_delta": 5}`,
		}},
	}
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Boots Pharmacy"})
	require.NoError(t, err)

	assert.Equal(t, "Walgreens Boots Alliance", res.Claim.Beneficiary)
	require.NotNil(t, res.Claim.Verification)
	assert.Equal(t, "claude_compliance_safe", res.Claim.Verification.Method)
	assert.Zero(t, d.gemini.calls, "restricted brands must never reach the primary verifier")

	cs := res.Trace.StageByName(trace.StageCompliance)
	require.NotNil(t, cs)
	require.NotEmpty(t, cs.Decisions)
	assert.Equal(t, string(model.PathComplianceSafe), cs.Decisions[0].Choice)
}

func TestResolveFollowUpBypassesNegativeCache(t *testing.T) {
	d := &deps{}
	st := newMemStore()
	d.store = st
	negative := model.UnknownClaim("nothing found last time")
	require.NoError(t, st.UpsertProduct(context.Background(), store.ProductKey{Brand: "MysteryBrand"}, negative))

	p := newPipeline(t, d)

	// Without follow-up the cached negative is returned as-is.
	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "MysteryBrand"})
	require.NoError(t, err)
	assert.True(t, res.Claim.Cached)
	assert.False(t, res.Trace.HasStage(trace.StageWebResearch))

	// With follow-up the chain re-runs research.
	res, err = p.Resolve(context.Background(), model.ResearchRequest{Brand: "MysteryBrand", FollowUp: true})
	require.NoError(t, err)
	assert.False(t, res.Claim.Cached)
	assert.True(t, res.Trace.HasStage(trace.StageQueryBuilder))
	assert.True(t, res.Trace.HasStage(trace.StageWebResearch))
	assert.Greater(t, d.search.calls, 0)
}

func TestResolveCachedVerifiedHitIsIdempotent(t *testing.T) {
	d := &deps{
		search: &fakeSearch{results: []search.Result{{
			Link:    "https://en.wikipedia.org/wiki/Kims",
			Snippet: "Kims is a subsidiary of Orkla ASA.",
		}}},
		claude: &fakeClaude{responses: []string{`{
			"financial_beneficiary": "Orkla ASA", "beneficiary_country": "Norway",
			"ownership_structure_type": "public", "confidence_score": 80,
			"reasoning": "Wikipedia states Kims is a subsidiary of Orkla ASA, which is well documented."
		}`}},
	}
	p := newPipeline(t, d)

	first, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kims"})
	require.NoError(t, err)
	assert.False(t, first.Claim.Cached)
	searchCallsAfterFirst := d.search.calls

	second, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kims"})
	require.NoError(t, err)
	assert.True(t, second.Claim.Cached)
	assert.Equal(t, first.Claim.Beneficiary, second.Claim.Beneficiary)
	assert.Equal(t, searchCallsAfterFirst, d.search.calls, "cached hit must not re-run research")
	assert.False(t, second.Trace.HasStage(trace.StageWebResearch))
}

func TestResolveStaleCacheHitIsReverified(t *testing.T) {
	d := &deps{}
	st := newMemStore()
	d.store = st
	stale := model.OwnershipClaim{
		Beneficiary: "Orkla ASA", BeneficiaryCountry: "Norway",
		StructureType: model.StructurePublic, Confidence: 75,
		ResultType: model.ResultWebResearch,
	}
	require.NoError(t, st.UpsertProduct(context.Background(), store.ProductKey{Brand: "Kims"}, stale))

	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kims"})
	require.NoError(t, err)
	assert.True(t, res.Claim.Cached)
	require.NotNil(t, res.Claim.Verification, "stale hits must be re-verified")
	assert.Equal(t, model.VerificationConfirmed, res.Claim.Verification.Status)
	assert.Equal(t, 85, res.Claim.Confidence, "delta from re-verification applies")
	assert.Equal(t, 1, d.gemini.calls)
	assert.False(t, res.Trace.HasStage(trace.StageWebResearch))
}

func TestResolveEmptyBrandIsFatal(t *testing.T) {
	p := newPipeline(t, &deps{})
	_, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "   "})
	require.Error(t, err)
}

func TestResolvePersistsTrace(t *testing.T) {
	d := &deps{}
	p := newPipeline(t, d)

	res, err := p.Resolve(context.Background(), model.ResearchRequest{Brand: "Kit Kat"})
	require.NoError(t, err)

	require.Len(t, d.store.traces, 1)
	assert.Equal(t, res.Trace.ID, d.store.traces[0].ID)
	assert.Equal(t, string(model.ResultStaticMapping), d.store.traces[0].FinalResultType)
	assert.GreaterOrEqual(t, d.store.traces[0].DurationMS, int64(0))
}
