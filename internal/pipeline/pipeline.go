// Package pipeline orchestrates the ownership research fallback chain:
// cache, static mappings, knowledge base, then web research with LLM
// synthesis, compliance-routed verification, and confidence estimation.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

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
)

// Options hold the orchestration thresholds.
type Options struct {
	// WebResearchMinConfidence is the floor below which an early-stage
	// answer is not good enough to stop the chain.
	WebResearchMinConfidence int
	// CacheTTL expires product cache entries. Zero disables expiry.
	CacheTTL time.Duration
}

// Pipeline resolves ownership research requests.
type Pipeline struct {
	store     store.Store
	mappings  *mappings.Resolver
	knowledge *kb.Retriever
	queries   *query.Builder
	agent     *research.Agent
	synth     *synth.Synthesizer
	router    *compliance.Router
	verifier  *verify.Verifier
	estimator *confidence.Estimator
	opts      Options
}

// New creates a Pipeline with all dependencies.
func New(
	st store.Store,
	mp *mappings.Resolver,
	knowledge *kb.Retriever,
	queries *query.Builder,
	agent *research.Agent,
	synthesizer *synth.Synthesizer,
	router *compliance.Router,
	verifier *verify.Verifier,
	estimator *confidence.Estimator,
	opts Options,
) *Pipeline {
	return &Pipeline{
		store:     st,
		mappings:  mp,
		knowledge: knowledge,
		queries:   queries,
		agent:     agent,
		synth:     synthesizer,
		router:    router,
		verifier:  verifier,
		estimator: estimator,
		opts:      opts,
	}
}

// Result is a completed resolution: the claim plus its audit trace.
type Result struct {
	Claim model.OwnershipClaim `json:"claim"`
	Trace *trace.Trace         `json:"trace"`
}

// Resolve walks the fallback chain for one request. It always returns a
// claim when err is nil; the only fatal errors are an invalid request and
// a compliance violation.
func (p *Pipeline) Resolve(ctx context.Context, req model.ResearchRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("brand", req.Brand))
	rec := trace.NewRecorder(req.Brand, req.ProductName, req.Barcode)
	log.Info("resolution started",
		zap.String("trace_id", rec.TraceID()),
		zap.Bool("follow_up", req.FollowUp),
		zap.Bool("evaluation", req.Evaluation))

	key := store.ProductKey{Barcode: req.Barcode, Brand: req.Brand, ProductName: req.ProductName}
	hints := query.ParseHints(req.Context)

	// Stage 1: cache.
	if claim, ok := p.checkCache(ctx, rec, req, key, hints); ok {
		return p.finish(ctx, rec, key, claim, false), nil
	}

	// Stage 2: static mappings.
	if claim, ok := p.checkMappings(ctx, rec, req); ok {
		return p.finish(ctx, rec, key, claim, true), nil
	}

	// Stage 3: knowledge base. A strong prior is verified inside this
	// stage; a contradicted prior falls through to fresh research.
	priors, claim, ok := p.checkKnowledgeBase(ctx, rec, req, hints)
	if ok {
		return p.finish(ctx, rec, key, claim, true), nil
	}

	// Stages 4-5: query building and web research.
	queries := p.buildQueries(rec, req, hints)
	outcome := p.webResearch(ctx, rec, queries)

	// Stage 6: synthesis.
	claim = p.synthesize(ctx, rec, req, hints, outcome, priors)

	// Stages 7-8: compliance routing and verification.
	verification, err := p.verifyClaim(ctx, rec, req, hints, claim, outcome)
	if err != nil {
		// Compliance violations abort the run; the trace is still saved.
		p.saveTrace(ctx, rec.Finalize(string(model.ResultNegative)))
		return nil, err
	}
	claim.Verification = verification

	// Stage 9: confidence estimation.
	claim = p.estimate(rec, claim, outcome, verification)

	res := p.finish(ctx, rec, key, claim, true)
	if p.knowledge != nil {
		if _, err := p.knowledge.Promote(ctx, req, hints, res.Claim); err != nil {
			log.Warn("knowledge base promotion failed", zap.Error(err))
		}
	}
	return res, nil
}

// checkCache applies the cache policy: expired entries miss, negative
// entries are bypassed on follow-up, and stale positive entries (no
// verification on record) are re-verified rather than returned as-is.
func (p *Pipeline) checkCache(ctx context.Context, rec *trace.Recorder, req model.ResearchRequest, key store.ProductKey, hints *model.Hints) (model.OwnershipClaim, bool) {
	st := rec.Begin(trace.StageCacheCheck, map[string]any{
		"barcode": req.Barcode, "brand": req.Brand, "product_name": req.ProductName,
	})

	cached, err := p.store.GetProduct(ctx, key)
	if err != nil {
		st.Fail(err)
		return model.OwnershipClaim{}, false
	}
	if cached == nil {
		st.Skip("no cached result")
		return model.OwnershipClaim{}, false
	}

	if p.opts.CacheTTL > 0 && time.Since(cached.UpdatedAt) > p.opts.CacheTTL {
		st.Reason("cached result expired")
		st.Skip("cache entry older than TTL")
		return model.OwnershipClaim{}, false
	}

	claim := cached.Claim
	if !claim.Resolved() {
		if req.FollowUp {
			st.Decide("bypass_negative_cache", []string{"return_cached_negative"},
				"follow-up requests re-run research past cached negatives")
			st.Skip("follow-up bypasses cached negative result")
			return model.OwnershipClaim{}, false
		}
		claim.Cached = true
		st.Succeed(map[string]any{"result": "cached_negative", "confidence": claim.Confidence})
		return claim, true
	}

	if claim.Verification == nil && cached.VerificationStatus == "" {
		st.Decide("reverify_stale_hit", []string{"return_unverified_hit"},
			"cached claim predates verification, re-running verification")
		if p.reverify(ctx, st, req, hints, &claim) {
			claim.Cached = true
			return claim, true
		}
		st.Skip("stale cache hit could not be re-verified")
		return model.OwnershipClaim{}, false
	}

	claim.Cached = true
	st.Succeed(map[string]any{
		"financial_beneficiary": claim.Beneficiary,
		"confidence":            claim.Confidence,
	})
	return claim, true
}

// verifyInline runs compliance routing and verification within an open
// stage tracker, applying the confidence delta on success. Inline
// verification keeps stale-cache and strong-prior checks inside their
// originating stage instead of opening compliance_routing and
// verification a second time at the top level. Returns false when
// verification errors or contradicts the claim.
func (p *Pipeline) verifyInline(ctx context.Context, st *trace.StageTracker, req model.ResearchRequest, hints *model.Hints, claim *model.OwnershipClaim) bool {
	route := p.router.Route(req, hints)
	verification, err := p.verifier.Verify(ctx, *claim, nil, route.Path, route.Path == model.PathComplianceSafe)
	if err != nil {
		st.Reason("verification failed: " + err.Error())
		return false
	}
	if verification.Status == model.VerificationContradicted {
		st.Reason("claim contradicted on verification")
		return false
	}
	claim.Verification = verification
	claim.Confidence = clamp(claim.Confidence+verification.ConfidenceDelta, 0, 100)
	claim.ConfidenceLevel = confidence.Label(claim.Confidence)
	return true
}

// reverify runs verification for a stale cache hit inside the cache_check
// stage. Returns false when the claim is contradicted; the chain then
// falls through to fresh research.
func (p *Pipeline) reverify(ctx context.Context, st *trace.StageTracker, req model.ResearchRequest, hints *model.Hints, claim *model.OwnershipClaim) bool {
	if !p.verifyInline(ctx, st, req, hints, claim) {
		return false
	}
	st.Succeed(map[string]any{
		"financial_beneficiary": claim.Beneficiary,
		"confidence":            claim.Confidence,
		"reverified":            true,
	})
	if err := p.store.UpsertProduct(ctx, store.ProductKey{
		Barcode: req.Barcode, Brand: req.Brand, ProductName: req.ProductName,
	}, *claim); err != nil {
		zap.L().Warn("stale cache refresh failed", zap.Error(err))
	}
	return true
}

func (p *Pipeline) checkMappings(ctx context.Context, rec *trace.Recorder, req model.ResearchRequest) (model.OwnershipClaim, bool) {
	st := rec.Begin(trace.StageStaticMapping, map[string]any{"brand": req.Brand})

	m, err := p.mappings.Resolve(ctx, req.Brand)
	if err != nil {
		st.Fail(err)
		return model.OwnershipClaim{}, false
	}
	if m == nil {
		st.Skip("no static mapping for brand")
		return model.OwnershipClaim{}, false
	}

	claim := p.mappings.Claim(*m)
	claim.ConfidenceLevel = confidence.Label(claim.Confidence)
	st.Decide("use_static_mapping", []string{"continue_to_knowledge_base"},
		"curated mappings are authoritative and skip verification")
	st.Succeed(map[string]any{
		"financial_beneficiary": claim.Beneficiary,
		"confidence":            claim.Confidence,
	})
	return claim, true
}

// checkKnowledgeBase looks up stored priors. A strong prior is verified
// inside this stage before it may answer the request; a contradicted
// prior demotes to synthesis context and the chain continues, so the
// later compliance and verification stages run exactly once per trace.
func (p *Pipeline) checkKnowledgeBase(ctx context.Context, rec *trace.Recorder, req model.ResearchRequest, hints *model.Hints) ([]model.KnowledgeBaseEntry, model.OwnershipClaim, bool) {
	st := rec.Begin(trace.StageKnowledgeBase, map[string]any{"brand": req.Brand})

	productType := ""
	if hints != nil {
		productType = hints.ProductType
	}
	res, err := p.knowledge.Lookup(ctx, req.Brand, productType)
	if err != nil {
		st.Fail(err)
		return nil, model.OwnershipClaim{}, false
	}

	if res.StrongPrior != nil {
		claim := p.knowledge.Claim(*res.StrongPrior)
		claim.ConfidenceLevel = confidence.Label(claim.Confidence)
		st.Decide("use_strong_prior", []string{"continue_to_web_research"},
			"prior clears similarity and confidence thresholds")
		if p.verifyInline(ctx, st, req, hints, &claim) {
			st.Succeed(map[string]any{
				"financial_beneficiary": claim.Beneficiary,
				"confidence":            claim.Confidence,
				"similarity":            res.StrongPrior.Similarity,
			})
			return nil, claim, true
		}
		st.Reason("prior demoted to synthesis context, continuing chain")
		st.Succeed(map[string]any{"context_entries": len(res.Entries)})
		return res.Entries, model.OwnershipClaim{}, false
	}

	if len(res.Entries) == 0 {
		st.Skip("no knowledge base entries for brand")
		return nil, model.OwnershipClaim{}, false
	}

	st.Reason("entries below strong-prior thresholds, passing as synthesis context")
	st.Succeed(map[string]any{"context_entries": len(res.Entries)})
	return res.Entries, model.OwnershipClaim{}, false
}

func (p *Pipeline) buildQueries(rec *trace.Recorder, req model.ResearchRequest, hints *model.Hints) []query.Query {
	st := rec.Begin(trace.StageQueryBuilder, map[string]any{
		"brand": req.Brand, "context": req.Context,
	})

	queries := p.queries.Build(req, hints)

	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}
	if hints.CountryGuess != "" {
		st.Reason("country hint: " + hints.CountryGuess)
	}
	if hints.ProductType != "" {
		st.Reason("product type hint: " + hints.ProductType)
	}
	st.Succeed(map[string]any{"queries": texts, "count": len(queries)})
	return queries
}

func (p *Pipeline) webResearch(ctx context.Context, rec *trace.Recorder, queries []query.Query) model.ResearchOutcome {
	st := rec.Begin(trace.StageWebResearch, map[string]any{"query_count": len(queries)})

	// The agent fans queries out across goroutines; the tracker is not
	// synchronized, so retry reporting funnels through one mutex.
	var retryMu sync.Mutex
	outcome := p.agent.Run(ctx, queries, func(event string, err error) {
		retryMu.Lock()
		defer retryMu.Unlock()
		status := trace.StatusSuccess
		if err != nil {
			status = trace.StatusError
		}
		st.Retry(event, status, err)
	})
	if !outcome.Success {
		st.Reason("no ownership findings extracted")
		st.Fail(eris.New("web research produced no findings"))
		return outcome
	}
	st.Succeed(map[string]any{
		"findings":       len(outcome.Findings),
		"sources":        len(outcome.Sources),
		"average_source_score": outcome.AvgScore,
	})
	return outcome
}

func (p *Pipeline) synthesize(ctx context.Context, rec *trace.Recorder, req model.ResearchRequest, hints *model.Hints, outcome model.ResearchOutcome, priors []model.KnowledgeBaseEntry) model.OwnershipClaim {
	st := rec.Begin(trace.StageSynthesis, map[string]any{
		"findings":       len(outcome.Findings),
		"prior_entries":  len(priors),
		"prompt_version": synth.SynthesisPrompt.Version,
	})

	claim, err := p.synth.Synthesize(ctx, req, hints, outcome, priors)
	if err != nil {
		st.Fail(err)
		claim = model.UnknownClaim("Synthesis stage failed: " + err.Error())
		claim.Sources = outcome.Sources
		return claim
	}
	st.Succeed(map[string]any{
		"financial_beneficiary": claim.Beneficiary,
		"confidence":            claim.Confidence,
		"result_type":           string(claim.ResultType),
	})
	return claim
}

func (p *Pipeline) verifyClaim(ctx context.Context, rec *trace.Recorder, req model.ResearchRequest, hints *model.Hints, claim model.OwnershipClaim, outcome model.ResearchOutcome) (*model.VerificationOutcome, error) {
	rst := rec.Begin(trace.StageCompliance, map[string]any{"brand": req.Brand})
	route := p.router.Route(req, hints)
	rejected := []string{string(model.PathComplianceSafe)}
	justification := "no restricted category matched"
	if route.Path == model.PathComplianceSafe {
		rejected = []string{string(model.PathPrimary)}
		justification = "restricted keyword matched: " + route.MatchedKeyword
	}
	rst.Decide(string(route.Path), rejected, justification)
	rst.Succeed(map[string]any{"path": string(route.Path)})

	st := rec.Begin(trace.StageVerification, map[string]any{
		"path":                  string(route.Path),
		"financial_beneficiary": claim.Beneficiary,
	})

	if !claim.Resolved() {
		st.Skip("unresolved claims are not verified")
		return &model.VerificationOutcome{
			Status: model.VerificationSkipped,
			Method: "skipped",
			Notes:  "claim did not name an owner",
		}, nil
	}

	if claim.ResultType == model.ResultWebResearch && claim.Confidence < p.opts.WebResearchMinConfidence {
		st.Skip("claim confidence below verification floor")
		return &model.VerificationOutcome{
			Status: model.VerificationSkipped,
			Method: "skipped",
			Notes:  "web research confidence below verification floor",
		}, nil
	}

	verification, err := p.verifier.Verify(ctx, claim, outcome.Findings, route.Path,
		route.Path == model.PathComplianceSafe)
	if err != nil {
		st.Fail(err)
		return nil, err
	}
	st.Succeed(map[string]any{
		"verification_status": string(verification.Status),
		"confidence_delta":    verification.ConfidenceDelta,
		"method":              verification.Method,
	})
	return verification, nil
}

func (p *Pipeline) estimate(rec *trace.Recorder, claim model.OwnershipClaim, outcome model.ResearchOutcome, verification *model.VerificationOutcome) model.OwnershipClaim {
	st := rec.Begin(trace.StageConfidence, map[string]any{
		"initial_confidence": claim.Confidence,
	})

	bd := p.estimator.Estimate(claim, outcome, verification)
	claim.Confidence = bd.Score
	claim.ConfidenceLevel = bd.Label

	components := make([]map[string]any, len(bd.Components))
	for i, c := range bd.Components {
		components[i] = map[string]any{
			"factor":       c.Factor,
			"raw_score":    c.RawScore,
			"weight":       c.Weight,
			"contribution": c.Contribution,
		}
	}
	st.Succeed(map[string]any{
		"confidence_score":       bd.Score,
		"confidence_level":       bd.Label,
		"components":             components,
		"verification_delta":     bd.VerificationDelta,
		"disambiguation_penalty": bd.DisambiguationPenalty,
	})
	return claim
}

// finish writes the result back to the cache (when it is new), persists
// the trace, and assembles the Result.
func (p *Pipeline) finish(ctx context.Context, rec *trace.Recorder, key store.ProductKey, claim model.OwnershipClaim, writeCache bool) *Result {
	if claim.ConfidenceLevel == "" {
		claim.ConfidenceLevel = confidence.Label(claim.Confidence)
	}

	if writeCache {
		st := rec.Begin(trace.StageCacheWrite, map[string]any{
			"result_type": string(claim.ResultType),
		})
		if err := p.store.UpsertProduct(ctx, key, claim); err != nil {
			st.Fail(err)
		} else {
			st.Succeed(map[string]any{"cached": true})
		}
	}

	tr := rec.Finalize(string(claim.ResultType))
	p.saveTrace(ctx, tr)

	zap.L().Info("resolution finished",
		zap.String("brand", key.Brand),
		zap.String("trace_id", tr.ID),
		zap.String("financial_beneficiary", claim.Beneficiary),
		zap.Int("confidence", claim.Confidence),
		zap.String("result_type", string(claim.ResultType)),
		zap.Int64("duration_ms", tr.DurationMS))

	return &Result{Claim: claim, Trace: tr}
}

func (p *Pipeline) saveTrace(ctx context.Context, tr *trace.Trace) {
	if err := p.store.SaveTrace(ctx, tr); err != nil {
		zap.L().Warn("trace persistence failed",
			zap.String("trace_id", tr.ID),
			zap.Error(err))
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
