package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ownedby/ownership-cli/internal/compliance"
	"github.com/ownedby/ownership-cli/internal/confidence"
	"github.com/ownedby/ownership-cli/internal/kb"
	"github.com/ownedby/ownership-cli/internal/mappings"
	"github.com/ownedby/ownership-cli/internal/pipeline"
	"github.com/ownedby/ownership-cli/internal/query"
	"github.com/ownedby/ownership-cli/internal/research"
	"github.com/ownedby/ownership-cli/internal/store"
	"github.com/ownedby/ownership-cli/internal/synth"
	"github.com/ownedby/ownership-cli/internal/verify"
	anthropicpkg "github.com/ownedby/ownership-cli/pkg/anthropic"
	"github.com/ownedby/ownership-cli/pkg/gemini"
	"github.com/ownedby/ownership-cli/pkg/search"
)

// env bundles the wired pipeline with its store for command lifecycles.
type env struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "ownership.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initPipeline(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	resolver, err := mappings.New(st, cfg.Mappings.File, cfg.Mappings.Confidence)
	if err != nil {
		st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithTimeout(cfg.Anthropic.Timeout()))

	var geminiClient gemini.Client
	if cfg.Gemini.Key != "" {
		geminiClient = gemini.NewClient(cfg.Gemini.Key, cfg.Gemini.Model,
			gemini.WithBaseURL(cfg.Gemini.BaseURL),
			gemini.WithTimeout(cfg.Gemini.Timeout()))
	}

	searchClient := search.NewClient(cfg.Search.Key, cfg.Search.CSEID,
		search.WithBaseURL(cfg.Search.BaseURL))

	p := pipeline.New(
		st,
		resolver,
		kb.New(st, kb.Options{
			SimilarityThreshold:  cfg.Knowledge.SimilarityThreshold,
			PriorMinConfidence:   cfg.Knowledge.PriorMinConfidence,
			PromoteMinConfidence: cfg.Knowledge.PromoteMinConfidence,
			SearchLimit:          cfg.Knowledge.SearchLimit,
		}),
		query.NewBuilder(cfg.Query.MaxQueries),
		research.New(searchClient, research.Options{
			Concurrency:     cfg.Research.QueryConcurrency,
			QueryTimeout:    cfg.Research.QueryTimeout(),
			ResultsPerQuery: cfg.Search.PerQuery,
			ScrapeTopN:      cfg.Research.ScrapeTopN,
			MaxRetries:      cfg.Research.MaxRetries,
			RateLimit:       cfg.Research.RateLimitPerSec,
		}),
		synth.New(anthropicClient, synth.Options{
			Model:                    cfg.Anthropic.SynthesisModel,
			MaxTokens:                cfg.Anthropic.MaxTokens,
			UnknownConfidenceCeiling: cfg.Pipeline.UnknownConfidenceCeiling,
		}),
		compliance.NewRouter(compliance.NewKeywordClassifier(cfg.Compliance.ExtraKeywords)),
		verify.New(geminiClient, anthropicClient, verify.Options{
			ClaudeModel: cfg.Anthropic.VerifierModel,
		}),
		confidence.New(confidence.Options{
			UnknownCeiling: cfg.Pipeline.UnknownConfidenceCeiling,
		}),
		pipeline.Options{
			WebResearchMinConfidence: cfg.Pipeline.WebResearchMinConfidence,
			CacheTTL:                 cfg.Pipeline.CacheTTL(),
		},
	)

	return &env{Store: st, Pipeline: p}, nil
}
