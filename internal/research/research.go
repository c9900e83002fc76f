// Package research executes web searches for a brand's ownership and
// extracts structured findings from the results.
package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/query"
	"github.com/ownedby/ownership-cli/internal/resilience"
	"github.com/ownedby/ownership-cli/pkg/search"
)

// Options configure the research agent.
type Options struct {
	// Concurrency bounds parallel query execution.
	Concurrency int
	// QueryTimeout bounds one search plus its scrapes.
	QueryTimeout time.Duration
	// ResultsPerQuery is passed to the search API.
	ResultsPerQuery int
	// ScrapeTopN pages are fetched per query, most trusted first.
	ScrapeTopN int
	// MaxRetries bounds alternate-query retries when a search fails.
	MaxRetries int
	// RateLimit caps outbound search requests per second.
	RateLimit float64
}

// Agent runs the web research stage.
type Agent struct {
	client  search.Client
	opts    Options
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// New builds an Agent over a search client.
func New(client search.Client, opts Options) *Agent {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 15 * time.Second
	}
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = 5
	}
	if opts.ScrapeTopN <= 0 {
		opts.ScrapeTopN = 3
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries + 1
	return &Agent{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		retry:   retry,
	}
}

// ReportFunc receives retry and alternate-query events as they happen,
// so the caller can record them against the running stage. A nil err
// marks a recovery step rather than a failure. May be called from
// multiple goroutines.
type ReportFunc func(event string, err error)

// queryResult is what one executed query contributes.
type queryResult struct {
	findings []model.Finding
	sources  []string
	score    float64
}

// Run executes the queries and aggregates findings. It never fails the
// pipeline: when every query errors out, the outcome reports Success
// false and the fallback chain moves on. Retry and alternate-query
// events are surfaced through report when it is non-nil.
func (a *Agent) Run(ctx context.Context, queries []query.Query, report ReportFunc) model.ResearchOutcome {
	var mu sync.Mutex
	var results []queryResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for _, q := range queries {
		q := q
		g.Go(func() error {
			res, err := a.runQuery(gctx, q, report)
			if err != nil {
				zap.L().Warn("research query failed",
					zap.String("query", q.Text),
					zap.Error(err))
				return nil // fail soft, other queries continue
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(results)
}

func (a *Agent) runQuery(ctx context.Context, q query.Query, report ReportFunc) (queryResult, error) {
	qctx, cancel := context.WithTimeout(ctx, a.opts.QueryTimeout)
	defer cancel()

	hits, err := a.search(qctx, q.Text, report)
	if err != nil {
		return queryResult{}, err
	}
	if len(hits) == 0 {
		// One shot at an alternate phrasing before giving up on the query.
		if alt := rephrase(q.Text); alt != "" {
			if report != nil {
				report("alternate query: "+alt, nil)
			}
			hits, err = a.search(qctx, alt, report)
			if err != nil {
				return queryResult{}, err
			}
		}
	}

	// Most promising sources first; only the top N get scraped.
	sort.SliceStable(hits, func(i, j int) bool {
		return hitScore(hits[i]) > hitScore(hits[j])
	})

	var res queryResult
	var trustSum int
	for i, hit := range hits {
		res.sources = append(res.sources, hit.Link)
		trustSum += TrustScore(hit.Link)

		res.findings = append(res.findings, Extract(hit.Snippet, hit.Link)...)

		if i < a.opts.ScrapeTopN {
			text, err := a.client.FetchPage(qctx, hit.Link)
			if err != nil {
				zap.L().Debug("page fetch failed",
					zap.String("url", hit.Link),
					zap.Error(err))
				continue
			}
			res.findings = append(res.findings, Extract(text, hit.Link)...)
		}
	}
	if len(hits) > 0 {
		res.score = float64(trustSum) / float64(len(hits))
	}
	return res, nil
}

func (a *Agent) search(ctx context.Context, text string, report ReportFunc) ([]search.Result, error) {
	cfg := a.retry
	logRetry := resilience.RetryLogger("search", "query")
	cfg.OnRetry = func(attempt int, err error) {
		logRetry(attempt, err)
		if report != nil {
			report(fmt.Sprintf("search attempt %d: %s", attempt, text), err)
		}
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]search.Result, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return a.client.Search(ctx, text, a.opts.ResultsPerQuery)
	})
}

// rephrase produces an alternate wording for a query that returned
// nothing. Empty string means no useful variant exists.
func rephrase(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "parent company"):
		return strings.Replace(lower, "parent company", "owner", 1)
	case strings.Contains(lower, "who owns"):
		return strings.Replace(lower, "who owns", "parent company of", 1)
	default:
		return ""
	}
}

// hitScore ranks a search hit: source trust plus small bumps for
// ownership language in the title or snippet.
func hitScore(hit search.Result) int {
	s := TrustScore(hit.Link)
	if strings.Contains(strings.ToLower(hit.Title), "parent company") {
		s += 8
	}
	if strings.Contains(strings.ToLower(hit.Snippet), "owned by") {
		s += 5
	}
	return s
}

func aggregate(results []queryResult) model.ResearchOutcome {
	out := model.ResearchOutcome{}
	seenFinding := make(map[string]bool)
	seenSource := make(map[string]bool)
	var scoreSum float64

	for _, r := range results {
		for _, f := range r.findings {
			key := f.Owner + "|" + string(f.EvidenceType) + "|" + f.Source
			if seenFinding[key] {
				continue
			}
			seenFinding[key] = true
			out.Findings = append(out.Findings, f)
		}
		for _, s := range r.sources {
			if seenSource[s] {
				continue
			}
			seenSource[s] = true
			out.Sources = append(out.Sources, s)
		}
		scoreSum += r.score
	}

	if len(results) > 0 {
		out.AvgScore = scoreSum / float64(len(results))
	}
	out.Success = len(out.Findings) > 0
	return out
}
