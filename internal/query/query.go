// Package query turns a research request into a prioritized set of web
// search queries under a fixed budget.
package query

import (
	"fmt"
	"strings"

	"github.com/ownedby/ownership-cli/internal/model"
)

// DefaultBudget caps queries per request; the most expensive stage of the
// pipeline runs one search per query.
const DefaultBudget = 8

// Query is a single search to execute, with the purpose that produced it.
// Priority runs 1 (highest) to 5; research executes in priority order and
// alternates lower-priority queries in on retry.
type Query struct {
	Text     string `json:"query"`
	Purpose  string `json:"purpose"`
	Priority int    `json:"priority"`
}

// Builder generates search queries from a request and its parsed hints.
type Builder struct {
	budget int
}

// NewBuilder creates a Builder. budget <= 0 selects DefaultBudget.
func NewBuilder(budget int) *Builder {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Builder{budget: budget}
}

// Build produces deduplicated queries sorted by priority within the
// budget. Ownership-focused queries come first; registry and suffix
// expansions fill the remainder.
func (b *Builder) Build(req model.ResearchRequest, hints *model.Hints) []Query {
	brand := strings.TrimSpace(req.Brand)
	var out []Query
	add := func(text, purpose string, priority int) {
		out = append(out, Query{Text: text, Purpose: purpose, Priority: priority})
	}

	add(fmt.Sprintf("%q parent company", brand), "direct ownership lookup", 1)
	add(fmt.Sprintf("who owns %q", brand), "direct ownership lookup", 1)
	add(fmt.Sprintf("%q brand owner ultimate parent", brand), "ownership chain", 2)
	add(fmt.Sprintf("%q acquired by", brand), "acquisition history", 2)

	if req.ProductName != "" {
		add(fmt.Sprintf("%q %q manufacturer", brand, req.ProductName), "product manufacturer", 3)
	}

	if hints != nil {
		if hints.CountryGuess != "" {
			add(fmt.Sprintf("%q company %s", brand, hints.CountryGuess), "country-scoped lookup", 2)
			for _, reg := range hints.RegistryHints {
				add(fmt.Sprintf("%q %s", brand, reg), "registry lookup", 3)
			}
		}
		for _, suffix := range hints.EntitySuffixes {
			add(fmt.Sprintf("%q %s", brand, suffix), "legal entity lookup", 4)
		}
		for _, ind := range hints.IndustryHints {
			add(fmt.Sprintf("%q %s owner", brand, ind), "industry-scoped lookup", 4)
		}
	}

	add(fmt.Sprintf("%q wikipedia company", brand), "background lookup", 5)

	deduped := dedupe(sortStable(out))
	if len(deduped) > b.budget {
		deduped = deduped[:b.budget]
	}
	return deduped
}

func sortStable(qs []Query) []Query {
	// Insertion sort keeps generation order within equal priorities.
	for i := 1; i < len(qs); i++ {
		for j := i; j > 0 && qs[j].Priority < qs[j-1].Priority; j-- {
			qs[j], qs[j-1] = qs[j-1], qs[j]
		}
	}
	return qs
}

func dedupe(qs []Query) []Query {
	seen := make(map[string]bool, len(qs))
	out := qs[:0:0]
	for _, q := range qs {
		key := strings.ToLower(q.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
