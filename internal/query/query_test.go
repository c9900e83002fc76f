package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownedby/ownership-cli/internal/model"
)

func TestParseHintsCountryAndProductType(t *testing.T) {
	h := ParseHints("pork rinds from Denmark I think")
	assert.Equal(t, "Denmark", h.CountryGuess)
	assert.Equal(t, "snack food", h.ProductType)
	assert.Contains(t, h.EntitySuffixes, "A/S")
	assert.Contains(t, h.RegistryHints, "CVR registry")
}

func TestParseHintsCountryOnly(t *testing.T) {
	h := ParseHints("something made in Germany.")
	assert.Equal(t, "Germany", h.CountryGuess)
	assert.Contains(t, h.EntitySuffixes, "GmbH")
	assert.Empty(t, h.ProductType)
}

func TestParseHintsUnknownCountryNoSuffixes(t *testing.T) {
	h := ParseHints("cheap stuff from Atlantis")
	assert.Equal(t, "Atlantis", h.CountryGuess)
	assert.Empty(t, h.EntitySuffixes)
	assert.Empty(t, h.RegistryHints)
}

func TestParseHintsEmptyContext(t *testing.T) {
	h := ParseHints("   ")
	assert.Empty(t, h.CountryGuess)
	assert.Empty(t, h.ProductType)
}

func TestBuildPrioritizesOwnershipQueries(t *testing.T) {
	b := NewBuilder(8)
	qs := b.Build(model.ResearchRequest{Brand: "Kims"}, nil)

	require.NotEmpty(t, qs)
	assert.LessOrEqual(t, len(qs), 8)
	assert.Equal(t, 1, qs[0].Priority)
	assert.Contains(t, qs[0].Text, "Kims")
	for i := 1; i < len(qs); i++ {
		assert.GreaterOrEqual(t, qs[i].Priority, qs[i-1].Priority, "queries must be priority ordered")
	}
}

func TestBuildHonorsBudget(t *testing.T) {
	b := NewBuilder(3)
	hints := ParseHints("pork rinds from Denmark I think")
	qs := b.Build(model.ResearchRequest{Brand: "Kims", ProductName: "Sour Cream Chips"}, hints)
	assert.Len(t, qs, 3)
}

func TestBuildUsesHints(t *testing.T) {
	b := NewBuilder(12)
	hints := &model.Hints{
		CountryGuess:   "Denmark",
		EntitySuffixes: []string{"A/S"},
		RegistryHints:  []string{"CVR registry"},
		IndustryHints:  []string{"snack producer"},
	}
	qs := b.Build(model.ResearchRequest{Brand: "Kims"}, hints)

	var texts []string
	for _, q := range qs {
		texts = append(texts, q.Text)
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "Denmark")
	assert.Contains(t, joined, "CVR registry")
	assert.Contains(t, joined, "A/S")
	assert.Contains(t, joined, "snack producer")
}

func TestBuildDeduplicates(t *testing.T) {
	b := NewBuilder(20)
	qs := b.Build(model.ResearchRequest{Brand: "Acme"}, nil)

	seen := make(map[string]bool)
	for _, q := range qs {
		key := strings.ToLower(q.Text)
		assert.False(t, seen[key], "duplicate query %q", q.Text)
		seen[key] = true
	}
}
