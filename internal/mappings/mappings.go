// Package mappings resolves brands against a curated table of known
// ownership facts. A hit here is authoritative and skips web research.
package mappings

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/store"
)

// seeds are well-known brand → ultimate owner facts shipped with the
// binary. Operator-supplied entries (file or database) take precedence.
var seeds = []store.Mapping{
	{
		Brand: "Kit Kat", Beneficiary: "Nestlé S.A.", Country: "Switzerland",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Kit Kat", Role: "brand"},
			{Name: "Nestlé S.A.", Role: "ultimate_owner", Country: "Switzerland"},
		},
	},
	{
		Brand: "Nescafé", Beneficiary: "Nestlé S.A.", Country: "Switzerland",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Nescafé", Role: "brand"},
			{Name: "Nestlé S.A.", Role: "ultimate_owner", Country: "Switzerland"},
		},
	},
	{
		Brand: "Ben & Jerry's", Beneficiary: "Unilever PLC", Country: "United Kingdom",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Ben & Jerry's", Role: "brand"},
			{Name: "Unilever PLC", Role: "ultimate_owner", Country: "United Kingdom"},
		},
	},
	{
		Brand: "Dove", Beneficiary: "Unilever PLC", Country: "United Kingdom",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Dove", Role: "brand"},
			{Name: "Unilever PLC", Role: "ultimate_owner", Country: "United Kingdom"},
		},
	},
	{
		Brand: "Gillette", Beneficiary: "Procter & Gamble Co.", Country: "United States",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Gillette", Role: "brand"},
			{Name: "Procter & Gamble Co.", Role: "ultimate_owner", Country: "United States"},
		},
	},
	{
		Brand: "Fanta", Beneficiary: "The Coca-Cola Company", Country: "United States",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Fanta", Role: "brand"},
			{Name: "The Coca-Cola Company", Role: "ultimate_owner", Country: "United States"},
		},
	},
	{
		Brand: "Pampers", Beneficiary: "Procter & Gamble Co.", Country: "United States",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Pampers", Role: "brand"},
			{Name: "Procter & Gamble Co.", Role: "ultimate_owner", Country: "United States"},
		},
	},
	{
		Brand: "Lego", Beneficiary: "Kirkbi A/S", Country: "Denmark",
		StructureType: model.StructureFamily,
		Flow: []model.OwnershipNode{
			{Name: "Lego", Role: "brand"},
			{Name: "Lego A/S", Role: "parent", Country: "Denmark"},
			{Name: "Kirkbi A/S", Role: "ultimate_owner", Country: "Denmark"},
		},
	},
	{
		Brand: "Instagram", Beneficiary: "Meta Platforms, Inc.", Country: "United States",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "Instagram", Role: "brand"},
			{Name: "Meta Platforms, Inc.", Role: "ultimate_owner", Country: "United States"},
		},
	},
	{
		Brand: "YouTube", Beneficiary: "Alphabet Inc.", Country: "United States",
		StructureType: model.StructurePublic,
		Flow: []model.OwnershipNode{
			{Name: "YouTube", Role: "brand"},
			{Name: "Google LLC", Role: "parent", Country: "United States"},
			{Name: "Alphabet Inc.", Role: "ultimate_owner", Country: "United States"},
		},
	},
}

// Resolver answers static mapping lookups from built-in seeds, an
// optional operator file, and database-managed entries.
type Resolver struct {
	store      store.Store
	local      map[string]store.Mapping
	confidence int
}

// fileMapping is the YAML shape of one operator-supplied entry.
type fileMapping struct {
	Brand         string                `yaml:"brand"`
	Beneficiary   string                `yaml:"financial_beneficiary"`
	Country       string                `yaml:"beneficiary_country"`
	StructureType string                `yaml:"ownership_structure_type"`
	Flow          []model.OwnershipNode `yaml:"ownership_flow"`
}

// New builds a Resolver. mappingFile may be empty; when set it must parse.
func New(st store.Store, mappingFile string, confidence int) (*Resolver, error) {
	r := &Resolver{
		store:      st,
		local:      make(map[string]store.Mapping, len(seeds)),
		confidence: confidence,
	}
	for _, m := range seeds {
		r.local[model.NormalizeName(m.Brand)] = m
	}

	if mappingFile != "" {
		data, err := os.ReadFile(mappingFile)
		if err != nil {
			return nil, eris.Wrapf(err, "mappings: read %s", mappingFile)
		}
		var entries []fileMapping
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, eris.Wrapf(err, "mappings: parse %s", mappingFile)
		}
		for _, e := range entries {
			if e.Brand == "" || e.Beneficiary == "" {
				return nil, eris.Errorf("mappings: entry in %s missing brand or beneficiary", mappingFile)
			}
			st := model.StructureType(e.StructureType)
			if st == "" {
				st = model.StructureUnknown
			}
			r.local[model.NormalizeName(e.Brand)] = store.Mapping{
				Brand:         e.Brand,
				Beneficiary:   e.Beneficiary,
				Country:       e.Country,
				StructureType: st,
				Flow:          e.Flow,
			}
		}
		zap.L().Info("loaded mapping file",
			zap.String("file", mappingFile),
			zap.Int("entries", len(entries)))
	}

	return r, nil
}

// Resolve looks up a brand. Operator entries shadow seeds; the database
// is consulted last so a degraded store never hides built-in facts.
func (r *Resolver) Resolve(ctx context.Context, brand string) (*store.Mapping, error) {
	if m, ok := r.local[model.NormalizeName(brand)]; ok {
		return &m, nil
	}
	if r.store == nil {
		return nil, nil
	}
	return r.store.LookupMapping(ctx, brand)
}

// Claim converts a mapping hit into a fully populated ownership claim.
func (r *Resolver) Claim(m store.Mapping) model.OwnershipClaim {
	return model.OwnershipClaim{
		Beneficiary:        m.Beneficiary,
		BeneficiaryCountry: m.Country,
		BeneficiaryFlag:    model.CountryFlag(m.Country),
		StructureType:      m.StructureType,
		OwnershipFlow:      m.Flow,
		Confidence:         r.confidence,
		Reasoning:          "Matched curated ownership mapping for " + m.Brand + ".",
		ResultType:         model.ResultStaticMapping,
	}
}
