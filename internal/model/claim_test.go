package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimValidate(t *testing.T) {
	tests := []struct {
		name    string
		claim   OwnershipClaim
		wantErr bool
	}{
		{
			name: "valid resolved claim",
			claim: OwnershipClaim{
				Beneficiary: "Nestlé S.A.",
				Confidence:  95,
				OwnershipFlow: []OwnershipNode{
					{Name: "Kit Kat", Role: "brand"},
					{Name: "Nestlé S.A.", Role: "ultimate_owner", Country: "Switzerland"},
				},
			},
		},
		{
			name:  "unknown sentinel",
			claim: UnknownClaim("no evidence"),
		},
		{
			name:    "empty beneficiary",
			claim:   OwnershipClaim{Confidence: 50},
			wantErr: true,
		},
		{
			name:    "confidence above range",
			claim:   OwnershipClaim{Beneficiary: "Acme", Confidence: 101},
			wantErr: true,
		},
		{
			name:    "negative confidence",
			claim:   OwnershipClaim{Beneficiary: "Acme", Confidence: -1},
			wantErr: true,
		},
		{
			name: "cyclic ownership flow",
			claim: OwnershipClaim{
				Beneficiary: "Acme Holdings",
				Confidence:  60,
				OwnershipFlow: []OwnershipNode{
					{Name: "Acme", Role: "brand"},
					{Name: "Acme Holdings", Role: "parent"},
					{Name: "acme", Role: "ultimate_owner"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.claim.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnknownClaim(t *testing.T) {
	c := UnknownClaim("exhausted all stages")
	require.NoError(t, c.Validate())
	assert.False(t, c.Resolved())
	assert.Equal(t, UnknownBeneficiary, c.Beneficiary)
	assert.Less(t, c.Confidence, 40)
	assert.Equal(t, ResultNegative, c.ResultType)
}

func TestRequestValidate(t *testing.T) {
	assert.Error(t, ResearchRequest{}.Validate())
	assert.Error(t, ResearchRequest{Brand: "   "}.Validate())
	assert.NoError(t, ResearchRequest{Brand: "Kit Kat"}.Validate())
}

func TestCountryFlag(t *testing.T) {
	assert.Equal(t, "🇨🇭", CountryFlag("Switzerland"))
	assert.Equal(t, "🇺🇸", CountryFlag("USA"))
	assert.Equal(t, "", CountryFlag("Atlantis"))
}
