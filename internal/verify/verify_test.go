package verify

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/pkg/anthropic"
	"github.com/ownedby/ownership-cli/pkg/gemini"
)

type fakeGemini struct {
	response string
	err      error
	called   bool
}

func (f *fakeGemini) GenerateContent(ctx context.Context, req gemini.GenerateRequest) (string, error) {
	f.called = true
	return f.response, f.err
}

type fakeClaude struct {
	response string
	err      error
	called   bool
}

func (f *fakeClaude) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.response}},
	}, nil
}

func sampleClaim() model.OwnershipClaim {
	return model.OwnershipClaim{
		Beneficiary: "Orkla ASA", BeneficiaryCountry: "Norway",
		StructureType: model.StructurePublic, Confidence: 80,
	}
}

func sampleFindings() []model.Finding {
	return []model.Finding{{
		Owner: "Orkla ASA", Source: "https://en.wikipedia.org/wiki/Kims",
		EvidenceType: model.EvidenceSubsidiary,
		Snippet:      "Kims is a subsidiary of Orkla ASA.",
	}}
}

func TestVerifyPrimaryPath(t *testing.T) {
	g := &fakeGemini{response: `{"verification_status":"confirmed","confidence_delta":10,
		"supporting_evidence":[{"text":"Kims is a subsidiary of Orkla ASA.","source":"wikipedia"}],
		"verification_notes":"Direct statement of ownership."}`}
	c := &fakeClaude{}
	v := New(g, c, Options{ClaudeModel: "m"})

	out, err := v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathPrimary, false)
	require.NoError(t, err)
	assert.True(t, g.called)
	assert.False(t, c.called)
	assert.Equal(t, model.VerificationConfirmed, out.Status)
	assert.Equal(t, 10, out.ConfidenceDelta)
	assert.Equal(t, "gemini_primary", out.Method)
	assert.Len(t, out.Supporting, 1)
}

func TestVerifyComplianceSafePathUsesClaude(t *testing.T) {
	g := &fakeGemini{}
	c := &fakeClaude{response: `{"verification_status":"ambiguous","confidence_delta":-5}`}
	v := New(g, c, Options{ClaudeModel: "m"})

	out, err := v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathComplianceSafe, true)
	require.NoError(t, err)
	assert.True(t, c.called)
	assert.False(t, g.called)
	assert.Equal(t, model.VerificationAmbiguous, out.Status)
	assert.Equal(t, "claude_compliance_safe", out.Method)
}

func TestVerifyRestrictedOnPrimaryIsFatal(t *testing.T) {
	g := &fakeGemini{}
	c := &fakeClaude{}
	v := New(g, c, Options{ClaudeModel: "m"})

	_, err := v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathPrimary, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComplianceViolation)
	assert.False(t, g.called, "no model call may happen on a compliance violation")
	assert.False(t, c.called)
}

func TestVerifyDeltaClamped(t *testing.T) {
	g := &fakeGemini{response: `{"verification_status":"contradicted","confidence_delta":-80}`}
	v := New(g, nil, Options{})

	out, err := v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathPrimary, false)
	require.NoError(t, err)
	assert.Equal(t, -30, out.ConfidenceDelta)

	g.response = `{"verification_status":"confirmed","confidence_delta":50}`
	out, err = v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathPrimary, false)
	require.NoError(t, err)
	assert.Equal(t, 20, out.ConfidenceDelta)
}

func TestVerifyModelFailureDegrades(t *testing.T) {
	g := &fakeGemini{err: eris.New("gemini: unexpected status 500")}
	v := New(g, nil, Options{})

	out, err := v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathPrimary, false)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationNotVerified, out.Status)
	assert.Zero(t, out.ConfidenceDelta)
}

func TestVerifyGarbageOutputDegrades(t *testing.T) {
	g := &fakeGemini{response: "definitely confirmed, trust me"}
	v := New(g, nil, Options{})

	out, err := v.Verify(context.Background(), sampleClaim(), sampleFindings(), model.PathPrimary, false)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationNotVerified, out.Status)
}
