package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/trace"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func claimJSON(t *testing.T, c model.OwnershipClaim) []byte {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return data
}

func TestPostgresStore_GetProduct_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM products WHERE brand_norm = \$1 ORDER BY updated_at DESC`).
		WithArgs("acme").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetProduct(context.Background(), ProductKey{Brand: "Acme"})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProduct_BarcodeHitSkipsFallback(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	claim := model.OwnershipClaim{
		Beneficiary: "Nestlé S.A.", Confidence: 95, ResultType: model.ResultStaticMapping,
	}
	rows := pgxmock.NewRows([]string{"id", "barcode", "brand", "claim", "verification_status", "updated_at"}).
		AddRow("p1", "0123456789012", "Kit Kat", claimJSON(t, claim), "confirmed", time.Now().UTC())

	mock.ExpectQuery(`FROM products WHERE barcode = \$1`).
		WithArgs("0123456789012").
		WillReturnRows(rows)

	p, err := s.GetProduct(context.Background(), ProductKey{Barcode: "0123456789012", Brand: "Kit Kat", ProductName: "Chunky"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Nestlé S.A.", p.Claim.Beneficiary)
	assert.Equal(t, "confirmed", p.VerificationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProduct_FallsBackToBrandOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM products WHERE brand_norm = \$1 AND product_norm = \$2`).
		WithArgs("kit kat", "chunky").
		WillReturnError(pgx.ErrNoRows)

	claim := model.OwnershipClaim{Beneficiary: "Nestlé S.A.", Confidence: 92, ResultType: model.ResultWebResearch}
	rows := pgxmock.NewRows([]string{"id", "barcode", "brand", "claim", "verification_status", "updated_at"}).
		AddRow("p2", "", "Kit Kat", claimJSON(t, claim), "", time.Now().UTC())

	mock.ExpectQuery(`FROM products WHERE brand_norm = \$1 ORDER BY updated_at DESC`).
		WithArgs("kit kat").
		WillReturnRows(rows)

	p, err := s.GetProduct(context.Background(), ProductKey{Brand: "Kit Kat", ProductName: "Chunky"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Nestlé S.A.", p.Claim.Beneficiary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProduct(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO products .*ON CONFLICT \(cache_key\)`).
		WithArgs(pgxmock.AnyArg(), "", "Kit Kat", "kit kat", "", "br:kit kat|",
			pgxmock.AnyArg(), "web_research", "confirmed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	claim := model.OwnershipClaim{
		Beneficiary: "Nestlé S.A.",
		Confidence:  92,
		ResultType:  model.ResultWebResearch,
		Verification: &model.VerificationOutcome{
			Status: model.VerificationConfirmed,
		},
	}
	err := s.UpsertProduct(context.Background(), ProductKey{Brand: "Kit Kat"}, claim)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupMapping_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	flow, err := json.Marshal([]model.OwnershipNode{
		{Name: "Kit Kat", Role: "brand"},
		{Name: "Nestlé S.A.", Role: "ultimate_owner", Country: "Switzerland"},
	})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"brand", "beneficiary", "country", "structure_type", "flow"}).
		AddRow("Kit Kat", "Nestlé S.A.", "Switzerland", "public", flow)

	mock.ExpectQuery(`FROM ownership_mappings WHERE brand_norm = \$1`).
		WithArgs("kit kat").
		WillReturnRows(rows)

	m, err := s.LookupMapping(context.Background(), "Kit Kat")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Nestlé S.A.", m.Beneficiary)
	assert.Len(t, m.Flow, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupMapping_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM ownership_mappings WHERE brand_norm = \$1`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	m, err := s.LookupMapping(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMappings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"brand", "beneficiary", "country", "structure_type", "flow"}).
		AddRow("Fanta", "The Coca-Cola Company", "United States", "public", []byte(nil)).
		AddRow("Kit Kat", "Nestlé S.A.", "Switzerland", "public", []byte(nil))

	mock.ExpectQuery(`FROM ownership_mappings ORDER BY brand`).
		WillReturnRows(rows)

	out, err := s.ListMappings(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Fanta", out[0].Brand)
	assert.Equal(t, model.StructurePublic, out[1].StructureType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertKB_GeneratesID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO knowledge_base`).
		WithArgs(pgxmock.AnyArg(), "Lego", "lego", "", "", "", "Lego A/S", "Denmark", "family",
			pgxmock.AnyArg(), 88, "resolved via web research", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.InsertKB(context.Background(), model.KnowledgeBaseEntry{
		Brand:              "Lego",
		Beneficiary:        "Lego A/S",
		BeneficiaryCountry: "Denmark",
		StructureType:      model.StructureFamily,
		Confidence:         88,
		Reasoning:          "resolved via web research",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchKB_MatchesBrandOrProductType(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "brand", "product_name", "barcode", "product_type",
		"beneficiary", "country", "structure_type", "flow", "confidence", "reasoning",
		"sources", "created_at", "updated_at"}).
		AddRow("kb1", "Nescafe Gold", "", "", "coffee", "Nestlé S.A.", "Switzerland", "public",
			[]byte(nil), 90, "", []byte(nil), now, now)

	mock.ExpectQuery(`FROM knowledge_base WHERE brand_norm LIKE .* OR \(\$2 <> '' AND product_type = \$2\)`).
		WithArgs("nescafe", "coffee", 5).
		WillReturnRows(rows)

	out, err := s.SearchKB(context.Background(), "Nescafe", "coffee", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "coffee", out[0].ProductType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAndGetTrace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := trace.NewRecorder("Kit Kat", "", "")
	st := rec.Begin(trace.StageStaticMapping, nil)
	st.Succeed(map[string]any{"financial_beneficiary": "Nestlé S.A."})
	tr := rec.Finalize("static_mapping")

	mock.ExpectExec(`INSERT INTO traces`).
		WithArgs(tr.ID, "Kit Kat", "static_mapping", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveTrace(context.Background(), tr))

	data, err := json.Marshal(tr)
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT data FROM traces WHERE id = \$1`).
		WithArgs(tr.ID).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.GetTrace(context.Background(), tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tr.ID, got.ID)
	assert.True(t, got.HasStage(trace.StageStaticMapping))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTraces_BrandFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "brand", "final_result_type", "duration_ms", "created_at"}).
		AddRow("t1", "Kit Kat", "static_mapping", int64(12), time.Now().UTC())

	mock.ExpectQuery(`FROM traces\s+WHERE brand = \$1`).
		WithArgs("Kit Kat", 10, 0).
		WillReturnRows(rows)

	out, err := s.ListTraces(context.Background(), TraceFilter{Brand: "Kit Kat", Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "t1", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
