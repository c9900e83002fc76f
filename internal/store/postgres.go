package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/trace"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id                  TEXT PRIMARY KEY,
	barcode             TEXT NOT NULL DEFAULT '',
	brand               TEXT NOT NULL,
	brand_norm          TEXT NOT NULL,
	product_norm        TEXT NOT NULL DEFAULT '',
	cache_key           TEXT NOT NULL UNIQUE,
	claim               JSONB NOT NULL,
	result_type         TEXT NOT NULL,
	verification_status TEXT NOT NULL DEFAULT '',
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_barcode ON products (barcode) WHERE barcode <> '';
CREATE INDEX IF NOT EXISTS idx_products_brand ON products (brand_norm);

CREATE TABLE IF NOT EXISTS ownership_mappings (
	brand_norm     TEXT PRIMARY KEY,
	brand          TEXT NOT NULL,
	beneficiary    TEXT NOT NULL,
	country        TEXT NOT NULL DEFAULT '',
	structure_type TEXT NOT NULL DEFAULT 'unknown',
	flow           JSONB
);

CREATE TABLE IF NOT EXISTS knowledge_base (
	id             TEXT PRIMARY KEY,
	brand          TEXT NOT NULL,
	brand_norm     TEXT NOT NULL,
	product_name   TEXT NOT NULL DEFAULT '',
	barcode        TEXT NOT NULL DEFAULT '',
	product_type   TEXT NOT NULL DEFAULT '',
	beneficiary    TEXT NOT NULL,
	country        TEXT NOT NULL DEFAULT '',
	structure_type TEXT NOT NULL DEFAULT 'unknown',
	flow           JSONB,
	confidence     INT NOT NULL,
	reasoning      TEXT NOT NULL DEFAULT '',
	sources        JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kb_brand ON knowledge_base (brand_norm);
CREATE INDEX IF NOT EXISTS idx_kb_confidence ON knowledge_base (confidence);

CREATE TABLE IF NOT EXISTS traces (
	id                TEXT PRIMARY KEY,
	brand             TEXT NOT NULL,
	final_result_type TEXT NOT NULL DEFAULT '',
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	data              JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_brand ON traces (brand);
`

// Migrate creates the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// cacheKey derives the unique upsert key for a product: barcode when
// present, otherwise normalized brand plus product name.
func cacheKey(key ProductKey) string {
	if key.Barcode != "" {
		return "bc:" + key.Barcode
	}
	return "br:" + model.NormalizeName(key.Brand) + "|" + model.NormalizeName(key.ProductName)
}

const selectProduct = `SELECT id, barcode, brand, claim, verification_status, updated_at FROM products`

func (s *PostgresStore) scanProduct(row pgx.Row) (*CachedProduct, error) {
	var p CachedProduct
	var claimJSON []byte
	err := row.Scan(&p.ID, &p.Key.Barcode, &p.Key.Brand, &claimJSON, &p.VerificationStatus, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	if err := json.Unmarshal(claimJSON, &p.Claim); err != nil {
		return nil, eris.Wrap(err, "postgres: decode claim")
	}
	return &p, nil
}

// GetProduct performs the dual-key lookup: most specific key first, then
// brand-only fallback.
func (s *PostgresStore) GetProduct(ctx context.Context, key ProductKey) (*CachedProduct, error) {
	if key.Barcode != "" {
		p, err := s.scanProduct(s.pool.QueryRow(ctx,
			selectProduct+` WHERE barcode = $1 ORDER BY updated_at DESC LIMIT 1`, key.Barcode))
		if err != nil || p != nil {
			return p, err
		}
	}

	if key.ProductName != "" {
		p, err := s.scanProduct(s.pool.QueryRow(ctx,
			selectProduct+` WHERE brand_norm = $1 AND product_norm = $2 ORDER BY updated_at DESC LIMIT 1`,
			model.NormalizeName(key.Brand), model.NormalizeName(key.ProductName)))
		if err != nil || p != nil {
			return p, err
		}
	}

	return s.scanProduct(s.pool.QueryRow(ctx,
		selectProduct+` WHERE brand_norm = $1 ORDER BY updated_at DESC LIMIT 1`,
		model.NormalizeName(key.Brand)))
}

// UpsertProduct writes a claim under the request key. Last write wins on
// key collisions; re-running research is idempotent in effect.
func (s *PostgresStore) UpsertProduct(ctx context.Context, key ProductKey, claim model.OwnershipClaim) error {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return eris.Wrap(err, "postgres: encode claim")
	}

	verStatus := ""
	if claim.Verification != nil {
		verStatus = string(claim.Verification.Status)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO products (id, barcode, brand, brand_norm, product_norm, cache_key, claim, result_type, verification_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cache_key) DO UPDATE SET
			claim = EXCLUDED.claim,
			result_type = EXCLUDED.result_type,
			verification_status = EXCLUDED.verification_status,
			updated_at = EXCLUDED.updated_at`,
		uuid.NewString(), key.Barcode, key.Brand,
		model.NormalizeName(key.Brand), model.NormalizeName(key.ProductName),
		cacheKey(key), claimJSON, string(claim.ResultType), verStatus, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert product")
	}
	return nil
}

// LookupMapping returns the static mapping for a brand, or nil.
func (s *PostgresStore) LookupMapping(ctx context.Context, brand string) (*Mapping, error) {
	var m Mapping
	var flowJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT brand, beneficiary, country, structure_type, flow FROM ownership_mappings WHERE brand_norm = $1`,
		model.NormalizeName(brand),
	).Scan(&m.Brand, &m.Beneficiary, &m.Country, &m.StructureType, &flowJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup mapping")
	}
	if len(flowJSON) > 0 {
		if err := json.Unmarshal(flowJSON, &m.Flow); err != nil {
			return nil, eris.Wrap(err, "postgres: decode mapping flow")
		}
	}
	return &m, nil
}

// ListMappings returns every curated mapping, alphabetical by brand.
func (s *PostgresStore) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT brand, beneficiary, country, structure_type, flow FROM ownership_mappings ORDER BY brand`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mappings")
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var flowJSON []byte
		if err := rows.Scan(&m.Brand, &m.Beneficiary, &m.Country, &m.StructureType, &flowJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		if len(flowJSON) > 0 {
			if err := json.Unmarshal(flowJSON, &m.Flow); err != nil {
				return nil, eris.Wrap(err, "postgres: decode mapping flow")
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate mappings")
	}
	return out, nil
}

// UpsertMapping writes one curated brand → owner fact.
func (s *PostgresStore) UpsertMapping(ctx context.Context, m Mapping) error {
	flowJSON, err := json.Marshal(m.Flow)
	if err != nil {
		return eris.Wrap(err, "postgres: encode mapping flow")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ownership_mappings (brand_norm, brand, beneficiary, country, structure_type, flow)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (brand_norm) DO UPDATE SET
			beneficiary = EXCLUDED.beneficiary,
			country = EXCLUDED.country,
			structure_type = EXCLUDED.structure_type,
			flow = EXCLUDED.flow`,
		model.NormalizeName(m.Brand), m.Brand, m.Beneficiary, m.Country, string(m.StructureType), flowJSON,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert mapping")
	}
	return nil
}

// InsertKB persists a knowledge base entry and returns its ID.
func (s *PostgresStore) InsertKB(ctx context.Context, entry model.KnowledgeBaseEntry) (string, error) {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	flowJSON, err := json.Marshal(entry.OwnershipFlow)
	if err != nil {
		return "", eris.Wrap(err, "postgres: encode kb flow")
	}
	sourcesJSON, err := json.Marshal(entry.Sources)
	if err != nil {
		return "", eris.Wrap(err, "postgres: encode kb sources")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_base (id, brand, brand_norm, product_name, barcode, product_type, beneficiary, country, structure_type, flow, confidence, reasoning, sources, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		id, entry.Brand, model.NormalizeName(entry.Brand), entry.ProductName, entry.Barcode,
		entry.ProductType, entry.Beneficiary, entry.BeneficiaryCountry, string(entry.StructureType),
		flowJSON, entry.Confidence, entry.Reasoning, sourcesJSON, now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert kb entry")
	}
	return id, nil
}

const selectKB = `SELECT id, brand, product_name, barcode, product_type, beneficiary, country, structure_type, flow, confidence, reasoning, sources, created_at, updated_at FROM knowledge_base`

func scanKBRows(rows pgx.Rows) ([]model.KnowledgeBaseEntry, error) {
	defer rows.Close()
	var entries []model.KnowledgeBaseEntry
	for rows.Next() {
		var e model.KnowledgeBaseEntry
		var flowJSON, sourcesJSON []byte
		var structureType string
		if err := rows.Scan(&e.ID, &e.Brand, &e.ProductName, &e.Barcode, &e.ProductType,
			&e.Beneficiary, &e.BeneficiaryCountry, &structureType, &flowJSON,
			&e.Confidence, &e.Reasoning, &sourcesJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kb entry")
		}
		e.StructureType = model.StructureType(structureType)
		if len(flowJSON) > 0 {
			if err := json.Unmarshal(flowJSON, &e.OwnershipFlow); err != nil {
				return nil, eris.Wrap(err, "postgres: decode kb flow")
			}
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &e.Sources); err != nil {
				return nil, eris.Wrap(err, "postgres: decode kb sources")
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate kb rows")
	}
	return entries, nil
}

// SearchKB returns entries whose brand contains the given brand name or
// whose product type matches, highest confidence first.
func (s *PostgresStore) SearchKB(ctx context.Context, brand, productType string, limit int) ([]model.KnowledgeBaseEntry, error) {
	rows, err := s.pool.Query(ctx,
		selectKB+` WHERE brand_norm LIKE '%' || $1 || '%' OR ($2 <> '' AND product_type = $2) ORDER BY confidence DESC LIMIT $3`,
		model.NormalizeName(brand), productType, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search kb")
	}
	return scanKBRows(rows)
}

// HighConfidenceKB returns entries at or above the confidence floor, used
// for fuzzy pattern ranking when no direct brand match exists.
func (s *PostgresStore) HighConfidenceKB(ctx context.Context, minConfidence, limit int) ([]model.KnowledgeBaseEntry, error) {
	rows, err := s.pool.Query(ctx,
		selectKB+` WHERE confidence >= $1 ORDER BY confidence DESC LIMIT $2`,
		minConfidence, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: high confidence kb")
	}
	return scanKBRows(rows)
}

// KBStats summarizes the knowledge base.
func (s *PostgresStore) KBStats(ctx context.Context) (*model.KBStats, error) {
	stats := &model.KBStats{StructureTypes: make(map[string]int)}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM knowledge_base`,
	).Scan(&stats.TotalEntries, &stats.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: kb stats totals")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT structure_type, COUNT(*) FROM knowledge_base GROUP BY structure_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: kb stats structure types")
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan structure type count")
		}
		stats.StructureTypes[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate structure types")
	}

	brandRows, err := s.pool.Query(ctx,
		`SELECT brand, COUNT(*) AS n FROM knowledge_base GROUP BY brand ORDER BY n DESC LIMIT 10`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: kb stats top brands")
	}
	defer brandRows.Close()
	for brandRows.Next() {
		var bc model.BrandCount
		if err := brandRows.Scan(&bc.Brand, &bc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan brand count")
		}
		stats.TopBrands = append(stats.TopBrands, bc)
	}
	if err := brandRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate top brands")
	}

	return stats, nil
}

// SaveTrace persists a completed execution trace.
func (s *PostgresStore) SaveTrace(ctx context.Context, tr *trace.Trace) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return eris.Wrap(err, "postgres: encode trace")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO traces (id, brand, final_result_type, duration_ms, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, tr.Brand, tr.FinalResultType, tr.DurationMS, data, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: save trace")
	}
	return nil
}

// GetTrace loads a trace by ID.
func (s *PostgresStore) GetTrace(ctx context.Context, id string) (*trace.Trace, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM traces WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get trace")
	}
	var tr trace.Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, eris.Wrap(err, "postgres: decode trace")
	}
	return &tr, nil
}

// ListTraces returns trace summaries, newest first.
func (s *PostgresStore) ListTraces(ctx context.Context, filter TraceFilter) ([]TraceSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows pgx.Rows
	var err error
	if filter.Brand != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, brand, final_result_type, duration_ms, created_at FROM traces
			WHERE brand = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			filter.Brand, limit, filter.Offset)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, brand, final_result_type, duration_ms, created_at FROM traces
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, filter.Offset)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list traces")
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var ts TraceSummary
		if err := rows.Scan(&ts.ID, &ts.Brand, &ts.FinalResultType, &ts.DurationMS, &ts.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trace summary")
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate traces")
	}
	return out, nil
}
