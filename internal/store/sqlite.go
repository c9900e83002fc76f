package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/trace"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	id                  TEXT PRIMARY KEY,
	barcode             TEXT NOT NULL DEFAULT '',
	brand               TEXT NOT NULL,
	brand_norm          TEXT NOT NULL,
	product_norm        TEXT NOT NULL DEFAULT '',
	cache_key           TEXT NOT NULL UNIQUE,
	claim               TEXT NOT NULL,
	result_type         TEXT NOT NULL,
	verification_status TEXT NOT NULL DEFAULT '',
	updated_at          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_barcode ON products(barcode);
CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand_norm);

CREATE TABLE IF NOT EXISTS ownership_mappings (
	brand_norm     TEXT PRIMARY KEY,
	brand          TEXT NOT NULL,
	beneficiary    TEXT NOT NULL,
	country        TEXT NOT NULL DEFAULT '',
	structure_type TEXT NOT NULL DEFAULT 'unknown',
	flow           TEXT
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
	flow           TEXT,
	confidence     INTEGER NOT NULL,
	reasoning      TEXT NOT NULL DEFAULT '',
	sources        TEXT,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kb_brand ON knowledge_base(brand_norm);
CREATE INDEX IF NOT EXISTS idx_kb_confidence ON knowledge_base(confidence);

CREATE TABLE IF NOT EXISTS traces (
	id                TEXT PRIMARY KEY,
	brand             TEXT NOT NULL,
	final_result_type TEXT NOT NULL DEFAULT '',
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	data              TEXT NOT NULL,
	created_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_brand ON traces(brand);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) scanProduct(row *sql.Row) (*CachedProduct, error) {
	var p CachedProduct
	var claimJSON string
	err := row.Scan(&p.ID, &p.Key.Barcode, &p.Key.Brand, &claimJSON, &p.VerificationStatus, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	if err := json.Unmarshal([]byte(claimJSON), &p.Claim); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode claim")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, key ProductKey) (*CachedProduct, error) {
	const sel = `SELECT id, barcode, brand, claim, verification_status, updated_at FROM products`

	if key.Barcode != "" {
		p, err := s.scanProduct(s.db.QueryRowContext(ctx,
			sel+` WHERE barcode = ? ORDER BY updated_at DESC LIMIT 1`, key.Barcode))
		if err != nil || p != nil {
			return p, err
		}
	}

	if key.ProductName != "" {
		p, err := s.scanProduct(s.db.QueryRowContext(ctx,
			sel+` WHERE brand_norm = ? AND product_norm = ? ORDER BY updated_at DESC LIMIT 1`,
			model.NormalizeName(key.Brand), model.NormalizeName(key.ProductName)))
		if err != nil || p != nil {
			return p, err
		}
	}

	return s.scanProduct(s.db.QueryRowContext(ctx,
		sel+` WHERE brand_norm = ? ORDER BY updated_at DESC LIMIT 1`,
		model.NormalizeName(key.Brand)))
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, key ProductKey, claim model.OwnershipClaim) error {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode claim")
	}

	verStatus := ""
	if claim.Verification != nil {
		verStatus = string(claim.Verification.Status)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, barcode, brand, brand_norm, product_norm, cache_key, claim, result_type, verification_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			claim = excluded.claim,
			result_type = excluded.result_type,
			verification_status = excluded.verification_status,
			updated_at = excluded.updated_at`,
		uuid.NewString(), key.Barcode, key.Brand,
		model.NormalizeName(key.Brand), model.NormalizeName(key.ProductName),
		cacheKey(key), string(claimJSON), string(claim.ResultType), verStatus, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert product")
}

func (s *SQLiteStore) LookupMapping(ctx context.Context, brand string) (*Mapping, error) {
	var m Mapping
	var structureType string
	var flowJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT brand, beneficiary, country, structure_type, flow FROM ownership_mappings WHERE brand_norm = ?`,
		model.NormalizeName(brand),
	).Scan(&m.Brand, &m.Beneficiary, &m.Country, &structureType, &flowJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup mapping")
	}
	m.StructureType = model.StructureType(structureType)
	if flowJSON.Valid && flowJSON.String != "" {
		if err := json.Unmarshal([]byte(flowJSON.String), &m.Flow); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode mapping flow")
		}
	}
	return &m, nil
}

func (s *SQLiteStore) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT brand, beneficiary, country, structure_type, flow FROM ownership_mappings ORDER BY brand`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mappings")
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var structureType string
		var flowJSON sql.NullString
		if err := rows.Scan(&m.Brand, &m.Beneficiary, &m.Country, &structureType, &flowJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		m.StructureType = model.StructureType(structureType)
		if flowJSON.Valid && flowJSON.String != "" {
			if err := json.Unmarshal([]byte(flowJSON.String), &m.Flow); err != nil {
				return nil, eris.Wrap(err, "sqlite: decode mapping flow")
			}
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate mappings")
}

func (s *SQLiteStore) UpsertMapping(ctx context.Context, m Mapping) error {
	flowJSON, err := json.Marshal(m.Flow)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode mapping flow")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ownership_mappings (brand_norm, brand, beneficiary, country, structure_type, flow)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (brand_norm) DO UPDATE SET
			beneficiary = excluded.beneficiary,
			country = excluded.country,
			structure_type = excluded.structure_type,
			flow = excluded.flow`,
		model.NormalizeName(m.Brand), m.Brand, m.Beneficiary, m.Country, string(m.StructureType), string(flowJSON),
	)
	return eris.Wrap(err, "sqlite: upsert mapping")
}

func (s *SQLiteStore) InsertKB(ctx context.Context, entry model.KnowledgeBaseEntry) (string, error) {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	flowJSON, err := json.Marshal(entry.OwnershipFlow)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: encode kb flow")
	}
	sourcesJSON, err := json.Marshal(entry.Sources)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: encode kb sources")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_base (id, brand, brand_norm, product_name, barcode, product_type, beneficiary, country, structure_type, flow, confidence, reasoning, sources, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, entry.Brand, model.NormalizeName(entry.Brand), entry.ProductName, entry.Barcode,
		entry.ProductType, entry.Beneficiary, entry.BeneficiaryCountry, string(entry.StructureType),
		string(flowJSON), entry.Confidence, entry.Reasoning, string(sourcesJSON), now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert kb entry")
	}
	return id, nil
}

func (s *SQLiteStore) queryKB(ctx context.Context, query string, args ...any) ([]model.KnowledgeBaseEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query kb")
	}
	defer rows.Close()

	var entries []model.KnowledgeBaseEntry
	for rows.Next() {
		var e model.KnowledgeBaseEntry
		var structureType string
		var flowJSON, sourcesJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Brand, &e.ProductName, &e.Barcode, &e.ProductType,
			&e.Beneficiary, &e.BeneficiaryCountry, &structureType, &flowJSON,
			&e.Confidence, &e.Reasoning, &sourcesJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kb entry")
		}
		e.StructureType = model.StructureType(structureType)
		if flowJSON.Valid && flowJSON.String != "" {
			if err := json.Unmarshal([]byte(flowJSON.String), &e.OwnershipFlow); err != nil {
				return nil, eris.Wrap(err, "sqlite: decode kb flow")
			}
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &e.Sources); err != nil {
				return nil, eris.Wrap(err, "sqlite: decode kb sources")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate kb rows")
}

const sqliteSelectKB = `SELECT id, brand, product_name, barcode, product_type, beneficiary, country, structure_type, flow, confidence, reasoning, sources, created_at, updated_at FROM knowledge_base`

func (s *SQLiteStore) SearchKB(ctx context.Context, brand, productType string, limit int) ([]model.KnowledgeBaseEntry, error) {
	return s.queryKB(ctx,
		sqliteSelectKB+` WHERE brand_norm LIKE '%' || ? || '%' OR (? <> '' AND product_type = ?) ORDER BY confidence DESC LIMIT ?`,
		model.NormalizeName(brand), productType, productType, limit)
}

func (s *SQLiteStore) HighConfidenceKB(ctx context.Context, minConfidence, limit int) ([]model.KnowledgeBaseEntry, error) {
	return s.queryKB(ctx,
		sqliteSelectKB+` WHERE confidence >= ? ORDER BY confidence DESC LIMIT ?`,
		minConfidence, limit)
}

func (s *SQLiteStore) KBStats(ctx context.Context) (*model.KBStats, error) {
	stats := &model.KBStats{StructureTypes: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM knowledge_base`,
	).Scan(&stats.TotalEntries, &stats.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kb stats totals")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT structure_type, COUNT(*) FROM knowledge_base GROUP BY structure_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kb stats structure types")
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan structure type count")
		}
		stats.StructureTypes[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate structure types")
	}

	brandRows, err := s.db.QueryContext(ctx,
		`SELECT brand, COUNT(*) AS n FROM knowledge_base GROUP BY brand ORDER BY n DESC LIMIT 10`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kb stats top brands")
	}
	defer brandRows.Close()
	for brandRows.Next() {
		var bc model.BrandCount
		if err := brandRows.Scan(&bc.Brand, &bc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan brand count")
		}
		stats.TopBrands = append(stats.TopBrands, bc)
	}
	if err := brandRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate top brands")
	}

	return stats, nil
}

func (s *SQLiteStore) SaveTrace(ctx context.Context, tr *trace.Trace) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode trace")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces (id, brand, final_result_type, duration_ms, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.Brand, tr.FinalResultType, tr.DurationMS, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save trace")
}

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*trace.Trace, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM traces WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get trace")
	}
	var tr trace.Trace
	if err := json.Unmarshal([]byte(data), &tr); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode trace")
	}
	return &tr, nil
}

func (s *SQLiteStore) ListTraces(ctx context.Context, filter TraceFilter) ([]TraceSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if filter.Brand != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, brand, final_result_type, duration_ms, created_at FROM traces
			WHERE brand = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			filter.Brand, limit, filter.Offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, brand, final_result_type, duration_ms, created_at FROM traces
			ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, filter.Offset)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list traces")
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var ts TraceSummary
		if err := rows.Scan(&ts.ID, &ts.Brand, &ts.FinalResultType, &ts.DurationMS, &ts.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trace summary")
		}
		out = append(out, ts)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate traces")
}
