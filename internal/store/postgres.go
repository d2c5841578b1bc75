package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
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

// NewPostgresWithPool wraps an existing pool (used by tests).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	filename         TEXT NOT NULL,
	filename_folded  TEXT NOT NULL,
	byte_size        BIGINT NOT NULL DEFAULT 0,
	media_type       TEXT NOT NULL DEFAULT '',
	page_count       INTEGER NOT NULL DEFAULT 0,
	fields           JSONB NOT NULL DEFAULT '{}',
	confidence       DOUBLE PRECISION,
	method           TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	detail           JSONB NOT NULL DEFAULT '{}',
	open_error_count INTEGER NOT NULL DEFAULT 0,
	corrected        BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_errors (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field           TEXT NOT NULL,
	error_type      TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL DEFAULT '',
	severity        TEXT NOT NULL DEFAULT 'medium',
	raw_value       TEXT NOT NULL DEFAULT '',
	expected_format TEXT NOT NULL DEFAULT '',
	resolution      TEXT NOT NULL DEFAULT 'open',
	corrected_value JSONB,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS master_rows (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id            TEXT NOT NULL UNIQUE REFERENCES documents(id),
	row_data               JSONB NOT NULL DEFAULT '{}',
	row_number             INTEGER NOT NULL,
	filename               TEXT NOT NULL DEFAULT '',
	status_snapshot        TEXT NOT NULL DEFAULT 'approved',
	cross_validation_match BOOLEAN NOT NULL DEFAULT false,
	discrepancy_count      INTEGER NOT NULL DEFAULT 0,
	version                INTEGER NOT NULL DEFAULT 1,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS unprocessable_documents (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	filename    TEXT NOT NULL,
	category    TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	expediente  TEXT NOT NULL DEFAULT '',
	accion      TEXT NOT NULL DEFAULT '',
	grupo       TEXT NOT NULL DEFAULT '',
	fields      JSONB,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_filename_folded ON documents(filename_folded);
CREATE INDEX IF NOT EXISTS idx_validation_errors_document ON validation_errors(document_id);
CREATE INDEX IF NOT EXISTS idx_master_rows_row_number ON master_rows(row_number);
CREATE INDEX IF NOT EXISTS idx_unprocessable_category ON unprocessable_documents(category);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Documents

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	out := *doc
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.Status == "" {
		out.Status = model.StatusPending
	}

	fieldsJSON, err := marshalFields(out.Fields)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal fields")
	}
	detailJSON, err := json.Marshal(out.Detail)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal detail")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents
		 (id, filename, filename_folded, byte_size, media_type, page_count, fields,
		  confidence, method, status, detail, open_error_count, corrected, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		out.ID, out.Filename, model.FoldFilename(out.Filename), out.ByteSize, out.MediaType,
		out.PageCount, fieldsJSON, out.Confidence, out.Method, string(out.Status),
		string(detailJSON), out.OpenErrorCount, out.Corrected, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
	}
	return &out, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocumentPgx(row)
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	fieldsJSON, err := marshalFields(doc.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	detailJSON, err := json.Marshal(doc.Detail)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal detail")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET fields = $1, confidence = $2, method = $3, status = $4,
		 detail = $5, open_error_count = $6, corrected = $7, page_count = $8, updated_at = $9
		 WHERE id = $10`,
		fieldsJSON, doc.Confidence, doc.Method, string(doc.Status),
		string(detailJSON), doc.OpenErrorCount, doc.Corrected, doc.PageCount,
		time.Now().UTC(), doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document %s", doc.ID)
	}
	return checkTag(tag, "document", doc.ID)
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, detail model.StatusDetail) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal detail")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, detail = $2, updated_at = $3 WHERE id = $4`,
		string(status), string(detailJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", id)
	}
	return checkTag(tag, "document", id)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, *model.StatusCounts, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	var args []any
	idx := 1

	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(idx)
		args = append(args, string(filter.Status))
		idx++
	}
	if filter.NeedsReview {
		query += ` AND (status = 'needs_review' OR open_error_count > 0)`
	}
	if filter.Search != "" {
		query += ` AND (filename ILIKE '%' || $` + strconv.Itoa(idx) + ` || '%' OR fields::text ILIKE '%' || $` + strconv.Itoa(idx) + ` || '%')`
		args = append(args, filter.Search)
		idx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT $` + strconv.Itoa(idx)
	args = append(args, limit)
	idx++
	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(idx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocumentPgx(rows)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: list documents iterate")
	}

	counts, err := s.statusCounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return docs, counts, nil
}

func (s *PostgresStore) statusCounts(ctx context.Context) (*model.StatusCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*)::int FROM documents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	counts := &model.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts.Add(model.DocumentStatus(status), n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: status counts iterate")
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete document %s", id)
	}
	return checkTag(tag, "document", id)
}

func (s *PostgresStore) FilenameExists(ctx context.Context, foldedFilename string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)::int FROM documents WHERE filename_folded = $1`, foldedFilename,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "postgres: filename exists")
	}
	return n > 0, nil
}

// Validation errors

func (s *PostgresStore) CreateValidationErrors(ctx context.Context, errs []model.ValidationError) error {
	now := time.Now().UTC()
	for i := range errs {
		e := &errs[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = now
		if e.Resolution == "" {
			e.Resolution = model.ResolutionOpen
		}
		correctedJSON, err := marshalNullableValue(e.CorrectedValue)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal corrected value")
		}
		var correctedArg any
		if correctedJSON.Valid {
			correctedArg = correctedJSON.String
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO validation_errors
			 (id, document_id, field, error_type, message, severity, raw_value,
			  expected_format, resolution, corrected_value, notes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID, e.DocumentID, e.Field, e.Type, e.Message, string(e.Severity),
			e.RawValue, e.ExpectedFormat, string(e.Resolution), correctedArg, e.Notes, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert validation error for document %s", e.DocumentID)
		}
	}
	return nil
}

func (s *PostgresStore) GetValidationError(ctx context.Context, id string) (*model.ValidationError, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+validationErrorColumns+` FROM validation_errors WHERE id = $1`, id)
	return scanValidationErrorPgx(row)
}

func (s *PostgresStore) ListValidationErrors(ctx context.Context, documentID string) ([]model.ValidationError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+validationErrorColumns+` FROM validation_errors
		 WHERE document_id = $1 ORDER BY created_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list validation errors")
	}
	defer rows.Close()

	var out []model.ValidationError
	for rows.Next() {
		e, err := scanValidationErrorPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list validation errors iterate")
}

func (s *PostgresStore) ResolveValidationError(ctx context.Context, id string, resolution model.Resolution, corrected *model.Value, notes string) error {
	correctedJSON, err := marshalNullableValue(corrected)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal corrected value")
	}
	var correctedArg any
	if correctedJSON.Valid {
		correctedArg = correctedJSON.String
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE validation_errors SET resolution = $1, corrected_value = $2, notes = $3, resolved_at = $4
		 WHERE id = $5`,
		string(resolution), correctedArg, notes, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve validation error %s", id)
	}
	return checkTag(tag, "validation error", id)
}

// Master rows

func (s *PostgresStore) GetMasterRow(ctx context.Context, id string) (*model.MasterRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+masterRowColumns+` FROM master_rows WHERE id = $1`, id)
	return scanMasterRowPgx(row)
}

func (s *PostgresStore) GetMasterRowByDocument(ctx context.Context, documentID string) (*model.MasterRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+masterRowColumns+` FROM master_rows WHERE document_id = $1`, documentID)
	mr, err := scanMasterRowPgx(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return mr, err
}

func (s *PostgresStore) InsertMasterRow(ctx context.Context, row *model.MasterRow) (*model.MasterRow, error) {
	out := *row
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.Version == 0 {
		out.Version = 1
	}

	rowJSON, err := marshalFields(out.Row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal master row data")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO master_rows
		 (id, document_id, row_data, row_number, filename, status_snapshot,
		  cross_validation_match, discrepancy_count, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		out.ID, out.DocumentID, rowJSON, out.RowNumber, out.Filename,
		string(out.StatusSnapshot), out.CrossValidationMatch, out.DiscrepancyCount,
		out.Version, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert master row for document %s", out.DocumentID)
	}
	return &out, nil
}

func (s *PostgresStore) UpdateMasterRow(ctx context.Context, row *model.MasterRow) error {
	rowJSON, err := marshalFields(row.Row)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal master row data")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE master_rows SET row_data = $1, status_snapshot = $2, cross_validation_match = $3,
		 discrepancy_count = $4, version = $5, updated_at = $6 WHERE id = $7`,
		rowJSON, string(row.StatusSnapshot), row.CrossValidationMatch,
		row.DiscrepancyCount, row.Version, time.Now().UTC(), row.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update master row %s", row.ID)
	}
	return checkTag(tag, "master row", row.ID)
}

func (s *PostgresStore) DeleteMasterRows(ctx context.Context, ids []string) ([]string, error) {
	var deleted []string
	for _, id := range ids {
		tag, err := s.pool.Exec(ctx, `DELETE FROM master_rows WHERE id = $1`, id)
		if err != nil {
			return deleted, eris.Wrapf(err, "postgres: delete master row %s", id)
		}
		if tag.RowsAffected() > 0 {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *PostgresStore) ListMasterRows(ctx context.Context, limit int) ([]model.MasterRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+masterRowColumns+` FROM master_rows ORDER BY row_number ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list master rows")
	}
	defer rows.Close()

	var out []model.MasterRow
	for rows.Next() {
		mr, err := scanMasterRowPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list master rows iterate")
}

func (s *PostgresStore) NextRowNumber(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(row_number), 0) + 1 FROM master_rows`).Scan(&n)
	return n, eris.Wrap(err, "postgres: next row number")
}

// Unprocessable registry

func (s *PostgresStore) CreateUnprocessable(ctx context.Context, entry *model.UnprocessableEntry) (*model.UnprocessableEntry, error) {
	out := *entry
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}

	var fieldsArg any
	if out.Fields != nil {
		b, err := out.Fields.MarshalJSON()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal unprocessable fields")
		}
		fieldsArg = string(b)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO unprocessable_documents
		 (id, filename, category, reason, expediente, accion, grupo, fields,
		  retry_count, max_retries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		out.ID, out.Filename, string(out.Category), out.Reason,
		out.CrossRefs.Expediente, out.CrossRefs.Accion, out.CrossRefs.Grupo,
		fieldsArg, out.RetryCount, out.MaxRetries, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert unprocessable entry")
	}
	return &out, nil
}

func (s *PostgresStore) GetUnprocessable(ctx context.Context, id string) (*model.UnprocessableEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+unprocessableColumns+` FROM unprocessable_documents WHERE id = $1`, id)
	return scanUnprocessablePgx(row)
}

func (s *PostgresStore) ListUnprocessable(ctx context.Context, filter UnprocessableFilter) ([]model.UnprocessableEntry, error) {
	query := `SELECT ` + unprocessableColumns + ` FROM unprocessable_documents WHERE 1=1`
	var args []any
	idx := 1

	if filter.Category != "" {
		query += ` AND category = $` + strconv.Itoa(idx)
		args = append(args, string(filter.Category))
		idx++
	}
	if filter.Search != "" {
		query += ` AND (filename ILIKE '%' || $` + strconv.Itoa(idx) + ` || '%' OR expediente ILIKE '%' || $` + strconv.Itoa(idx) + ` || '%')`
		args = append(args, filter.Search)
		idx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT $` + strconv.Itoa(idx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unprocessable")
	}
	defer rows.Close()

	var out []model.UnprocessableEntry
	for rows.Next() {
		e, err := scanUnprocessablePgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unprocessable iterate")
}

func (s *PostgresStore) DeleteUnprocessable(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM unprocessable_documents WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete unprocessable %s", id)
	}
	return checkTag(tag, "unprocessable entry", id)
}

func (s *PostgresStore) IncrementUnprocessableRetry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE unprocessable_documents SET retry_count = retry_count + 1, updated_at = $1
		 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment retry %s", id)
	}
	return checkTag(tag, "unprocessable entry", id)
}

// helpers

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanDocumentPgx(row pgx.Row) (*model.Document, error) {
	var d model.Document
	var fieldsJSON, detailJSON string
	var confidence *float64

	err := row.Scan(&d.ID, &d.Filename, &d.ByteSize, &d.MediaType, &d.PageCount,
		&fieldsJSON, &confidence, &d.Method, &d.Status, &detailJSON,
		&d.OpenErrorCount, &d.Corrected, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "document")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}

	d.Fields = model.NewFields()
	if err := d.Fields.UnmarshalJSON([]byte(fieldsJSON)); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal fields")
	}
	if err := json.Unmarshal([]byte(detailJSON), &d.Detail); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal detail")
	}
	d.Confidence = confidence
	return &d, nil
}

func scanValidationErrorPgx(row pgx.Row) (*model.ValidationError, error) {
	var e model.ValidationError
	var corrected *string
	var resolvedAt *time.Time

	err := row.Scan(&e.ID, &e.DocumentID, &e.Field, &e.Type, &e.Message, &e.Severity,
		&e.RawValue, &e.ExpectedFormat, &e.Resolution, &corrected, &e.Notes,
		&e.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "validation error")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan validation error")
	}

	if corrected != nil {
		var v model.Value
		if err := v.UnmarshalJSON([]byte(*corrected)); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal corrected value")
		}
		e.CorrectedValue = &v
	}
	e.ResolvedAt = resolvedAt
	return &e, nil
}

func scanMasterRowPgx(row pgx.Row) (*model.MasterRow, error) {
	var mr model.MasterRow
	var rowJSON string

	err := row.Scan(&mr.ID, &mr.DocumentID, &rowJSON, &mr.RowNumber, &mr.Filename,
		&mr.StatusSnapshot, &mr.CrossValidationMatch, &mr.DiscrepancyCount,
		&mr.Version, &mr.CreatedAt, &mr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "master row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan master row")
	}

	mr.Row = model.NewFields()
	if err := mr.Row.UnmarshalJSON([]byte(rowJSON)); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal master row data")
	}
	return &mr, nil
}

func scanUnprocessablePgx(row pgx.Row) (*model.UnprocessableEntry, error) {
	var e model.UnprocessableEntry
	var fieldsJSON *string

	err := row.Scan(&e.ID, &e.Filename, &e.Category, &e.Reason,
		&e.CrossRefs.Expediente, &e.CrossRefs.Accion, &e.CrossRefs.Grupo,
		&fieldsJSON, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "unprocessable entry")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan unprocessable entry")
	}

	if fieldsJSON != nil {
		e.Fields = model.NewFields()
		if err := e.Fields.UnmarshalJSON([]byte(*fieldsJSON)); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal unprocessable fields")
		}
	}
	return &e, nil
}
