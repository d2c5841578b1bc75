package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docflow-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	filename         TEXT NOT NULL,
	filename_folded  TEXT NOT NULL,
	byte_size        INTEGER NOT NULL DEFAULT 0,
	media_type       TEXT NOT NULL DEFAULT '',
	page_count       INTEGER NOT NULL DEFAULT 0,
	fields           TEXT NOT NULL DEFAULT '{}',
	confidence       REAL,
	method           TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	detail           TEXT NOT NULL DEFAULT '{}',
	open_error_count INTEGER NOT NULL DEFAULT 0,
	corrected        INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS validation_errors (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field           TEXT NOT NULL,
	error_type      TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL DEFAULT '',
	severity        TEXT NOT NULL DEFAULT 'medium',
	raw_value       TEXT NOT NULL DEFAULT '',
	expected_format TEXT NOT NULL DEFAULT '',
	resolution      TEXT NOT NULL DEFAULT 'open',
	corrected_value TEXT,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at     DATETIME
);

CREATE TABLE IF NOT EXISTS master_rows (
	id                     TEXT PRIMARY KEY,
	document_id            TEXT NOT NULL UNIQUE REFERENCES documents(id),
	row_data               TEXT NOT NULL DEFAULT '{}',
	row_number             INTEGER NOT NULL,
	filename               TEXT NOT NULL DEFAULT '',
	status_snapshot        TEXT NOT NULL DEFAULT 'approved',
	cross_validation_match INTEGER NOT NULL DEFAULT 0,
	discrepancy_count      INTEGER NOT NULL DEFAULT 0,
	version                INTEGER NOT NULL DEFAULT 1,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS unprocessable_documents (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	category    TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	expediente  TEXT NOT NULL DEFAULT '',
	accion      TEXT NOT NULL DEFAULT '',
	grupo       TEXT NOT NULL DEFAULT '',
	fields      TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_filename_folded ON documents(filename_folded);
CREATE INDEX IF NOT EXISTS idx_validation_errors_document ON validation_errors(document_id);
CREATE INDEX IF NOT EXISTS idx_master_rows_row_number ON master_rows(row_number);
CREATE INDEX IF NOT EXISTS idx_unprocessable_category ON unprocessable_documents(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Documents

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal fields")
	}
	detailJSON, err := json.Marshal(out.Detail)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal detail")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents
		 (id, filename, filename_folded, byte_size, media_type, page_count, fields,
		  confidence, method, status, detail, open_error_count, corrected, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Filename, model.FoldFilename(out.Filename), out.ByteSize, out.MediaType,
		out.PageCount, fieldsJSON, nullFloat(out.Confidence), out.Method, string(out.Status),
		string(detailJSON), out.OpenErrorCount, out.Corrected, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return &out, nil
}

const documentColumns = `id, filename, byte_size, media_type, page_count, fields,
	confidence, method, status, detail, open_error_count, corrected, created_at, updated_at`

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	fieldsJSON, err := marshalFields(doc.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	detailJSON, err := json.Marshal(doc.Detail)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal detail")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET fields = ?, confidence = ?, method = ?, status = ?,
		 detail = ?, open_error_count = ?, corrected = ?, page_count = ?, updated_at = ?
		 WHERE id = ?`,
		fieldsJSON, nullFloat(doc.Confidence), doc.Method, string(doc.Status),
		string(detailJSON), doc.OpenErrorCount, doc.Corrected, doc.PageCount,
		time.Now().UTC(), doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document %s", doc.ID)
	}
	return checkRowsAffected(res, "document", doc.ID)
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, detail model.StatusDetail) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal detail")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, detail = ?, updated_at = ? WHERE id = ?`,
		string(status), string(detailJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, *model.StatusCounts, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.NeedsReview {
		query += ` AND (status = 'needs_review' OR open_error_count > 0)`
	}
	if filter.Search != "" {
		query += ` AND (filename LIKE '%' || ? || '%' OR fields LIKE '%' || ? || '%')`
		args = append(args, filter.Search, filter.Search)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: list documents iterate")
	}

	counts, err := s.statusCounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return docs, counts, nil
}

func (s *SQLiteStore) statusCounts(ctx context.Context) (*model.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}
	defer rows.Close()

	counts := &model.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts.Add(model.DocumentStatus(status), n)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: status counts iterate")
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete document %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

func (s *SQLiteStore) FilenameExists(ctx context.Context, foldedFilename string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE filename_folded = ?`, foldedFilename,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: filename exists")
	}
	return n > 0, nil
}

// Validation errors

func (s *SQLiteStore) CreateValidationErrors(ctx context.Context, errs []model.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

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
			return eris.Wrap(err, "sqlite: marshal corrected value")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO validation_errors
			 (id, document_id, field, error_type, message, severity, raw_value,
			  expected_format, resolution, corrected_value, notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.DocumentID, e.Field, e.Type, e.Message, string(e.Severity),
			e.RawValue, e.ExpectedFormat, string(e.Resolution), correctedJSON, e.Notes, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert validation error for document %s", e.DocumentID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit validation errors")
}

const validationErrorColumns = `id, document_id, field, error_type, message, severity,
	raw_value, expected_format, resolution, corrected_value, notes, created_at, resolved_at`

func (s *SQLiteStore) GetValidationError(ctx context.Context, id string) (*model.ValidationError, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+validationErrorColumns+` FROM validation_errors WHERE id = ?`, id)
	return scanValidationError(row)
}

func (s *SQLiteStore) ListValidationErrors(ctx context.Context, documentID string) ([]model.ValidationError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+validationErrorColumns+` FROM validation_errors
		 WHERE document_id = ? ORDER BY created_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list validation errors")
	}
	defer rows.Close()

	var out []model.ValidationError
	for rows.Next() {
		e, err := scanValidationError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list validation errors iterate")
}

func (s *SQLiteStore) ResolveValidationError(ctx context.Context, id string, resolution model.Resolution, corrected *model.Value, notes string) error {
	correctedJSON, err := marshalNullableValue(corrected)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal corrected value")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE validation_errors SET resolution = ?, corrected_value = ?, notes = ?, resolved_at = ?
		 WHERE id = ?`,
		string(resolution), correctedJSON, notes, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve validation error %s", id)
	}
	return checkRowsAffected(res, "validation error", id)
}

// Master rows

const masterRowColumns = `id, document_id, row_data, row_number, filename, status_snapshot,
	cross_validation_match, discrepancy_count, version, created_at, updated_at`

func (s *SQLiteStore) GetMasterRow(ctx context.Context, id string) (*model.MasterRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+masterRowColumns+` FROM master_rows WHERE id = ?`, id)
	return scanMasterRow(row)
}

func (s *SQLiteStore) GetMasterRowByDocument(ctx context.Context, documentID string) (*model.MasterRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+masterRowColumns+` FROM master_rows WHERE document_id = ?`, documentID)
	mr, err := scanMasterRow(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return mr, err
}

func (s *SQLiteStore) InsertMasterRow(ctx context.Context, row *model.MasterRow) (*model.MasterRow, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal master row data")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO master_rows
		 (id, document_id, row_data, row_number, filename, status_snapshot,
		  cross_validation_match, discrepancy_count, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.DocumentID, rowJSON, out.RowNumber, out.Filename,
		string(out.StatusSnapshot), out.CrossValidationMatch, out.DiscrepancyCount,
		out.Version, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert master row for document %s", out.DocumentID)
	}
	return &out, nil
}

func (s *SQLiteStore) UpdateMasterRow(ctx context.Context, row *model.MasterRow) error {
	rowJSON, err := marshalFields(row.Row)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal master row data")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE master_rows SET row_data = ?, status_snapshot = ?, cross_validation_match = ?,
		 discrepancy_count = ?, version = ?, updated_at = ? WHERE id = ?`,
		rowJSON, string(row.StatusSnapshot), row.CrossValidationMatch,
		row.DiscrepancyCount, row.Version, time.Now().UTC(), row.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update master row %s", row.ID)
	}
	return checkRowsAffected(res, "master row", row.ID)
}

func (s *SQLiteStore) DeleteMasterRows(ctx context.Context, ids []string) ([]string, error) {
	var deleted []string
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `DELETE FROM master_rows WHERE id = ?`, id)
		if err != nil {
			return deleted, eris.Wrapf(err, "sqlite: delete master row %s", id)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *SQLiteStore) ListMasterRows(ctx context.Context, limit int) ([]model.MasterRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+masterRowColumns+` FROM master_rows ORDER BY row_number ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list master rows")
	}
	defer rows.Close()

	var out []model.MasterRow
	for rows.Next() {
		mr, err := scanMasterRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list master rows iterate")
}

func (s *SQLiteStore) NextRowNumber(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_number), 0) + 1 FROM master_rows`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: next row number")
}

// Unprocessable registry

const unprocessableColumns = `id, filename, category, reason, expediente, accion, grupo,
	fields, retry_count, max_retries, created_at, updated_at`

func (s *SQLiteStore) CreateUnprocessable(ctx context.Context, entry *model.UnprocessableEntry) (*model.UnprocessableEntry, error) {
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

	var fieldsJSON sql.NullString
	if out.Fields != nil {
		b, err := out.Fields.MarshalJSON()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal unprocessable fields")
		}
		fieldsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unprocessable_documents
		 (id, filename, category, reason, expediente, accion, grupo, fields,
		  retry_count, max_retries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Filename, string(out.Category), out.Reason,
		out.CrossRefs.Expediente, out.CrossRefs.Accion, out.CrossRefs.Grupo,
		fieldsJSON, out.RetryCount, out.MaxRetries, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert unprocessable entry")
	}
	return &out, nil
}

func (s *SQLiteStore) GetUnprocessable(ctx context.Context, id string) (*model.UnprocessableEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unprocessableColumns+` FROM unprocessable_documents WHERE id = ?`, id)
	return scanUnprocessable(row)
}

func (s *SQLiteStore) ListUnprocessable(ctx context.Context, filter UnprocessableFilter) ([]model.UnprocessableEntry, error) {
	query := `SELECT ` + unprocessableColumns + ` FROM unprocessable_documents WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.Search != "" {
		query += ` AND (filename LIKE '%' || ? || '%' OR expediente LIKE '%' || ? || '%')`
		args = append(args, filter.Search, filter.Search)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unprocessable")
	}
	defer rows.Close()

	var out []model.UnprocessableEntry
	for rows.Next() {
		e, err := scanUnprocessable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unprocessable iterate")
}

func (s *SQLiteStore) DeleteUnprocessable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM unprocessable_documents WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete unprocessable %s", id)
	}
	return checkRowsAffected(res, "unprocessable entry", id)
}

func (s *SQLiteStore) IncrementUnprocessableRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unprocessable_documents SET retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment retry %s", id)
	}
	return checkRowsAffected(res, "unprocessable entry", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func marshalFields(f *model.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := f.MarshalJSON()
	return string(b), err
}

func marshalNullableValue(v *model.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var fieldsJSON, detailJSON string
	var confidence sql.NullFloat64

	err := row.Scan(&d.ID, &d.Filename, &d.ByteSize, &d.MediaType, &d.PageCount,
		&fieldsJSON, &confidence, &d.Method, &d.Status, &detailJSON,
		&d.OpenErrorCount, &d.Corrected, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "document")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}

	d.Fields = model.NewFields()
	if err := d.Fields.UnmarshalJSON([]byte(fieldsJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal fields")
	}
	if err := json.Unmarshal([]byte(detailJSON), &d.Detail); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal detail")
	}
	if confidence.Valid {
		d.Confidence = &confidence.Float64
	}
	return &d, nil
}

func scanValidationError(row scannable) (*model.ValidationError, error) {
	var e model.ValidationError
	var corrected sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&e.ID, &e.DocumentID, &e.Field, &e.Type, &e.Message, &e.Severity,
		&e.RawValue, &e.ExpectedFormat, &e.Resolution, &corrected, &e.Notes,
		&e.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "validation error")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan validation error")
	}

	if corrected.Valid {
		var v model.Value
		if err := v.UnmarshalJSON([]byte(corrected.String)); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal corrected value")
		}
		e.CorrectedValue = &v
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return &e, nil
}

func scanMasterRow(row scannable) (*model.MasterRow, error) {
	var mr model.MasterRow
	var rowJSON string

	err := row.Scan(&mr.ID, &mr.DocumentID, &rowJSON, &mr.RowNumber, &mr.Filename,
		&mr.StatusSnapshot, &mr.CrossValidationMatch, &mr.DiscrepancyCount,
		&mr.Version, &mr.CreatedAt, &mr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "master row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan master row")
	}

	mr.Row = model.NewFields()
	if err := mr.Row.UnmarshalJSON([]byte(rowJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal master row data")
	}
	return &mr, nil
}

func scanUnprocessable(row scannable) (*model.UnprocessableEntry, error) {
	var e model.UnprocessableEntry
	var fieldsJSON sql.NullString

	err := row.Scan(&e.ID, &e.Filename, &e.Category, &e.Reason,
		&e.CrossRefs.Expediente, &e.CrossRefs.Accion, &e.CrossRefs.Grupo,
		&fieldsJSON, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "unprocessable entry")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan unprocessable entry")
	}

	if fieldsJSON.Valid {
		e.Fields = model.NewFields()
		if err := e.Fields.UnmarshalJSON([]byte(fieldsJSON.String)); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal unprocessable fields")
		}
	}
	return &e, nil
}
