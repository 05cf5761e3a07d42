package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/verifin/recon-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Per-connection pragmas ride on the DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withConnParams(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func withConnParams(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
		"_time_format=sqlite",
	}, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoice_data (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	file_hash   TEXT NOT NULL DEFAULT '',
	raw_text    TEXT NOT NULL DEFAULT '',
	parsed_data TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS po_data (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	file_hash   TEXT NOT NULL DEFAULT '',
	raw_text    TEXT NOT NULL DEFAULT '',
	parsed_data TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS discrepancy_data (
	id          TEXT PRIMARY KEY,
	invoice_id  TEXT NOT NULL REFERENCES invoice_data(id),
	po_id       TEXT NOT NULL REFERENCES po_data(id),
	description TEXT NOT NULL,
	clean       INTEGER NOT NULL DEFAULT 0,
	report      TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_invoice_data_created_at ON invoice_data(created_at);
CREATE INDEX IF NOT EXISTS idx_invoice_data_file_hash ON invoice_data(file_hash);
CREATE INDEX IF NOT EXISTS idx_po_data_created_at ON po_data(created_at);
CREATE INDEX IF NOT EXISTS idx_po_data_file_hash ON po_data(file_hash);
CREATE INDEX IF NOT EXISTS idx_discrepancy_data_pair ON discrepancy_data(invoice_id, po_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Dialect() Dialect { return DialectSQLite }

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := checkKind(doc.Kind); err != nil {
		return err
	}
	fieldsJSON, err := prepareDocument(doc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal parsed data")
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, filename, file_hash, raw_text, parsed_data, created_at) VALUES (?, ?, ?, ?, ?, ?)`, doc.Kind.Table()),
		doc.ID, doc.Filename, doc.FileHash, doc.RawText, string(fieldsJSON), doc.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert %s", doc.Kind)
}

func (s *SQLiteStore) SaveDocuments(ctx context.Context, docs []*model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := make(map[model.DocumentKind]*sql.Stmt)
	for _, doc := range docs {
		if err := checkKind(doc.Kind); err != nil {
			return 0, err
		}
		stmt, ok := stmts[doc.Kind]
		if !ok {
			stmt, err = tx.PrepareContext(ctx,
				fmt.Sprintf(`INSERT INTO %s (id, filename, file_hash, raw_text, parsed_data, created_at) VALUES (?, ?, ?, ?, ?, ?)`, doc.Kind.Table()),
			)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: prepare insert %s", doc.Kind)
			}
			defer stmt.Close() //nolint:errcheck
			stmts[doc.Kind] = stmt
		}

		fieldsJSON, err := prepareDocument(doc)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal parsed data")
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Filename, doc.FileHash, doc.RawText, string(fieldsJSON), doc.CreatedAt); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %s %s", doc.Kind, doc.Filename)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return len(docs), nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, documentColumns, kind.Table()),
		id,
	)
	doc, err := scanDocument(row, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s %s", kind, id)
	}
	return doc, err
}

func (s *SQLiteStore) LatestDocument(ctx context.Context, kind model.DocumentKind) (*model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, rowid DESC LIMIT 1`, documentColumns, kind.Table()),
	)
	doc, err := scanDocument(row, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: latest %s", kind)
	}
	return doc, err
}

func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, kind model.DocumentKind, hash string) (*model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE file_hash = ? ORDER BY created_at DESC LIMIT 1`, documentColumns, kind.Table()),
		hash,
	)
	doc, err := scanDocument(row, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, kind model.DocumentKind, limit int) ([]model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, rowid DESC LIMIT ?`, documentColumns, kind.Table()),
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", kind)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows, kind)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrapf(rows.Err(), "sqlite: list %s iterate", kind)
}

func (s *SQLiteStore) SaveDiscrepancy(ctx context.Context, d *model.Discrepancy) error {
	reportJSON, err := prepareDiscrepancy(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discrepancy_data (id, invoice_id, po_id, description, clean, report, summary, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.InvoiceID, d.POID, d.Description, d.Clean, string(reportJSON), d.Summary, d.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert discrepancy")
}

func (s *SQLiteStore) GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+discrepancyColumns+` FROM discrepancy_data WHERE id = ?`,
		id,
	)
	d, err := scanDiscrepancy(row)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: discrepancy %s", id)
	}
	return d, err
}

func (s *SQLiteStore) ListDiscrepancies(ctx context.Context, filter model.DiscrepancyFilter) ([]model.Discrepancy, error) {
	query := `SELECT ` + discrepancyColumns + ` FROM discrepancy_data WHERE 1=1`
	var args []any

	if filter.InvoiceID != "" {
		query += ` AND invoice_id = ?`
		args = append(args, filter.InvoiceID)
	}
	if filter.POID != "" {
		query += ` AND po_id = ?`
		args = append(args, filter.POID)
	}
	if filter.DirtyOnly {
		query += ` AND clean = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list discrepancies")
	}
	defer rows.Close()

	var out []model.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list discrepancies iterate")
}

// QueryReadOnly runs a single SELECT on a dedicated connection with
// query_only enabled, so even a statement that slips past CheckReadOnly
// cannot write.
func (s *SQLiteStore) QueryReadOnly(ctx context.Context, query string) (*QueryResult, error) {
	q, err := CheckReadOnly(query)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: acquire conn")
	}
	defer conn.Close() //nolint:errcheck

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, eris.Wrap(err, "sqlite: enable query_only")
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF") //nolint:errcheck

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read-only query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: columns")
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	return result, eris.Wrap(rows.Err(), "sqlite: read-only query iterate")
}

// helpers

const documentColumns = `id, filename, file_hash, raw_text, parsed_data, created_at`

const discrepancyColumns = `id, invoice_id, po_id, description, clean, report, summary, created_at`

// prepareDocument assigns an ID and timestamp when missing and returns the
// JSON encoding of the parsed fields.
func prepareDocument(doc *model.Document) ([]byte, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return json.Marshal(doc.Fields)
}

func prepareDiscrepancy(d *model.Discrepancy) ([]byte, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return json.Marshal(d.Report)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable, kind model.DocumentKind) (*model.Document, error) {
	doc := model.Document{Kind: kind}
	var fieldsJSON string

	err := row.Scan(&doc.ID, &doc.Filename, &doc.FileHash, &doc.RawText, &fieldsJSON, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: scan %s", kind)
	}
	if err := decodeFields([]byte(fieldsJSON), &doc.Fields); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal %s %s parsed data", kind, doc.ID)
	}
	return &doc, nil
}

func scanDiscrepancy(row scannable) (*model.Discrepancy, error) {
	var d model.Discrepancy
	var reportJSON string

	err := row.Scan(&d.ID, &d.InvoiceID, &d.POID, &d.Description, &d.Clean, &reportJSON, &d.Summary, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan discrepancy")
	}
	if err := json.Unmarshal([]byte(reportJSON), &d.Report); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal report %s", d.ID)
	}
	return &d, nil
}
