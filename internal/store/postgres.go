package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/db"
	"github.com/verifin/recon-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// readOnlyTimeout bounds ad-hoc audit queries.
const readOnlyTimeout = "15s"

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"latest_invoice":     `SELECT ` + documentColumns + ` FROM invoice_data ORDER BY created_at DESC, seq DESC LIMIT 1`,
	"latest_po":          `SELECT ` + documentColumns + ` FROM po_data ORDER BY created_at DESC, seq DESC LIMIT 1`,
	"invoice_by_hash":    `SELECT ` + documentColumns + ` FROM invoice_data WHERE file_hash = $1 ORDER BY created_at DESC LIMIT 1`,
	"po_by_hash":         `SELECT ` + documentColumns + ` FROM po_data WHERE file_hash = $1 ORDER BY created_at DESC LIMIT 1`,
	"insert_discrepancy": `INSERT INTO discrepancy_data (id, invoice_id, po_id, description, clean, report, summary, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"get_discrepancy":    `SELECT ` + discrepancyColumns + ` FROM discrepancy_data WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Statements reference tables that only exist after Migrate, so a
	// failed prepare on a fresh database is logged and skipped.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				zap.L().Debug("postgres: skip prepared statement", zap.String("name", name), zap.Error(err))
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS invoice_data (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq         BIGINT GENERATED ALWAYS AS IDENTITY,
	filename    TEXT NOT NULL,
	file_hash   TEXT NOT NULL DEFAULT '',
	raw_text    TEXT NOT NULL DEFAULT '',
	parsed_data JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS po_data (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq         BIGINT GENERATED ALWAYS AS IDENTITY,
	filename    TEXT NOT NULL,
	file_hash   TEXT NOT NULL DEFAULT '',
	raw_text    TEXT NOT NULL DEFAULT '',
	parsed_data JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS discrepancy_data (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq         BIGINT GENERATED ALWAYS AS IDENTITY,
	invoice_id  TEXT NOT NULL REFERENCES invoice_data(id),
	po_id       TEXT NOT NULL REFERENCES po_data(id),
	description TEXT NOT NULL,
	clean       BOOLEAN NOT NULL DEFAULT false,
	report      JSONB NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_invoice_data_created_at ON invoice_data(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_invoice_data_file_hash ON invoice_data(file_hash);
CREATE INDEX IF NOT EXISTS idx_po_data_created_at ON po_data(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_po_data_file_hash ON po_data(file_hash);
CREATE INDEX IF NOT EXISTS idx_discrepancy_data_pair ON discrepancy_data(invoice_id, po_id);
CREATE INDEX IF NOT EXISTS idx_discrepancy_data_dirty ON discrepancy_data(created_at DESC) WHERE NOT clean;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Dialect() Dialect { return DialectPostgres }

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := checkKind(doc.Kind); err != nil {
		return err
	}
	fieldsJSON, err := prepareDocument(doc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal parsed data")
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, filename, file_hash, raw_text, parsed_data, created_at) VALUES ($1, $2, $3, $4, $5, $6)`, doc.Kind.Table()),
		doc.ID, doc.Filename, doc.FileHash, doc.RawText, fieldsJSON, doc.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert %s", doc.Kind)
}

// SaveDocuments bulk-loads documents with COPY, one statement per table,
// inside a single transaction.
func (s *PostgresStore) SaveDocuments(ctx context.Context, docs []*model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	byKind := make(map[model.DocumentKind][][]any)
	for _, doc := range docs {
		if err := checkKind(doc.Kind); err != nil {
			return 0, err
		}
		fieldsJSON, err := prepareDocument(doc)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal parsed data")
		}
		byKind[doc.Kind] = append(byKind[doc.Kind], []any{
			doc.ID, doc.Filename, doc.FileHash, doc.RawText, fieldsJSON, doc.CreatedAt,
		})
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	columns := []string{"id", "filename", "file_hash", "raw_text", "parsed_data", "created_at"}
	var total int64
	for _, kind := range model.Kinds() {
		rows, ok := byKind[kind]
		if !ok {
			continue
		}
		n, err := db.CopyFrom(ctx, tx, kind.Table(), columns, rows)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: copy %s", kind)
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit")
	}
	return int(total), nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, documentColumns, kind.Table()),
		id,
	)
	doc, err := scanPgDocument(row, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: %s %s", kind, id)
	}
	return doc, err
}

func (s *PostgresStore) LatestDocument(ctx context.Context, kind model.DocumentKind) (*model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, seq DESC LIMIT 1`, documentColumns, kind.Table()),
	)
	doc, err := scanPgDocument(row, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: latest %s", kind)
	}
	return doc, err
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, kind model.DocumentKind, hash string) (*model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE file_hash = $1 ORDER BY created_at DESC LIMIT 1`, documentColumns, kind.Table()),
		hash,
	)
	doc, err := scanPgDocument(row, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, kind model.DocumentKind, limit int) ([]model.Document, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, seq DESC LIMIT $1`, documentColumns, kind.Table()),
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", kind)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanPgDocument(rows, kind)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrapf(rows.Err(), "postgres: list %s iterate", kind)
}

func (s *PostgresStore) SaveDiscrepancy(ctx context.Context, d *model.Discrepancy) error {
	reportJSON, err := prepareDiscrepancy(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO discrepancy_data (id, invoice_id, po_id, description, clean, report, summary, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.InvoiceID, d.POID, d.Description, d.Clean, reportJSON, d.Summary, d.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert discrepancy")
}

func (s *PostgresStore) GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+discrepancyColumns+` FROM discrepancy_data WHERE id = $1`,
		id,
	)
	d, err := scanPgDiscrepancy(row)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: discrepancy %s", id)
	}
	return d, err
}

func (s *PostgresStore) ListDiscrepancies(ctx context.Context, filter model.DiscrepancyFilter) ([]model.Discrepancy, error) {
	query := `SELECT ` + discrepancyColumns + ` FROM discrepancy_data WHERE true`
	args := []any{}
	argIdx := 1

	if filter.InvoiceID != "" {
		query += fmt.Sprintf(` AND invoice_id = $%d`, argIdx)
		args = append(args, filter.InvoiceID)
		argIdx++
	}
	if filter.POID != "" {
		query += fmt.Sprintf(` AND po_id = $%d`, argIdx)
		args = append(args, filter.POID)
		argIdx++
	}
	if filter.DirtyOnly {
		query += ` AND NOT clean`
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list discrepancies")
	}
	defer rows.Close()

	var out []model.Discrepancy
	for rows.Next() {
		d, err := scanPgDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list discrepancies iterate")
}

// QueryReadOnly runs a single SELECT inside a READ ONLY transaction with a
// statement timeout. The transaction is always rolled back.
func (s *PostgresStore) QueryReadOnly(ctx context.Context, query string) (*QueryResult, error) {
	q, err := CheckReadOnly(query)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin read-only tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '"+readOnlyTimeout+"'"); err != nil {
		return nil, eris.Wrap(err, "postgres: set statement timeout")
	}

	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read-only query")
	}
	columns, out, err := db.CollectMaps(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read-only query")
	}
	return &QueryResult{Columns: columns, Rows: out}, nil
}

func scanPgDocument(row scannable, kind model.DocumentKind) (*model.Document, error) {
	doc := model.Document{Kind: kind}
	var fieldsJSON []byte

	err := row.Scan(&doc.ID, &doc.Filename, &doc.FileHash, &doc.RawText, &fieldsJSON, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan %s", kind)
	}
	if err := decodeFields(fieldsJSON, &doc.Fields); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal %s %s parsed data", kind, doc.ID)
	}
	return &doc, nil
}

func scanPgDiscrepancy(row scannable) (*model.Discrepancy, error) {
	var d model.Discrepancy
	var reportJSON []byte

	err := row.Scan(&d.ID, &d.InvoiceID, &d.POID, &d.Description, &d.Clean, &reportJSON, &d.Summary, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan discrepancy")
	}
	if err := json.Unmarshal(reportJSON, &d.Report); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal report %s", d.ID)
	}
	return &d, nil
}
