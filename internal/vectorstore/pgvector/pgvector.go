package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// Postgres error codes handled explicitly.
const (
	codeDuplicateTable = "42P07"
	codeUndefinedTable = "42P01"
)

// Storage keeps each collection in its own table with a pgvector column.
type Storage struct {
	db *sql.DB
}

var _ vectorstore.Backend = (*Storage)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Storage{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Storage { return &Storage{db: db} }

// Close releases the connection pool.
func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) Collection(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	// atttypmod of a vector(n) column is n.
	const q = `SELECT a.atttypmod FROM pg_attribute a
	           WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding' AND NOT a.attisdropped`
	var size int
	err := s.db.QueryRowContext(ctx, q, pq.QuoteIdentifier(name)).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return vectorstore.CollectionInfo{}, nil
	}
	if err != nil {
		return vectorstore.CollectionInfo{}, fmt.Errorf("inspect table %s: %w", name, err)
	}
	if size < 0 {
		size = 0
	}
	return vectorstore.CollectionInfo{Exists: true, VectorSize: size}, nil
}

func (s *Storage) CreateCollection(ctx context.Context, name string, size int, distance vectorstore.Distance) error {
	if distance != vectorstore.Cosine {
		return fmt.Errorf("unsupported distance %q", distance)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	table := pq.QuoteIdentifier(name)
	create := fmt.Sprintf(`CREATE TABLE %s (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		page        INTEGER,
		content     TEXT NOT NULL,
		payload     JSONB NOT NULL,
		embedding   vector(%d) NOT NULL
	)`, table, size)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == codeDuplicateTable {
			return domain.ErrCollectionExists
		}
		return fmt.Errorf("create table %s: %w", name, err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`,
		pq.QuoteIdentifier(name+"_document_id_idx"), table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create index on %s: %w", name, err)
	}
	return nil
}

func (s *Storage) UpsertPoints(ctx context.Context, name string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, document_id, chunk_index, page, content, payload, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		 ON CONFLICT (id) DO UPDATE SET document_id = EXCLUDED.document_id, chunk_index = EXCLUDED.chunk_index,
		   page = EXCLUDED.page, content = EXCLUDED.content, payload = EXCLUDED.payload, embedding = EXCLUDED.embedding`,
		pq.QuoteIdentifier(name)))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		args, err := rowArgs(p)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// rowArgs maps a point onto the insert columns
// (id, document_id, chunk_index, page, content, payload, embedding).
func rowArgs(p domain.VectorPoint) ([]any, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload %s: %w", p.ID, err)
	}
	res := domain.SearchResult{Payload: p.Payload}
	var page sql.NullInt64
	if pg := res.Page(); pg != nil {
		page = sql.NullInt64{Int64: int64(*pg), Valid: true}
	}
	return []any{p.ID, res.DocumentID(), res.ChunkIndex(), page, res.Text(), payload, pgv.NewVector(p.Vector)}, nil
}

// filterClause renders f as a WHERE condition whose placeholders start at $n.
func filterClause(f vectorstore.Filter, n int) (string, []any) {
	clause := fmt.Sprintf("document_id = $%d", n)
	args := []any{f.DocumentID}
	if f.ExceptIngestID != "" {
		clause += fmt.Sprintf(" AND payload->>'%s' IS DISTINCT FROM $%d", domain.PayloadIngestID, n+1)
		args = append(args, f.ExceptIngestID)
	}
	return clause, args
}

func (s *Storage) SearchPoints(ctx context.Context, name string, vector domain.Vector, filter vectorstore.Filter, limit int) ([]domain.SearchResult, error) {
	where, args := filterClause(filter, 2)
	q := fmt.Sprintf(`SELECT id, payload, 1 - (embedding <=> $1::vector) AS score
	                  FROM %s
	                  WHERE %s
	                  ORDER BY embedding <=> $1::vector
	                  LIMIT $%d`, pq.QuoteIdentifier(name), where, len(args)+2)
	args = append([]any{pgv.NewVector(vector)}, args...)
	rows, err := s.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			r   domain.SearchResult
			raw []byte
		)
		if err := rows.Scan(&r.ID, &raw, &r.Score); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Storage) DeletePoints(ctx context.Context, name string, filter vectorstore.Filter) error {
	where, args := filterClause(filter, 1)
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s`, pq.QuoteIdentifier(name), where)
	_, err := s.db.ExecContext(ctx, q, args...)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == codeUndefinedTable {
		return nil
	}
	return err
}
