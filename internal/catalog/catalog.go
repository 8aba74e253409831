// Package catalog persists document records and chat turns in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"docrag/internal/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		indexed_at DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_document ON turns(document_id, id)`,
}

// Catalog is the SQLite-backed document and conversation store.
type Catalog struct {
	db *sqlx.DB
}

// Open connects to the database file at path and creates the schema.
func Open(path string) (*Catalog, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// one writer at a time; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init catalog schema: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

type documentRow struct {
	ID         string       `db:"id"`
	Title      string       `db:"title"`
	Path       string       `db:"path"`
	Content    string       `db:"content"`
	PageCount  int          `db:"page_count"`
	Status     string       `db:"status"`
	ChunkCount int          `db:"chunk_count"`
	IndexedAt  sql.NullTime `db:"indexed_at"`
	LastError  string       `db:"last_error"`
	CreatedAt  time.Time    `db:"created_at"`
}

func (r documentRow) document() domain.Document {
	d := domain.Document{
		ID:         r.ID,
		Title:      r.Title,
		Path:       r.Path,
		Content:    r.Content,
		PageCount:  r.PageCount,
		Status:     domain.DocumentStatus(r.Status),
		ChunkCount: r.ChunkCount,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
	}
	if r.IndexedAt.Valid {
		t := r.IndexedAt.Time
		d.IndexedAt = &t
	}
	return d
}

// SaveDocument inserts doc, or updates title, path, content and page count
// of an existing record. Indexing state of an existing record is kept.
func (c *Catalog) SaveDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if doc.Status == "" {
		doc.Status = domain.StatusPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, path, content, page_count, status, chunk_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			path = excluded.path,
			content = excluded.content,
			page_count = excluded.page_count`,
		doc.ID, doc.Title, doc.Path, doc.Content, doc.PageCount, string(doc.Status), doc.CreatedAt)
	if err != nil {
		return domain.Document{}, fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return c.Document(ctx, doc.ID)
}

// Document returns the full record including content.
func (c *Catalog) Document(ctx context.Context, id string) (domain.Document, error) {
	var row documentRow
	err := c.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document %s: %w", id, err)
	}
	return row.document(), nil
}

// ListDocuments returns every record, newest first, without content.
func (c *Catalog) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var rows []documentRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, title, path, '' AS content, page_count, status, chunk_count, indexed_at, last_error, created_at
		FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]domain.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.document()
	}
	return docs, nil
}

// MarkIndexed records a successful ingestion.
func (c *Catalog) MarkIndexed(ctx context.Context, id string, chunks int, at time.Time) error {
	return c.update(ctx, id, `
		UPDATE documents SET status = ?, chunk_count = ?, indexed_at = ?, last_error = '' WHERE id = ?`,
		string(domain.StatusIndexed), chunks, at.UTC(), id)
}

// MarkFailed records a failed ingestion. Chunk count and indexed_at keep
// their previous values so a partially indexed document stays visible.
func (c *Catalog) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return c.update(ctx, id, `UPDATE documents SET status = ?, last_error = ? WHERE id = ?`,
		string(domain.StatusFailed), msg, id)
}

func (c *Catalog) update(ctx context.Context, id, query string, args ...any) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}

// DeleteDocument removes the record and its conversation.
func (c *Catalog) DeleteDocument(ctx context.Context, id string) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return tx.Commit()
}

type turnRow struct {
	ID         int64     `db:"id"`
	DocumentID string    `db:"document_id"`
	Role       string    `db:"role"`
	Content    string    `db:"content"`
	Sources    string    `db:"sources"`
	CreatedAt  time.Time `db:"created_at"`
}

// AppendTurn stores one chat message for a document.
func (c *Catalog) AppendTurn(ctx context.Context, documentID string, turn domain.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	sources := turn.Sources
	if sources == nil {
		sources = []domain.ContextItem{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO turns (document_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`,
		documentID, string(turn.Role), turn.Content, string(data), turn.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append turn for %s: %w", documentID, err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first.
func (c *Catalog) RecentTurns(ctx context.Context, documentID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []turnRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT * FROM turns WHERE document_id = ? ORDER BY id DESC LIMIT ?`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", documentID, err)
	}
	slices.Reverse(rows)

	turns := make([]domain.Turn, len(rows))
	for i, r := range rows {
		var sources []domain.ContextItem
		if err := json.Unmarshal([]byte(r.Sources), &sources); err != nil {
			return nil, fmt.Errorf("decode sources of turn %d: %w", r.ID, err)
		}
		turns[i] = domain.Turn{
			Role:      domain.Role(r.Role),
			Content:   r.Content,
			Timestamp: r.CreatedAt,
			Sources:   sources,
		}
	}
	return turns, nil
}
