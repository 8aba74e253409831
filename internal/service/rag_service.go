package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"docrag/internal/assembler"
	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/retrieval"
	"docrag/internal/vectorstore"
)

// PageSeparator splits extracted text into pages.
const PageSeparator = "\f"

type Chunker interface {
	ChunkPages(pages []string, opts chunker.Options) ([]domain.Chunk, error)
}

type Index interface {
	retrieval.Searcher
	Upsert(ctx context.Context, documentID string, chunks []domain.Chunk, metadata map[string]any) (vectorstore.UpsertResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type Catalog interface {
	SaveDocument(ctx context.Context, doc domain.Document) (domain.Document, error)
	Document(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	MarkIndexed(ctx context.Context, id string, chunks int, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error) error
	DeleteDocument(ctx context.Context, id string) error
	AppendTurn(ctx context.Context, documentID string, turn domain.Turn) error
	RecentTurns(ctx context.Context, documentID string, limit int) ([]domain.Turn, error)
}

// Generator produces an answer from an assembled package. It is optional.
type Generator interface {
	Generate(ctx context.Context, question string, pkg assembler.Package) (string, error)
}

type Options struct {
	Chunking  chunker.Options
	Retrieval retrieval.Config
	Context   assembler.Config
	Logger    *slog.Logger
}

// RAGService wires the pipeline: chunking and indexing on ingest,
// retrieval and context assembly on every question.
type RAGService struct {
	chunker   Chunker
	index     Index
	catalog   Catalog
	generator Generator
	retriever *retrieval.Retriever
	opts      Options
	log       *slog.Logger
	locks     keyedMutex
	now       func() time.Time
}

// NewRAGService builds the service. gen may be nil, in which case Ask only
// returns the assembled context.
func NewRAGService(ch Chunker, index Index, catalog Catalog, gen Generator, opts Options) *RAGService {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rcfg := opts.Retrieval
	rcfg.Logger = log
	return &RAGService{
		chunker:   ch,
		index:     index,
		catalog:   catalog,
		generator: gen,
		retriever: retrieval.NewRetriever(index, rcfg),
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// IngestInput is a document as delivered by a text extractor.
type IngestInput struct {
	ID    string
	Title string
	Path  string
	Pages []string
}

// IngestReport describes the outcome of an ingestion, including failed ones.
type IngestReport struct {
	DocumentID string
	Status     domain.DocumentStatus
	Chunks     int
	Upserted   int
}

// IngestDocument records the document in the catalog, chunks it and indexes
// the chunks. A failure after the record is saved leaves the record in place
// marked failed; the report is returned together with the error.
func (s *RAGService) IngestDocument(ctx context.Context, in IngestInput) (IngestReport, error) {
	content := strings.Join(in.Pages, PageSeparator)
	if in.ID == "" {
		key := in.Path
		if key == "" {
			key = content
		}
		in.ID = hashString(key)
	}
	if in.Title == "" && in.Path != "" {
		in.Title = strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	}

	unlock := s.locks.Lock(in.ID)
	defer unlock()

	report := IngestReport{DocumentID: in.ID, Status: domain.StatusPending}
	doc, err := s.catalog.SaveDocument(ctx, domain.Document{
		ID:        in.ID,
		Title:     in.Title,
		Path:      in.Path,
		Content:   content,
		PageCount: len(in.Pages),
	})
	if err != nil {
		return report, err
	}
	report.Status = doc.Status

	chunks, err := s.chunker.ChunkPages(in.Pages, s.opts.Chunking)
	if err != nil {
		return s.fail(ctx, report, err)
	}
	report.Chunks = len(chunks)
	s.log.Debug("chunked document", "document_id", in.ID, "pages", len(in.Pages), "chunks", len(chunks))

	res, err := s.index.Upsert(ctx, in.ID, chunks, map[string]any{"title": in.Title})
	if err != nil {
		return s.fail(ctx, report, err)
	}
	report.Upserted = res.Upserted

	if err := s.catalog.MarkIndexed(ctx, in.ID, res.Upserted, s.now()); err != nil {
		return report, err
	}
	report.Status = domain.StatusIndexed
	s.log.Info("document indexed", "document_id", in.ID, "chunks", res.Upserted)
	return report, nil
}

func (s *RAGService) fail(ctx context.Context, report IngestReport, cause error) (IngestReport, error) {
	s.log.Error("ingestion failed", "document_id", report.DocumentID, "error", cause)
	if err := s.catalog.MarkFailed(ctx, report.DocumentID, cause); err != nil {
		return report, fmt.Errorf("%w (marking failed: %v)", cause, err)
	}
	report.Status = domain.StatusFailed
	return report, cause
}

// Answer is the result of one question.
type Answer struct {
	DocumentID string
	Question   string
	Path       retrieval.Path
	// Degraded is set when vector search failed and the lexical fallback
	// served the question. It does not fail the turn.
	Degraded error
	Package  assembler.Package
	Sources  []assembler.Source
	Text     string
}

// Ask retrieves context for question, bounds it together with the recent
// conversation and, when a generator is configured, produces an answer.
// Both turns are stored in the catalog after a successful answer.
func (s *RAGService) Ask(ctx context.Context, documentID, question string) (Answer, error) {
	doc, err := s.catalog.Document(ctx, documentID)
	if err != nil {
		return Answer{}, err
	}
	history, err := s.catalog.RecentTurns(ctx, documentID, s.opts.Context.HistoryMessages)
	if err != nil {
		return Answer{}, err
	}

	res := s.retriever.Retrieve(ctx, documentID, question, retrieval.Text(doc.Content))
	pkg, err := assembler.Assemble(res.Items, history, s.opts.Context)
	if err != nil {
		return Answer{}, err
	}
	used := pkg.UsedItems(res.Items)
	ans := Answer{
		DocumentID: documentID,
		Question:   question,
		Path:       res.Path,
		Degraded:   res.Degraded,
		Package:    pkg,
		Sources:    assembler.Sources(used, s.opts.Context.PreviewChars),
	}

	if s.generator != nil {
		text, err := s.generator.Generate(ctx, question, pkg)
		if err != nil {
			return ans, err
		}
		ans.Text = text
	}

	asked := s.now()
	if err := s.catalog.AppendTurn(ctx, documentID, domain.Turn{Role: domain.RoleUser, Content: question, Timestamp: asked}); err != nil {
		return ans, err
	}
	if ans.Text != "" {
		turn := domain.Turn{Role: domain.RoleAssistant, Content: ans.Text, Timestamp: s.now(), Sources: used}
		if err := s.catalog.AppendTurn(ctx, documentID, turn); err != nil {
			return ans, err
		}
	}
	s.log.Info("question answered", "document_id", documentID, "path", res.Path, "context_chunks", len(pkg.ContextTexts))
	return ans, nil
}

// Forget removes a document's points and its catalog record.
func (s *RAGService) Forget(ctx context.Context, documentID string) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return s.catalog.DeleteDocument(ctx, documentID)
}

// Documents lists catalogued documents.
func (s *RAGService) Documents(ctx context.Context) ([]domain.Document, error) {
	return s.catalog.ListDocuments(ctx)
}

// Document returns one catalogued document.
func (s *RAGService) Document(ctx context.Context, id string) (domain.Document, error) {
	return s.catalog.Document(ctx, id)
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
