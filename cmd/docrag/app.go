package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docrag/internal/assembler"
	"docrag/internal/catalog"
	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding/ollama"
	"docrag/internal/embedding/openai"
	"docrag/internal/generation"
	"docrag/internal/logging"
	"docrag/internal/retrieval"
	"docrag/internal/service"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
	"docrag/internal/vectorstore/pgvector"
	"docrag/internal/vectorstore/qdrant"
)

type app struct {
	cfg     *config.AppConfig
	log     *slog.Logger
	svc     *service.RAGService
	closers []func() error
}

func newApp(ctx context.Context, cfgPath string, logOut io.Writer) (*app, error) {
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	a := &app{cfg: cfg, log: log}

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog dir: %w", err)
	}
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cat.Close)

	index := vectorstore.NewIndex(emb, a.connector(cfg.VectorStore), vectorstore.Config{
		Collection:        cfg.VectorStore.Collection,
		ReplaceOnReingest: cfg.VectorStore.ReplaceOnReingest,
		EmbedConcurrency:  cfg.VectorStore.EmbedConcurrency,
		Logger:            log,
	})
	var g service.Generator
	if gen != nil {
		g = gen
	}
	a.svc = service.NewRAGService(chunker.NewTokenChunker(nil), index, cat, g, service.Options{
		Chunking: chunker.Options{
			ChunkTokens:   cfg.Chunker.ChunkTokens,
			OverlapTokens: cfg.Chunker.OverlapTokens,
			Encoding:      cfg.Chunker.Encoding,
		},
		Retrieval: retrieval.Config{TopK: cfg.Retrieval.TopK, FallbackChunks: cfg.Retrieval.FallbackChunks},
		Context: assembler.Config{
			MaxContextChunks: cfg.Context.MaxContextChunks,
			CharsPerChunk:    cfg.Context.CharsPerChunk,
			HistoryMessages:  cfg.Context.HistoryMessages,
			PreviewChars:     cfg.Context.PreviewChars,
		},
		Logger: log,
	})
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL:     cfg.Ollama.BaseURL,
			Model:       cfg.Ollama.Model,
			Token:       os.Getenv(cfg.Ollama.TokenEnv),
			PrimaryPath: cfg.Ollama.PrimaryPath,
			LegacyPath:  cfg.Ollama.LegacyPath,
			Timeout:     time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		}), nil
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newGenerator(cfg config.GeneratorConfig) (*generation.Generator, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "openai":
		gen, err := generation.New(generation.Config{
			BaseURL:      cfg.BaseURL,
			APIKeyEnv:    cfg.APIKeyEnv,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Temperature:  cfg.Temperature,
			Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("generator init failed: %w", err)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
}

// connector defers backend construction until the index first needs it.
func (a *app) connector(cfg config.VectorStoreConfig) vectorstore.Connector {
	switch cfg.Type {
	case "qdrant":
		return func(context.Context) (vectorstore.Backend, error) {
			return qdrant.NewStorage(qdrant.Config{
				URL:     cfg.Qdrant.URL,
				APIKey:  os.Getenv(cfg.Qdrant.APIKeyEnv),
				Timeout: time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
			}), nil
		}
	case "pgvector":
		return func(ctx context.Context) (vectorstore.Backend, error) {
			dsn := os.Getenv(cfg.PGVector.DSNEnv)
			if dsn == "" {
				return nil, fmt.Errorf("missing postgres DSN in env %s", cfg.PGVector.DSNEnv)
			}
			st, err := pgvector.Open(ctx, dsn)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, st.Close)
			return st, nil
		}
	default:
		return vectorstore.Static(memory.NewStorage())
	}
}

// ensureIndexed re-indexes a catalogued document when the vector store is
// process-local and therefore empty at startup.
func (a *app) ensureIndexed(ctx context.Context, documentID string) error {
	if a.cfg.VectorStore.Type != "memory" {
		return nil
	}
	doc, err := a.svc.Document(ctx, documentID)
	if err != nil {
		return err
	}
	_, err = a.svc.IngestDocument(ctx, service.IngestInput{
		ID:    doc.ID,
		Title: doc.Title,
		Path:  doc.Path,
		Pages: strings.Split(doc.Content, service.PageSeparator),
	})
	return err
}
