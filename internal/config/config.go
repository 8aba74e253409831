package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OllamaEmbedderConfig configures the Ollama-style embedding server.
type OllamaEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	TokenEnv    string `yaml:"token_env"`
	PrimaryPath string `yaml:"primary_path"`
	LegacyPath  string `yaml:"legacy_path"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string               `yaml:"type"`
	Ollama OllamaEmbedderConfig `yaml:"ollama"`
	OpenAI OpenAIEmbedderConfig `yaml:"openai"`
}

// ChunkerConfig configures how documents are split into token windows.
type ChunkerConfig struct {
	ChunkTokens   int    `yaml:"chunk_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	Encoding      string `yaml:"encoding"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type              string         `yaml:"type"`
	Collection        string         `yaml:"collection"`
	ReplaceOnReingest bool           `yaml:"replace_on_reingest"`
	EmbedConcurrency  int            `yaml:"embed_concurrency"`
	Qdrant            QdrantConfig   `yaml:"qdrant"`
	PGVector          PGVectorConfig `yaml:"pgvector"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig points at a Postgres database with the vector extension.
type PGVectorConfig struct {
	DSNEnv string `yaml:"dsn_env"`
}

type RetrievalConfig struct {
	TopK           int `yaml:"top_k"`
	FallbackChunks int `yaml:"fallback_chunks"`
}

// ContextConfig bounds what is handed to the generator.
type ContextConfig struct {
	MaxContextChunks int `yaml:"max_context_chunks"`
	CharsPerChunk    int `yaml:"chars_per_chunk"`
	HistoryMessages  int `yaml:"history_messages"`
	PreviewChars     int `yaml:"preview_chars"`
}

// GeneratorConfig selects the answer generator. Type "none" returns the
// assembled context without calling a model.
type GeneratorConfig struct {
	Type         string  `yaml:"type"`
	BaseURL      string  `yaml:"base_url"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt,omitempty"`
	Temperature  float32 `yaml:"temperature"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Context     ContextConfig     `yaml:"context"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Keys missing from the file keep their default values.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings no component can run with.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown embedder: %q", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "qdrant", "pgvector":
	default:
		return fmt.Errorf("unknown vector store: %q", c.VectorStore.Type)
	}
	switch c.Generator.Type {
	case "none", "openai":
	default:
		return fmt.Errorf("unknown generator: %q", c.Generator.Type)
	}
	if c.Chunker.ChunkTokens <= 0 {
		return fmt.Errorf("chunker.chunk_tokens must be positive, got %d", c.Chunker.ChunkTokens)
	}
	if c.Chunker.OverlapTokens < 0 {
		return fmt.Errorf("chunker.overlap_tokens must not be negative, got %d", c.Chunker.OverlapTokens)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

func defaultCatalogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docrag.db"
	}
	return filepath.Join(home, ".config", "docrag", "catalog.db")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder: EmbedderConfig{Type: "ollama"},
		Chunker:  ChunkerConfig{ChunkTokens: 2000, OverlapTokens: 200, Encoding: "cl100k_base"},
		VectorStore: VectorStoreConfig{
			Type:              "memory",
			Collection:        "documents",
			ReplaceOnReingest: true,
			EmbedConcurrency:  1,
		},
		Retrieval: RetrievalConfig{TopK: 5},
		Context:   ContextConfig{MaxContextChunks: 5, CharsPerChunk: 1200, HistoryMessages: 6, PreviewChars: 200},
		Generator: GeneratorConfig{Type: "none"},
		Catalog:   CatalogConfig{Path: defaultCatalogPath()},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "ollama"
	}
	o := &cfg.Embedder.Ollama
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:11434"
	}
	if o.Model == "" {
		o.Model = "nomic-embed-text"
	}
	if o.TokenEnv == "" {
		o.TokenEnv = "OLLAMA_API_KEY"
	}
	if o.TimeoutSecs == 0 {
		o.TimeoutSecs = 120
	}
	oa := &cfg.Embedder.OpenAI
	if oa.BaseURL == "" {
		oa.BaseURL = "https://api.openai.com/v1"
	}
	if oa.APIKeyEnv == "" {
		oa.APIKeyEnv = "OPENAI_API_KEY"
	}
	if oa.Model == "" {
		oa.Model = "text-embedding-3-small"
	}
	if oa.TimeoutSecs == 0 {
		oa.TimeoutSecs = 120
	}

	if cfg.Chunker.Encoding == "" {
		cfg.Chunker.Encoding = "cl100k_base"
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = "memory"
	}
	if vs.Collection == "" {
		vs.Collection = "documents"
	}
	if vs.Qdrant.URL == "" {
		vs.Qdrant.URL = "http://localhost:6333"
	}
	if vs.Qdrant.APIKeyEnv == "" {
		vs.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
	}
	if vs.Qdrant.TimeoutSecs == 0 {
		vs.Qdrant.TimeoutSecs = 15
	}
	if vs.PGVector.DSNEnv == "" {
		vs.PGVector.DSNEnv = "DOCRAG_PG_DSN"
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}

	g := &cfg.Generator
	if g.Type == "" {
		g.Type = "none"
	}
	if g.BaseURL == "" {
		g.BaseURL = "https://api.openai.com/v1"
	}
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "OPENAI_API_KEY"
	}
	if g.Model == "" {
		g.Model = "gpt-4o-mini"
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 120
	}

	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = defaultCatalogPath()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
