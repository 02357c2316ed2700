package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	Sources           []string `yaml:"sources"`
	ChunkSize         int      `yaml:"chunk_size"`
	ChunkOverlap      int      `yaml:"chunk_overlap"`
	Encoding          string   `yaml:"encoding"`
	TopK              int      `yaml:"top_k"`
	SkipFailedSources bool     `yaml:"skip_failed_sources"`
	FetchTimeoutSecs  int      `yaml:"fetch_timeout_secs"`
	UserAgent         string   `yaml:"user_agent"`
	EncryptionKey     string   `yaml:"encryption_key"`
}

type CacheConfig struct {
	Type         string      `yaml:"type"`
	Dir          string      `yaml:"dir"`
	CacheQueries bool        `yaml:"cache_queries"`
	Redis        RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type VectorStoreConfig struct {
	Type       string `yaml:"type"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
	VectorSize int    `yaml:"vector_size"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type HistoryConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	ChatLLM     LLMConfig         `yaml:"chat_llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	RAG         RAGConfig         `yaml:"rag"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	History     HistoryConfig     `yaml:"history"`
}

// DefaultSources are the pages indexed when the config names none.
var DefaultSources = []string{
	"https://www.aad.org/public/diseases/acne/diy/adult-acne-treatment",
	"https://www.aad.org/public/diseases/a-z/ringworm-treatment",
	"https://www.aad.org/public/everyday-care/hair-scalp-care/scalp/treat-dandruff",
}

const (
	defaultChunkSize    = 250 // tokens
	defaultEncoding     = "cl100k_base"
	defaultTopK         = 4
	defaultFetchTimeout = 30
	defaultUserAgent    = "chat-rag/1.0"
	defaultCacheDir     = "./cache/"
	defaultOllamaURL    = "http://localhost:11434"
	defaultChatModel    = "llama3"
	defaultEmbedModel   = "all-minilm"
	defaultCollection   = "rag_collection"
	defaultVectorPath   = "./chromemdb"
	defaultVectorSize   = 384
)

// LoadConfig reads the YAML config at path. A missing file yields defaults.
// Secrets left empty in the file are taken from the environment.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// Default returns a config populated with defaults only.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	applyLLMDefaults(&cfg.ChatLLM, defaultChatModel)
	applyLLMDefaults(&cfg.EmbedLLM, defaultEmbedModel)

	if len(cfg.RAG.Sources) == 0 {
		cfg.RAG.Sources = append([]string(nil), DefaultSources...)
	}
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = 0
	}
	if cfg.RAG.Encoding == "" {
		cfg.RAG.Encoding = defaultEncoding
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if cfg.RAG.FetchTimeoutSecs <= 0 {
		cfg.RAG.FetchTimeoutSecs = defaultFetchTimeout
	}
	if cfg.RAG.UserAgent == "" {
		cfg.RAG.UserAgent = defaultUserAgent
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "file"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = defaultCacheDir
	}
	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = "localhost:6379"
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "chromem"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = defaultVectorPath
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = defaultCollection
	}
	if cfg.VectorStore.VectorSize <= 0 {
		cfg.VectorStore.VectorSize = defaultVectorSize
	}

	if cfg.History.MaxTurns < 0 {
		cfg.History.MaxTurns = 0
	}
}

func applyLLMDefaults(llm *LLMConfig, model string) {
	if llm.Provider == "" {
		llm.Provider = "ollama"
	}
	if llm.BaseURL == "" && llm.Provider == "ollama" {
		llm.BaseURL = defaultOllamaURL
	}
	if llm.Model == "" {
		llm.Model = model
	}
}

func applyEnv(cfg *Config) {
	if cfg.ChatLLM.Key == "" {
		cfg.ChatLLM.Key = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = os.Getenv("RAG_DB_PASSWORD")
	}
	if cfg.Cache.Redis.Password == "" {
		cfg.Cache.Redis.Password = os.Getenv("RAG_REDIS_PASSWORD")
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.ChatLLM.Key = mask(c.ChatLLM.Key)
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.Database.Password = mask(c.Database.Password)
	c.Cache.Redis.Password = mask(c.Cache.Redis.Password)
	c.RAG.EncryptionKey = mask(c.RAG.EncryptionKey)
	return c
}
