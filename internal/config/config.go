package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Corpus    CorpusConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Ledger    LedgerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL string
}

type EmbeddingConfig struct {
	Provider       string // "ollama" or "hash"
	Model          string
	HashDimensions int
}

type CorpusConfig struct {
	Path string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
}

type LedgerConfig struct {
	// CategoriesPath points at a YAML category table. Empty uses the built-in one.
	CategoriesPath string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			HashDimensions: 512,
		},
		Corpus: CorpusConfig{
			Path: "data/financial_statements.txt",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:      5,
			Threshold: 0.2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in three layers: built-in defaults, the JSON file
// at $XDG_CONFIG_HOME/finrag/config.json, then FINRAG_* environment
// variables.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var problems []string
	switch c.Embedding.Provider {
	case "ollama", "hash":
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider must be \"ollama\" or \"hash\", got %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "ollama" && c.Embedding.Model == "" {
		problems = append(problems, "embedding.model is required for the ollama provider")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold >= 1 {
		problems = append(problems, fmt.Sprintf("retrieval.threshold must be in [0, 1), got %v", c.Retrieval.Threshold))
	}
	if c.Embedding.HashDimensions <= 0 {
		problems = append(problems, fmt.Sprintf("embedding.hash_dimensions must be positive, got %d", c.Embedding.HashDimensions))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
