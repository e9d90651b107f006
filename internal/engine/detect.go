package engine

import "fmt"

// Embedding providers accepted by Detect.
const (
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider       string
	OllamaBaseURL  string
	HashDimensions int
}

// Detect returns the engine for the configured provider. An empty provider
// selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderHash:
		return NewHashEngine(cfg.HashDimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
