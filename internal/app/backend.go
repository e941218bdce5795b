package app

import (
	"fmt"

	"github.com/kiranshivaraju/mentorlens/internal/config"
	"github.com/kiranshivaraju/mentorlens/internal/inference/ollama"
	"github.com/kiranshivaraju/mentorlens/internal/inference/openai"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// NewBackend constructs the inference backend selected by cfg.Provider.
// Called once at startup.
func NewBackend(cfg config.InferenceConfig) (models.InferenceBackend, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewBackend(cfg), nil
	case "openai", "vllm":
		return openai.NewBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q: must be one of ollama, openai, vllm", cfg.Provider)
	}
}
