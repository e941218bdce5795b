// Package models contains shared data models used across the mentorlens codebase.
package models

import "context"

// InferenceBackend is the vision-language model collaborator. Never call a
// specific backend directly; always inject this interface.
type InferenceBackend interface {
	// Health reports whether the backend has finished loading and can serve requests.
	Health(ctx context.Context) (bool, error)
	// Infer runs one critique pass over an image.
	Infer(ctx context.Context, req InferenceRequest) (*InferenceResult, error)
	// Name returns the backend identifier (e.g., "ollama", "openai").
	Name() string
}

// InferenceRequest is the input to one inference pass.
type InferenceRequest struct {
	Image     []byte
	ImageMIME string
	AdvisorID string
	Mode      Mode
	// Context is nil for baseline and first-pass requests.
	Context *CitationContext
	// OnProgress, when set, receives the accumulated partial output while the
	// backend is still generating.
	OnProgress func(text string)
}

// InferenceResult is the parsed output of one inference pass.
type InferenceResult struct {
	Critique  Critique
	ParsePath string
	Model     string
}

// CitationContext is the retrieved material offered to the second pass,
// together with the constraints the generator is asked to respect.
type CitationContext struct {
	Instruction       string           `json:"instruction"`
	MaxImageCitations int              `json:"max_image_citations"`
	MaxQuoteCitations int              `json:"max_quote_citations"`
	Images            []ImageCandidate `json:"images"`
	Quotes            []QuoteCandidate `json:"quotes"`
}

// ImageCandidate is a retrieved reference profile offered for citation under ID.
type ImageCandidate struct {
	ID       string             `json:"id"`
	Profile  DimensionalProfile `json:"profile"`
	Rank     int                `json:"rank"`
	Distance float64            `json:"distance"`
	Delta    map[string]float64 `json:"delta"`
}

// QuoteCandidate is a retrieved passage offered for citation under ID.
type QuoteCandidate struct {
	ID      string  `json:"id"`
	Passage Passage `json:"passage"`
}
