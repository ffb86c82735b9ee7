// Package inference is the model-inference collaborator used by
// orchestrator handlers: a Service interface, an HTTP client for an
// Ollama server, and a Static fake for tests and offline runs.
package inference

import (
	"context"
	"errors"
)

// Model classes named by queue resource affinity.
const (
	ClassReasoning = "reasoning"
	ClassGeneral   = "general"
	ClassDrafting  = "drafting"
	ClassEmbedding = "embedding"
)

// ErrEmptyPrompt is returned for a blank prompt or embedding input.
var ErrEmptyPrompt = errors.New("inference: empty prompt")

// Service generates text and embeddings.
type Service interface {
	// GenerateResponse completes prompt with the model serving modelClass.
	// An unknown class falls back to the general model.
	GenerateResponse(ctx context.Context, prompt, modelClass string) (string, error)

	// GenerateEmbedding returns the embedding vector of text.
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}
