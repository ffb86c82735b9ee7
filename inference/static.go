package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// DefaultEmbeddingDims is the vector length Static produces.
const DefaultEmbeddingDims = 768

// Call records one request made to a Static service.
type Call struct {
	Method     string
	Prompt     string
	ModelClass string
}

// Static is a deterministic Service for tests and offline runs. Responses
// echo the model class and prompt; embeddings are derived from a hash of
// the text so equal inputs give equal vectors.
type Static struct {
	// Err, when set, is returned by every call.
	Err error
	// Dims is the embedding length. Zero means DefaultEmbeddingDims.
	Dims int

	mu    sync.Mutex
	calls []Call
}

var _ Service = (*Static)(nil)

// GenerateResponse implements Service.
func (s *Static) GenerateResponse(_ context.Context, prompt, modelClass string) (string, error) {
	s.record(Call{Method: "GenerateResponse", Prompt: prompt, ModelClass: modelClass})
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("[%s] %s", modelClass, prompt), nil
}

// GenerateEmbedding implements Service.
func (s *Static) GenerateEmbedding(_ context.Context, text string) ([]float64, error) {
	s.record(Call{Method: "GenerateEmbedding", Prompt: text, ModelClass: ClassEmbedding})
	if s.Err != nil {
		return nil, s.Err
	}
	dims := s.Dims
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, dims)
	for i := range vec {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		vec[i] = float64(seed%2000)/1000 - 1
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm = math.Sqrt(norm); norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Calls returns the recorded calls in order.
func (s *Static) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Static) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}
