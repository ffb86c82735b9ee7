package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/conductor"
)

// DefaultOllamaURL is the address of a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// DefaultModels maps model classes to Ollama model names.
func DefaultModels() map[string]string {
	return map[string]string{
		ClassReasoning: "qwen2.5:14b",
		ClassGeneral:   "llama3.1:8b",
		ClassDrafting:  "llama3.1:8b",
		ClassEmbedding: "nomic-embed-text",
	}
}

// Ollama talks to an Ollama server over its HTTP API.
type Ollama struct {
	baseURL string
	client  *http.Client
	models  map[string]string
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Service = (*Ollama)(nil)

// OllamaOption configures an Ollama client.
type OllamaOption func(*Ollama)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *Ollama) { o.client = c }
}

// WithModel sets the model serving a class.
func WithModel(class, model string) OllamaOption {
	return func(o *Ollama) { o.models[class] = model }
}

// WithRateLimit caps requests per second sent to the server. Callers
// wait for a token, bounded by their context.
func WithRateLimit(perSecond float64, burst int) OllamaOption {
	return func(o *Ollama) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OllamaOption {
	return func(o *Ollama) { o.logger = l }
}

// NewOllama creates a client for the server at baseURL. An empty
// baseURL selects DefaultOllamaURL.
func NewOllama(baseURL string, opts ...OllamaOption) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	o := &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
		models:  DefaultModels(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Model returns the model name serving class.
func (o *Ollama) Model(class string) string {
	if m, ok := o.models[class]; ok {
		return m
	}
	return o.models[ClassGeneral]
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GenerateResponse calls /api/generate without streaming.
func (o *Ollama) GenerateResponse(ctx context.Context, prompt, modelClass string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", conductor.Terminal(ErrEmptyPrompt)
	}
	var out generateResponse
	req := generateRequest{Model: o.Model(modelClass), Prompt: prompt}
	if err := o.post(ctx, "/api/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// GenerateEmbedding calls /api/embeddings.
func (o *Ollama) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, conductor.Terminal(ErrEmptyPrompt)
	}
	var out embeddingResponse
	req := embeddingRequest{Model: o.Model(ClassEmbedding), Prompt: text}
	if err := o.post(ctx, "/api/embeddings", req, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("inference: ollama returned an empty embedding")
	}
	return out.Embedding, nil
}

// Health reports whether the server answers /api/tags.
func (o *Ollama) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("inference: build request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference: connect to ollama: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference: ollama health returned status %d", resp.StatusCode)
	}
	return nil
}

// post sends body as JSON and decodes the reply into out. Client errors
// other than 429 are terminal; everything else may succeed on retry.
func (o *Ollama) post(ctx context.Context, path string, body, out any) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("inference: rate limit wait: %w", err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return conductor.Terminal(fmt.Errorf("inference: encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return conductor.Terminal(fmt.Errorf("inference: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference: connect to ollama: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("inference: read ollama response: %w", err)
	}

	o.logger.Debug("ollama request",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		err := fmt.Errorf("inference: ollama %s: %s", path, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return conductor.Terminal(err)
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("inference: parse ollama response: %w", err)
	}
	return nil
}
