package inference_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/inference"
)

func newServer(t *testing.T, h http.HandlerFunc) *inference.Ollama {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return inference.NewOllama(srv.URL + "/")
}

func TestOllama_GenerateResponse(t *testing.T) {
	var got map[string]any
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "analysis done", "done": true})
	})

	out, err := client.GenerateResponse(context.Background(), "review the contract", inference.ClassReasoning)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if out != "analysis done" {
		t.Errorf("response = %q", out)
	}
	want := map[string]any{
		"model":  inference.DefaultModels()[inference.ClassReasoning],
		"prompt": "review the contract",
		"stream": false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestOllama_UnknownClassUsesGeneralModel(t *testing.T) {
	client := inference.NewOllama("", inference.WithModel(inference.ClassGeneral, "tiny"))
	if m := client.Model("astrology"); m != "tiny" {
		t.Errorf("Model(astrology) = %q, want tiny", m)
	}
}

func TestOllama_GenerateEmbedding(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q, want /api/embeddings", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["prompt"] != "clause 4.2" {
			t.Errorf("prompt = %v", req["prompt"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	})

	vec, err := client.GenerateEmbedding(context.Background(), "clause 4.2")
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if diff := cmp.Diff([]float64{0.1, 0.2, 0.3}, vec); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}
}

func TestOllama_ClientErrorIsTerminal(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
	})

	_, err := client.GenerateResponse(context.Background(), "hi", inference.ClassGeneral)
	if err == nil {
		t.Fatal("expected error")
	}
	if !conductor.IsTerminal(err) {
		t.Errorf("404 should be terminal, got %v", err)
	}
	if want := "inference: ollama /api/generate: model not found"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestOllama_ServerErrorIsRetryable(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.GenerateEmbedding(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if conductor.IsTerminal(err) {
		t.Errorf("503 should be retryable, got terminal %v", err)
	}
}

func TestOllama_EmptyPrompt(t *testing.T) {
	client := inference.NewOllama("http://127.0.0.1:1")
	_, err := client.GenerateResponse(context.Background(), "  ", inference.ClassGeneral)
	if !errors.Is(err, inference.ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
	if !conductor.IsTerminal(err) {
		t.Error("empty prompt should be terminal")
	}
}

func TestOllama_ContextCanceled(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "late"})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GenerateResponse(ctx, "hi", inference.ClassGeneral)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOllama_Health(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	})
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestStatic(t *testing.T) {
	s := &inference.Static{Dims: 16}
	ctx := context.Background()

	a, err := s.GenerateEmbedding(ctx, "same")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.GenerateEmbedding(ctx, "same")
	if len(a) != 16 {
		t.Fatalf("len = %d, want 16", len(a))
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("embeddings differ for equal input:\n%s", diff)
	}

	out, _ := s.GenerateResponse(ctx, "p", inference.ClassDrafting)
	if out != "[drafting] p" {
		t.Errorf("response = %q", out)
	}
	if n := len(s.Calls()); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}

	s.Err = errors.New("offline")
	if _, err := s.GenerateResponse(ctx, "p", ""); err == nil {
		t.Error("expected configured error")
	}
}
