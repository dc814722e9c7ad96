package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewProviderSelection(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{"openai", "openai", false},
		{"groq", "groq", false},
		{"ollama", "ollama", false},
		{"unknown", "anthropic", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Provider: tt.provider, Model: "m"})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Config{Provider: "openai"}); err == nil {
		t.Error("New() without model should return error")
	}
}

func TestOpenAICompatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system + user", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "cleaned up text"}},
			},
		})
	}))
	defer srv.Close()

	p, err := New(Config{
		Provider:      "openai",
		Model:         "test-model",
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		SystemMessage: "fix the transcript",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.Complete(context.Background(), "raw transcript")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "cleaned up text" {
		t.Errorf("Complete() = %q, want 'cleaned up text'", got)
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream should be false")
		}

		json.NewEncoder(w).Encode(ollamaResponse{Response: "local completion"})
	}))
	defer srv.Close()

	p, err := New(Config{Provider: "ollama", Model: "llama3", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "local completion" {
		t.Errorf("Complete() = %q, want 'local completion'", got)
	}
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Error: "model not found"})
	}))
	defer srv.Close()

	p, err := New(Config{Provider: "ollama", Model: "missing", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := p.Complete(context.Background(), "hello"); err == nil {
		t.Error("Complete() should surface ollama error")
	}
}
