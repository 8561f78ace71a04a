package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vnmchuo/review-digest/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	var got openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		resp := openAIResponse{
			Choices: []openAIChoice{
				{Message: openAIMessage{Role: "assistant", Content: `{"pros":[]}`}},
			},
			Usage: openAIUsage{PromptTokens: 15, CompletionTokens: 25},
			Model: "gpt-4o-mini",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New("test-key", provider.WithBaseURL(server.URL))

	resp, err := p.Complete(context.Background(), &provider.Request{
		Model:       "gpt-4o-mini",
		Messages:    []provider.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.2,
		JSONOutput:  true,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != `{"pros":[]}` {
		t.Errorf("Unexpected content %s", resp.Content)
	}
	if resp.InputTokens != 15 || resp.OutputTokens != 25 {
		t.Errorf("Unexpected usage %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("Expected json_object response format, got %+v", got.ResponseFormat)
	}
	if got.Temperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %v", got.Temperature)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := New("test-key", provider.WithBaseURL(server.URL))
	_, err := p.Complete(context.Background(), &provider.Request{Model: "gpt-4o-mini"})

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", apiErr.Status)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := New("test-key", provider.WithBaseURL(server.URL))
	if _, err := p.Complete(context.Background(), &provider.Request{Model: "gpt-4o-mini"}); err == nil {
		t.Error("Expected error for empty choices")
	}
}

func TestName(t *testing.T) {
	if p := New("key"); p.Name() != "openai" {
		t.Errorf("Expected 'openai', got %s", p.Name())
	}
}
