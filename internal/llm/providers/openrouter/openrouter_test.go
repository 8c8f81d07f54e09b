package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/TranscriptQA/internal/llm"
)

func TestCompleteText(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		assert.Equal(t, "TranscriptQA", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_, _ = w.Write([]byte(`{
			"model": "meta-llama/llama-3.3-70b-instruct",
			"choices": [{"message": {"content": "answer"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	provider, err := llm.GetProvider("openrouter", map[string]string{
		llm.ConfigAPIKey:  "or-key",
		llm.ConfigBaseURL: srv.URL,
	})
	require.NoError(t, err)

	resp, err := provider.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt:      "question",
		MaxTokens:   2000,
		Temperature: 0.4,
	})
	require.NoError(t, err)

	assert.Equal(t, "meta-llama/llama-3.3-70b-instruct", captured.Model)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, 2000, captured.MaxTokens)

	assert.Equal(t, "answer", resp.Text)
	assert.Equal(t, 7, resp.TokensUsed)
	assert.Equal(t, "OpenRouter", resp.ProviderName)
}

func TestCompleteText_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http error", http.StatusTooManyRequests, `rate limited`, "429"},
		{"no choices", http.StatusOK, `{"choices": []}`, llm.ErrEmptyResponse.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			provider, err := llm.GetProvider("openrouter", map[string]string{llm.ConfigAPIKey: "k", llm.ConfigBaseURL: srv.URL})
			require.NoError(t, err)

			_, err = provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, llm.ListProviders(), "openrouter")
	assert.NotEmpty(t, llm.GetSupportedModelsForProvider("openrouter"))
	assert.Empty(t, llm.GetSupportedModelsForProvider("nope"))

	_, err := llm.GetProvider("nope", nil)
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
}
