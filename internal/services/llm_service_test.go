package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/TranscriptQA/internal/config"
	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/llm"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

func TestNewLLMService_NotReadyWithoutKey(t *testing.T) {
	svc := NewLLMService(config.LLMConfig{Provider: "groq"}, testMetrics(), quietLogger())

	ready, state := svc.GetProviderStatus()
	assert.False(t, ready)
	assert.Equal(t, "API key not configured", state)

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsLLMError(err))
	assert.ErrorIs(t, err, ErrLLMNotReady)
}

func TestNewLLMService_UnknownProvider(t *testing.T) {
	svc := NewLLMService(config.LLMConfig{Provider: "no-such-provider", APIKey: "k"}, testMetrics(), quietLogger())

	assert.False(t, svc.IsReady())
	assert.Contains(t, svc.GetReadyState(), "Initialization failed")
}

func TestNewEmptyLLMService(t *testing.T) {
	svc := NewEmptyLLMService()
	assert.False(t, svc.IsReady())
	assert.Equal(t, "empty", svc.GetProviderName())

	var nilService *LLMService
	assert.False(t, nilService.IsReady())
	ready, _ := nilService.GetProviderStatus()
	assert.False(t, ready)
}

func TestLLMService_CompleteRecordsMetrics(t *testing.T) {
	collector := utils.NewMetricsCollector()
	provider := &fakeProvider{reply: func(req llm.CompletionRequest) (string, error) { return "pong", nil }}
	svc := NewLLMServiceWithProvider("fake", provider, testLLMConfig, utils.NewPipelineMetrics(collector, quietLogger()), quietLogger())

	resp, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)

	// 未指定模型时使用默认模型
	require.Len(t, provider.Requests(), 1)
	assert.Equal(t, "fake-model", provider.Requests()[0].Model)

	assert.Equal(t, int64(1), collector.GetCounterValue(utils.MetricLLMRequests))
	assert.Equal(t, int64(0), collector.GetCounterValue(utils.MetricLLMFailures))

	provider.reply = func(llm.CompletionRequest) (string, error) { return "", errFake }
	_, err = svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "ping"})
	assert.True(t, apperrors.IsLLMError(err))
	assert.Equal(t, int64(1), collector.GetCounterValue(utils.MetricLLMFailures))
}

func TestLLMService_EmptyTextIsAnError(t *testing.T) {
	svc, _ := newFakeLLM(func(llm.CompletionRequest) (string, error) { return "   ", nil })

	_, err := svc.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestLLMService_TestConnection(t *testing.T) {
	svc, provider := newFakeLLM(func(llm.CompletionRequest) (string, error) { return "Hi", nil })

	require.NoError(t, svc.TestConnection(context.Background()))
	req := provider.Requests()[0]
	assert.Equal(t, "Hello", req.Prompt)
	assert.Equal(t, 10, req.MaxTokens)
}

func TestLLMService_Status(t *testing.T) {
	svc, _ := newFakeLLM(func(llm.CompletionRequest) (string, error) { return "", nil })

	status := svc.Status()
	assert.True(t, status.Ready)
	assert.Equal(t, "Ready", status.State)
	assert.Equal(t, "fake", status.Provider)
	assert.Equal(t, []string{"fake-model"}, status.Supported)
}

func TestCleanLLMJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"markdown fence", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
		{"leading prose", `Here you go: {"a":1} hope it helps`, `{"a":1}`},
		{"no object", "sorry, I cannot", ""},
		{"reversed braces", "} {", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanLLMJSONResponse(tt.in))
		})
	}
}
