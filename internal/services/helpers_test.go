package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/TranscriptQA/internal/config"
	"github.com/Corphon/TranscriptQA/internal/llm"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

var errFake = errors.New("fake provider failure")

// fakeProvider 记录请求并按 reply 返回内容
type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	reply    func(req llm.CompletionRequest) (string, error)
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                    { return "Fake" }
func (f *fakeProvider) GetSupportedModels() []string       { return []string{"fake-model"} }

func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text, TokensUsed: 42, ModelName: req.Model, ProviderName: "Fake"}, nil
}

func (f *fakeProvider) Requests() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.requests...)
}

var testLLMConfig = config.LLMConfig{
	Provider:        "fake",
	Model:           "fake-model",
	MaxTokens:       1500,
	Temperature:     0.3,
	ChatMaxTokens:   2000,
	ChatTemperature: 0.4,
}

func quietLogger() *utils.Logger {
	return utils.NewLogger(&bytes.Buffer{}, utils.DEBUG)
}

func testMetrics() *utils.PipelineMetrics {
	return utils.NewPipelineMetrics(utils.NewMetricsCollector(), quietLogger())
}

func newFakeLLM(reply func(req llm.CompletionRequest) (string, error)) (*LLMService, *fakeProvider) {
	provider := &fakeProvider{reply: reply}
	return NewLLMServiceWithProvider("fake", provider, testLLMConfig, testMetrics(), quietLogger()), provider
}

func newTestStore(t *testing.T) *storage.ArtifactStore {
	t.Helper()
	store, err := storage.NewArtifactStore(t.TempDir(), quietLogger())
	require.NoError(t, err)
	return store
}

func fixedClock() func() time.Time {
	at := time.Date(2025, 3, 5, 10, 15, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func webRecord(callID, transcript string) models.TranscriptRecord {
	return models.TranscriptRecord{
		CallID:     callID,
		Channel:    models.ChannelWebPortal,
		Category:   "Device Activation",
		Severity:   "High",
		Transcript: transcript,
		Resolution: "Activation pushed manually.",
		Impact:     "Customer offline for two days.",
	}
}
