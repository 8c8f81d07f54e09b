package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/llm"
	"github.com/Corphon/TranscriptQA/internal/models"
)

const generatedCaseJSON = `{
  "test_case_id": "%s",
  "domain": "Customer Portal",
  "service": "Device Support",
  "test_type": "Functional",
  "priority": "High",
  "severity": "High",
  "issue_description": "Activation stuck in pending",
  "test_scenario": "Verify activation completes",
  "preconditions": ["Active account"],
  "test_steps": ["Step 1: Open portal", "Step 2: Activate device", "Step 3: Verify result"],
  "expected_result": "Device activates",
  "actual_issue": "Activation pending",
  "environmental_dependencies": ["Browser"],
  "edge_cases": ["Slow network"],
  "automation_feasibility": "High",
  "customer_impact": "Customer cannot use device"
}`

// callIDFromPrompt 从用户提示词中取出 Call ID
func callIDFromPrompt(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if id, ok := strings.CutPrefix(line, "Call ID: "); ok {
			return id
		}
	}
	return ""
}

func newGenerator(t *testing.T, reply func(req llm.CompletionRequest) (string, error)) (*GeneratorService, *fakeProvider) {
	t.Helper()
	llmService, provider := newFakeLLM(reply)
	gen := NewGeneratorService(llmService, newTestStore(t), 3, testMetrics(), quietLogger())
	gen.now = fixedClock()
	return gen, provider
}

func TestBuildTestCasePrompt(t *testing.T) {
	rec := webRecord("TW_WEB_001", strings.Repeat("a", 900))
	prompt := BuildTestCasePrompt(rec)

	assert.True(t, strings.HasPrefix(prompt, "Analyze this customer support case and create a test case:"))
	assert.Contains(t, prompt, "Call ID: TW_WEB_001\nChannel: Web Portal\nIssue Category: Device Activation\nSeverity: High")
	assert.Contains(t, prompt, strings.Repeat("a", 800)+"...[truncated]")
	assert.NotContains(t, prompt, strings.Repeat("a", 801))
	assert.Contains(t, prompt, "RESOLUTION: Activation pushed manually.")
	assert.True(t, strings.HasSuffix(prompt, "Return only the JSON test case."))

	blank := BuildTestCasePrompt(models.TranscriptRecord{Transcript: "short"})
	assert.Contains(t, blank, "Call ID: Unknown\nChannel: Unknown\nIssue Category: Unknown\nSeverity: Medium")
	assert.NotContains(t, blank, "[truncated]")
}

func TestParseTestCaseResponse(t *testing.T) {
	at := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	rec := webRecord("TW_WEB_004", "text")

	tc, err := ParseTestCaseResponse("```json\n"+fmt.Sprintf(generatedCaseJSON, "TC_WEB_900")+"\n```", rec, 4, at)
	require.NoError(t, err)
	assert.Equal(t, "TC_WEB_900", tc.TestCaseID)
	assert.Equal(t, "TW_WEB_004", tc.SourceCallID)
	assert.Equal(t, models.ChannelWebPortal, tc.SourceChannel)
	assert.Equal(t, at, tc.GeneratedAt)
	assert.Len(t, tc.TestSteps, 3)

	tc, err = ParseTestCaseResponse(fmt.Sprintf(generatedCaseJSON, ""), rec, 4, at)
	require.NoError(t, err)
	assert.Equal(t, "TC_WEB_004", tc.TestCaseID)

	_, err = ParseTestCaseResponse("I cannot help with that", rec, 1, at)
	assert.True(t, apperrors.IsLLMError(err))

	_, err = ParseTestCaseResponse("{not json}", rec, 1, at)
	assert.True(t, apperrors.IsLLMError(err))
}

func TestDefaultTestCaseIDAndSuccessRate(t *testing.T) {
	assert.Equal(t, "TC_WEB_001", DefaultTestCaseID(models.ChannelWebPortal, 1))
	assert.Equal(t, "TC_SMS_012", DefaultTestCaseID(models.ChannelSMSBotIVR, 12))
	assert.Equal(t, "TC_UNK_003", DefaultTestCaseID("", 3))

	assert.Equal(t, "3/4 (75.0%)", SuccessRate(3, 4))
	assert.Equal(t, "2/3 (66.7%)", SuccessRate(2, 3))
	assert.Equal(t, "0/0 (0.0%)", SuccessRate(0, 0))
}

func TestGeneratorService_GeneratePreservesOrder(t *testing.T) {
	gen, provider := newGenerator(t, func(req llm.CompletionRequest) (string, error) {
		id := callIDFromPrompt(req.Prompt)
		if id == "TW_WEB_003" {
			return "", errFake
		}
		return fmt.Sprintf(generatedCaseJSON, "TC_"+id), nil
	})

	records := []models.TranscriptRecord{
		webRecord("TW_WEB_001", "one"),
		webRecord("TW_WEB_002", "two"),
		webRecord("TW_WEB_003", "three"),
		webRecord("TW_WEB_004", "four"),
	}

	tracker := NewProgressService().CreateTracker("gen-1", "generation")
	result, err := gen.Generate(context.Background(), records, "masked_x.json", "20250305T101500_gen", tracker)
	require.NoError(t, err)

	require.Equal(t, 3, result.GeneratedCount())
	ids := []string{}
	for _, tc := range result.File.TestCases {
		ids = append(ids, tc.TestCaseID)
		require.NotNil(t, tc.ConversationalData)
		assert.Equal(t, "No conversations yet", tc.ConversationalData.ConversationSummary)
	}
	assert.Equal(t, []string{"TC_TW_WEB_001", "TC_TW_WEB_002", "TC_TW_WEB_004"}, ids)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "TW_WEB_003", result.Failures[0].CallID)
	assert.Equal(t, 3, result.Failures[0].Index)

	meta := result.File.Metadata
	assert.Equal(t, 3, meta.TotalTestCases)
	assert.Equal(t, "3/4 (75.0%)", meta.SuccessRate)
	assert.Equal(t, "fake-model", meta.ModelUsed)
	assert.Equal(t, "masked_x.json", meta.SourceFile)
	assert.Equal(t, "test_cases_20250305T101500_gen.json", result.Filename)
	assert.Len(t, result.Preview(2), 2)

	saved, err := gen.store.LoadTestCases("20250305T101500_gen")
	require.NoError(t, err)
	assert.Len(t, saved.TestCases, 3)

	for _, req := range provider.Requests() {
		assert.Equal(t, TestCaseSystemPrompt, req.SystemPrompt)
		assert.Equal(t, 1500, req.MaxTokens)
		assert.InDelta(t, 0.3, req.Temperature, 1e-6)
	}
	assert.Equal(t, StatusCompleted, tracker.Snapshot().Status)
}

func TestGeneratorService_DuplicateIDsAreRenamed(t *testing.T) {
	gen, _ := newGenerator(t, func(llm.CompletionRequest) (string, error) {
		return fmt.Sprintf(generatedCaseJSON, "TC_WEB_001"), nil
	})

	records := []models.TranscriptRecord{webRecord("A", "a"), webRecord("B", "b"), webRecord("C", "c")}
	result, err := gen.Generate(context.Background(), records, "src", "20250305T101500_dup", nil)
	require.NoError(t, err)

	ids := []string{}
	for _, tc := range result.File.TestCases {
		ids = append(ids, tc.TestCaseID)
	}
	assert.Equal(t, []string{"TC_WEB_001", "TC_WEB_002", "TC_WEB_003"}, ids)
}

func TestGeneratorService_AllFailedWritesNothing(t *testing.T) {
	gen, _ := newGenerator(t, func(llm.CompletionRequest) (string, error) { return "no json here", nil })

	tracker := NewProgressService().CreateTracker("gen-2", "generation")
	result, err := gen.Generate(context.Background(), []models.TranscriptRecord{webRecord("A", "a")}, "src", "20250305T101500_none", tracker)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, StatusFailed, tracker.Snapshot().Status)

	_, err = gen.store.LoadTestCases("20250305T101500_none")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestGeneratorService_Preconditions(t *testing.T) {
	gen, _ := newGenerator(t, func(llm.CompletionRequest) (string, error) { return "", nil })

	_, err := gen.Generate(context.Background(), nil, "src", "", nil)
	assert.True(t, apperrors.IsValidationError(err))

	notReady := NewGeneratorService(NewEmptyLLMService(), newTestStore(t), 2, testMetrics(), quietLogger())
	_, err = notReady.Generate(context.Background(), []models.TranscriptRecord{webRecord("A", "a")}, "src", "", nil)
	assert.True(t, apperrors.IsLLMError(err))
}

func TestGeneratorService_Cancelled(t *testing.T) {
	gen, _ := newGenerator(t, func(llm.CompletionRequest) (string, error) {
		return fmt.Sprintf(generatedCaseJSON, "TC_X"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, []models.TranscriptRecord{webRecord("A", "a"), webRecord("B", "b")}, "src", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
