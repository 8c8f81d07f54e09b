// internal/services/conversation_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/llm"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/parser"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

const (
	// ConversationSystemPrompt 问答使用的系统提示词
	ConversationSystemPrompt = "You are a helpful QA testing expert with deep knowledge of software testing, automation, and quality assurance best practices."

	historyWindow          = 3
	historyResponseLimit   = 200
	contextTranscriptLimit = 1000
	maxSuggestions         = 6
	insightQuestionLimit   = 50
	answerConfidence       = 0.85
	noConversationsSummary = "No conversations yet"
)

// 问题分类关键词，按顺序匹配
var questionKeywords = []struct {
	kind     models.QuestionType
	keywords []string
}{
	{models.QuestionAutomation, []string{"automate", "automation", "script", "selenium", "playwright"}},
	{models.QuestionEdgeCase, []string{"edge case", "edge", "additional", "what if", "scenario"}},
	{models.QuestionClarification, []string{"why", "how", "explain", "clarify", "what does"}},
	{models.QuestionEnhancement, []string{"improve", "enhance", "better", "optimize"}},
}

// ClassifyQuestion 根据关键词给问题分类
func ClassifyQuestion(question string) models.QuestionType {
	lower := strings.ToLower(question)
	for _, group := range questionKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(lower, keyword) {
				return group.kind
			}
		}
	}
	return models.QuestionGeneral
}

// BuildConversationContext 测试用例、原始记录（可选）和最近几轮问答组成的上下文
func BuildConversationContext(tc *models.TestCase, transcript *models.TranscriptRecord, history []models.ConversationEntry) string {
	parts := []string{
		"=== GENERATED TEST CASE ===",
		"ID: " + orDefault(tc.TestCaseID, "Unknown"),
		"Domain: " + orDefault(tc.Domain, "Unknown"),
		"Service: " + orDefault(tc.Service, "Unknown"),
		"Priority: " + orDefault(tc.Priority, "Unknown"),
		"Issue: " + orDefault(tc.IssueDescription, "Unknown"),
		"Test Scenario: " + orDefault(tc.TestScenario, "Unknown"),
	}

	if len(tc.TestSteps) > 0 {
		parts = append(parts, "Test Steps:")
		for i, step := range tc.TestSteps {
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, step))
		}
	}

	if transcript != nil {
		parts = append(parts,
			"\n=== ORIGINAL CUSTOMER TRANSCRIPT ===",
			"Channel: "+orDefault(string(transcript.Channel), "Unknown"),
			"Issue Category: "+orDefault(transcript.Category, "Unknown"),
		)
		if transcript.Transcript != "" {
			parts = append(parts, "Customer Issue: "+parser.TruncateRunes(transcript.Transcript, contextTranscriptLimit, "..."))
		}
	}

	if len(history) > 0 {
		parts = append(parts, "\n=== PREVIOUS CONVERSATION ===")
		for _, entry := range history[max(0, len(history)-historyWindow):] {
			parts = append(parts,
				"Q: "+entry.Question,
				"A: "+parser.TruncateRunes(entry.Response, historyResponseLimit, "..."),
			)
		}
	}

	return strings.Join(parts, "\n")
}

// BuildQuestionPrompt 问答提示词
func BuildQuestionPrompt(contextText, question string) string {
	return fmt.Sprintf(`You are a QA Testing Expert Assistant helping teams understand and enhance test cases.

Context Information:
%s

QA Team Question: %s

Instructions:
- Provide helpful, specific, and actionable answers
- Reference details from the test case and transcript when relevant  
- Suggest concrete improvements or additional test scenarios
- Use clear formatting with bullet points or numbered lists when appropriate
- If the question relates to automation, provide specific technical guidance
- If asking about edge cases, suggest realistic scenarios based on the customer issue
- Keep responses practical and focused on QA testing needs
- Use emojis sparingly for better readability

Provide a comprehensive but concise response:`, contextText, question)
}

// BuildSuggestionsPrompt 推荐问题提示词
func BuildSuggestionsPrompt(contextText string) string {
	return fmt.Sprintf(`Based on this test case and context, generate 6 helpful follow-up questions that a QA team might want to ask.

Context:
%s

Generate questions in these categories:
1. Automation (2 questions about test automation specifics)
2. Edge Cases (2 questions about additional scenarios to test)  
3. Clarification (2 questions about test details or requirements)

Format as JSON:
{
  "suggestions": [
    {"category": "automation", "question": "What specific UI elements should be automated?"},
    {"category": "edge_cases", "question": "What happens in low network conditions?"},
    {"category": "clarification", "question": "Which error messages should be validated?"}
  ]
}

Return only the JSON, no other text.`, contextText)
}

// ParseSuggestions 解析模型返回的推荐问题；无法解析时返回 nil
func ParseSuggestions(raw string) []models.SuggestedQuestion {
	payload := CleanLLMJSONResponse(raw)
	if payload == "" {
		return nil
	}

	var data struct {
		Suggestions []models.SuggestedQuestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil
	}

	suggestions := make([]models.SuggestedQuestion, 0, len(data.Suggestions))
	for _, s := range data.Suggestions {
		if strings.TrimSpace(s.Question) != "" {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions
}

// FallbackQuestions 模型不可用时的固定推荐问题；移动端和 Web 领域会插入对应的边界问题
func FallbackQuestions(tc *models.TestCase) []models.SuggestedQuestion {
	automation := []models.SuggestedQuestion{
		{Category: "automation", Question: "What specific UI elements should be automated for this test?"},
		{Category: "automation", Question: "What test data variations should be included in automation?"},
	}
	edgeCases := []models.SuggestedQuestion{
		{Category: "edge_cases", Question: "What additional scenarios should be tested?"},
		{Category: "edge_cases", Question: "How does this issue vary across different devices or browsers?"},
	}
	clarification := []models.SuggestedQuestion{
		{Category: "clarification", Question: "What specific error messages should be validated?"},
		{Category: "clarification", Question: "What are the exact steps to reproduce this issue?"},
	}

	domain := strings.ToLower(tc.Domain)
	if strings.Contains(domain, "mobile") {
		edgeCases = append(edgeCases, models.SuggestedQuestion{Category: "edge_cases", Question: "How does this behave on different mobile OS versions?"})
	}
	if strings.Contains(domain, "web") {
		edgeCases = append(edgeCases, models.SuggestedQuestion{Category: "edge_cases", Question: "What happens with different browser configurations?"})
	}

	questions := append(append(automation, edgeCases...), clarification...)
	return questions[:maxSuggestions]
}

// ExtractInsights 从自动化和边界类问题中提取洞察
func ExtractInsights(history []models.ConversationEntry) []string {
	insights := []string{}
	for _, entry := range history {
		preview := parser.TruncateRunes(entry.Question, insightQuestionLimit, "")
		switch entry.QuestionType {
		case models.QuestionAutomation:
			insights = append(insights, fmt.Sprintf("Automation guidance requested: %s...", preview))
		case models.QuestionEdgeCase:
			insights = append(insights, fmt.Sprintf("Edge case identified: %s...", preview))
		}
	}
	return insights
}

// AdditionalContext 根据回答内容归纳的补充上下文
func AdditionalContext(history []models.ConversationEntry) string {
	var items []string
	for _, entry := range history {
		response := strings.ToLower(entry.Response)
		if strings.Contains(response, "specific") {
			items = append(items, "Requires specific implementation details")
		}
		if strings.Contains(response, "edge case") {
			items = append(items, "Multiple edge cases identified")
		}
	}
	return strings.Join(items, "; ")
}

// SummarizeConversations 问答摘要
func SummarizeConversations(history []models.ConversationEntry) string {
	if len(history) == 0 {
		return noConversationsSummary
	}
	automation, edgeCases := 0, 0
	for _, entry := range history {
		switch entry.QuestionType {
		case models.QuestionAutomation:
			automation++
		case models.QuestionEdgeCase:
			edgeCases++
		}
	}
	return fmt.Sprintf("Total questions: %d (Automation: %d, Edge cases: %d)", len(history), automation, edgeCases)
}

// NewConversationalData 新生成测试用例的空问答数据
func NewConversationalData(at time.Time) *models.ConversationalData {
	return &models.ConversationalData{
		ConversationHistory: []models.ConversationEntry{},
		QAInsights:          []string{},
		ConversationSummary: noConversationsSummary,
		LastUpdated:         at,
	}
}

// ErrorEntry 处理失败时记录的问答
func ErrorEntry(question string, err error, at time.Time) models.ConversationEntry {
	return models.ConversationEntry{
		Timestamp:       at,
		Question:        question,
		Response:        fmt.Sprintf("I encountered an error processing your question: %v. Please try rephrasing or contact support if the issue persists.", err),
		QuestionType:    models.QuestionError,
		ConfidenceScore: 0.0,
		Error:           true,
	}
}

// AskResult 一次提问的结果
type AskResult struct {
	TestCaseID        string                   `json:"test_case_id"`
	Entry             models.ConversationEntry `json:"response"`
	ConversationCount int                      `json:"conversation_count"`
}

// ConversationService 围绕已生成测试用例的问答
type ConversationService struct {
	llm    *LLMService
	store  *storage.ArtifactStore
	locks  *LockManager
	logger *utils.Logger
	now    func() time.Time
}

// NewConversationService 创建问答服务
func NewConversationService(llmService *LLMService, store *storage.ArtifactStore, locks *LockManager, logger *utils.Logger) *ConversationService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if locks == nil {
		locks = NewLockManager()
	}
	return &ConversationService{
		llm:    llmService,
		store:  store,
		locks:  locks,
		logger: logger,
		now:    time.Now,
	}
}

// FindTestCase 在测试用例文件中（最新优先）查找测试用例，返回其所在的请求 ID
func (s *ConversationService) FindTestCase(testCaseID string) (*models.TestCase, string, error) {
	if strings.TrimSpace(testCaseID) == "" {
		return nil, "", apperrors.NewValidationError("缺少 test_case_id", nil)
	}

	requestIDs, err := s.store.TestCaseRequestIDs()
	if err != nil {
		return nil, "", err
	}

	for _, requestID := range requestIDs {
		var found *models.TestCase
		err := s.locks.WithReadLock(requestID, func() error {
			file, err := s.store.LoadTestCases(requestID)
			if err != nil {
				return err
			}
			if i, ok := file.Find(testCaseID); ok {
				tc := file.TestCases[i]
				found = &tc
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("⚠️ 跳过无法读取的测试用例文件", map[string]interface{}{"request_id": requestID, "error": err.Error()})
			continue
		}
		if found != nil {
			return found, requestID, nil
		}
	}
	return nil, "", apperrors.NewNotFoundError(fmt.Sprintf("测试用例不存在: %s", testCaseID), nil)
}

// Ask 回答关于测试用例的问题并把问答写回测试用例文件
func (s *ConversationService) Ask(ctx context.Context, testCaseID, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if strings.TrimSpace(testCaseID) == "" || question == "" {
		return nil, apperrors.NewValidationError("缺少 test_case_id 或 question", nil)
	}
	if !s.llm.IsReady() {
		return nil, apperrors.NewLLMError("问答 AI 不可用: "+s.llm.GetReadyState(), ErrLLMNotReady)
	}

	tc, requestID, err := s.FindTestCase(testCaseID)
	if err != nil {
		return nil, err
	}

	transcript := s.lookupTranscript(tc.SourceCallID)
	var history []models.ConversationEntry
	if tc.ConversationalData != nil {
		history = tc.ConversationalData.ConversationHistory
	}

	entry := s.answer(ctx, tc, transcript, history, question)

	var count int
	err = s.locks.WithLock(requestID, func() error {
		file, err := s.store.LoadTestCases(requestID)
		if err != nil {
			return err
		}
		i, ok := file.Find(testCaseID)
		if !ok {
			return apperrors.NewNotFoundError(fmt.Sprintf("测试用例不存在: %s", testCaseID), nil)
		}

		target := &file.TestCases[i]
		if target.ConversationalData == nil {
			target.ConversationalData = NewConversationalData(entry.Timestamp)
		}
		data := target.ConversationalData
		data.ConversationHistory = append(data.ConversationHistory, entry)
		data.QAInsights = ExtractInsights(data.ConversationHistory)
		data.AdditionalContext = AdditionalContext(data.ConversationHistory)
		data.ConversationSummary = SummarizeConversations(data.ConversationHistory)
		data.LastUpdated = s.now()
		count = len(data.ConversationHistory)

		_, err = s.store.SaveTestCases(requestID, file)
		return err
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "保存问答失败", apperrors.ErrorTypeProcessing)
	}

	s.logger.Info("💬 问答已保存", map[string]interface{}{
		"test_case_id":  testCaseID,
		"question_type": entry.QuestionType,
		"count":         count,
	})
	return &AskResult{TestCaseID: testCaseID, Entry: entry, ConversationCount: count}, nil
}

// maxBatchQuestions 一次批量提问的上限
const maxBatchQuestions = 10

// BatchAskResult 批量提问的结果
type BatchAskResult struct {
	TestCaseID         string                     `json:"test_case_id"`
	Responses          []models.ConversationEntry `json:"responses"`
	TotalConversations int                        `json:"total_conversations"`
}

// AskBatch 依次回答多个问题，后面的问题能看到前面的问答
func (s *ConversationService) AskBatch(ctx context.Context, testCaseID string, questions []string) (*BatchAskResult, error) {
	cleaned := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	if strings.TrimSpace(testCaseID) == "" || len(cleaned) == 0 {
		return nil, apperrors.NewValidationError("缺少 test_case_id 或 questions", nil)
	}
	if len(cleaned) > maxBatchQuestions {
		return nil, apperrors.NewValidationError(fmt.Sprintf("一次最多 %d 个问题", maxBatchQuestions), nil)
	}

	result := &BatchAskResult{TestCaseID: testCaseID, Responses: make([]models.ConversationEntry, 0, len(cleaned))}
	for _, question := range cleaned {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewTimeoutError("批量提问被取消", err)
		}
		asked, err := s.Ask(ctx, testCaseID, question)
		if err != nil {
			return nil, err
		}
		result.Responses = append(result.Responses, asked.Entry)
		result.TotalConversations = asked.ConversationCount
	}
	return result, nil
}

// History 测试用例的问答历史；还没有问答时返回空记录
func (s *ConversationService) History(testCaseID string) (*models.ConversationalData, error) {
	tc, _, err := s.FindTestCase(testCaseID)
	if err != nil {
		return nil, err
	}
	if tc.ConversationalData == nil {
		return NewConversationalData(s.now()), nil
	}
	data := *tc.ConversationalData
	if data.ConversationHistory == nil {
		data.ConversationHistory = []models.ConversationEntry{}
	}
	if data.QAInsights == nil {
		data.QAInsights = []string{}
	}
	return &data, nil
}

// answer 调用模型；失败时返回 error 类型的问答记录
func (s *ConversationService) answer(ctx context.Context, tc *models.TestCase, transcript *models.TranscriptRecord, history []models.ConversationEntry, question string) models.ConversationEntry {
	settings := s.llm.Settings()
	contextText := BuildConversationContext(tc, transcript, history)

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: ConversationSystemPrompt,
		Prompt:       BuildQuestionPrompt(contextText, question),
		MaxTokens:    settings.ChatMaxTokens,
		Temperature:  float32(settings.ChatTemperature),
	})
	if err != nil {
		s.logger.Error("❌ 问答请求失败", map[string]interface{}{"test_case_id": tc.TestCaseID, "error": err.Error()})
		return ErrorEntry(question, err, s.now())
	}

	return models.ConversationEntry{
		Timestamp:       s.now(),
		Question:        question,
		Response:        resp.Text,
		QuestionType:    ClassifyQuestion(question),
		ConfidenceScore: answerConfidence,
		ContextUsed: &models.ContextUsed{
			HasTranscript:      transcript != nil,
			ConversationLength: len(history),
		},
	}
}

// Suggestions 推荐追问；模型不可用或输出无法解析时使用固定问题，第二个返回值为来源（ai / fallback）
func (s *ConversationService) Suggestions(ctx context.Context, testCaseID string) ([]models.SuggestedQuestion, string, error) {
	tc, _, err := s.FindTestCase(testCaseID)
	if err != nil {
		return nil, "", err
	}

	if !s.llm.IsReady() {
		return FallbackQuestions(tc), "fallback", nil
	}

	settings := s.llm.Settings()
	contextText := BuildConversationContext(tc, s.lookupTranscript(tc.SourceCallID), nil)
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: ConversationSystemPrompt,
		Prompt:       BuildSuggestionsPrompt(contextText),
		MaxTokens:    settings.ChatMaxTokens,
		Temperature:  float32(settings.ChatTemperature),
	})
	if err != nil {
		s.logger.Warn("⚠️ 推荐问题生成失败，使用默认问题", map[string]interface{}{"test_case_id": testCaseID, "error": err.Error()})
		return FallbackQuestions(tc), "fallback", nil
	}

	suggestions := ParseSuggestions(resp.Text)
	if len(suggestions) == 0 {
		return FallbackQuestions(tc), "fallback", nil
	}
	return suggestions, "ai", nil
}

// Export 导出测试用例的全部问答
func (s *ConversationService) Export(testCaseID string) (*models.ConversationExport, error) {
	tc, _, err := s.FindTestCase(testCaseID)
	if err != nil {
		return nil, err
	}

	data := tc.ConversationalData
	if data == nil {
		data = NewConversationalData(s.now())
	}
	conversations := data.ConversationHistory
	if conversations == nil {
		conversations = []models.ConversationEntry{}
	}
	insights := data.QAInsights
	if insights == nil {
		insights = []string{}
	}

	return &models.ConversationExport{
		TestCaseSummary: models.TestCaseSummary{
			TestCaseID:       testCaseID,
			Domain:           orDefault(tc.Domain, "Unknown"),
			Service:          orDefault(tc.Service, "Unknown"),
			Priority:         orDefault(tc.Priority, "Unknown"),
			IssueDescription: orDefault(tc.IssueDescription, "Unknown"),
		},
		ExportMetadata: models.ExportMetadata{
			ExportTimestamp:     s.now(),
			TotalQuestions:      len(conversations),
			ConversationSummary: data.ConversationSummary,
		},
		Conversations: conversations,
		QAInsights:    insights,
	}, nil
}

func (s *ConversationService) lookupTranscript(callID string) *models.TranscriptRecord {
	rec, ok, err := s.store.FindMaskedRecord(callID)
	if err != nil {
		s.logger.Warn("⚠️ 读取原始记录失败", map[string]interface{}{"call_id": callID, "error": err.Error()})
		return nil
	}
	if !ok {
		return nil
	}
	return rec
}
