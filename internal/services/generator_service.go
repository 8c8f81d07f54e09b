// internal/services/generator_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/llm"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/parser"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// 生成提示词中对话的最大长度
const (
	promptConversationLimit = 800
	promptTruncatedMarker   = "...[truncated]"
)

// TestCaseSystemPrompt 定义测试用例 JSON 结构的系统提示词
const TestCaseSystemPrompt = `You are a QA Test Case Generator for telecommunications customer support scenarios.

Analyze customer support transcripts and generate detailed test cases that QA teams can execute.

Generate test cases in this EXACT JSON format:
{
    "test_case_id": "TC_[CHANNEL]_[NUMBER]",
    "domain": "Customer Portal/Mobile App/Target Store/etc",
    "service": "Plan Management/Device Support/Billing/etc", 
    "test_type": "User Experience/Functional/Integration/etc",
    "priority": "Critical/High/Medium/Low",
    "severity": "High/Medium/Low",
    "issue_description": "Clear description of customer issue",
    "test_scenario": "What should be tested to prevent this issue",
    "preconditions": ["Setup requirement 1", "Setup requirement 2"],
    "test_steps": ["Step 1: Action", "Step 2: Action", "Step 3: Verify result"],
    "expected_result": "What should happen when system works correctly",
    "actual_issue": "Current problem that needs fixing",
    "environmental_dependencies": ["Browser type", "Device", "Network"],
    "edge_cases": ["Additional scenarios to test"],
    "automation_feasibility": "High/Medium/Low",
    "customer_impact": "How this affects customer experience"
}

Focus on preventing the specific customer problem identified in the transcript. Return ONLY the JSON, no extra text.`

// BuildTestCasePrompt 单条记录的用户提示词
func BuildTestCasePrompt(rec models.TranscriptRecord) string {
	conversation := parser.TruncateRunes(rec.Transcript, promptConversationLimit, promptTruncatedMarker)

	prompt := fmt.Sprintf(`Analyze this customer support case and create a test case:

CASE DETAILS:
Call ID: %s
Channel: %s
Issue Category: %s
Severity: %s

CUSTOMER CONVERSATION:
%s

RESOLUTION: %s
CUSTOMER IMPACT: %s

Create a detailed test case that would help QA catch this problem before customers experience it. Focus on the specific steps needed to reproduce and test for this issue.

Return only the JSON test case.`,
		orDefault(rec.CallID, "Unknown"),
		orDefault(string(rec.Channel), "Unknown"),
		orDefault(rec.Category, "Unknown"),
		orDefault(rec.Severity, "Medium"),
		conversation,
		rec.Resolution,
		rec.Impact,
	)
	return strings.TrimSpace(prompt)
}

// DefaultTestCaseID 形如 TC_WEB_003，index 从 1 开始
func DefaultTestCaseID(channel models.Channel, index int) string {
	short := "UNK"
	if channel != "" {
		runes := []rune(string(channel))
		if len(runes) > 3 {
			runes = runes[:3]
		}
		short = strings.ToUpper(string(runes))
	}
	return fmt.Sprintf("TC_%s_%03d", short, index)
}

// ParseTestCaseResponse 从模型输出中取出 JSON 测试用例并补充来源信息
func ParseTestCaseResponse(raw string, rec models.TranscriptRecord, index int, generatedAt time.Time) (*models.TestCase, error) {
	payload := CleanLLMJSONResponse(strings.TrimSpace(raw))
	if payload == "" {
		return nil, apperrors.NewLLMError("模型输出中没有有效的 JSON", nil)
	}

	var tc models.TestCase
	if err := json.Unmarshal([]byte(payload), &tc); err != nil {
		return nil, apperrors.NewLLMError("测试用例 JSON 解析失败", err)
	}

	tc.SourceCallID = orDefault(rec.CallID, "Unknown")
	tc.SourceChannel = rec.Channel
	if tc.SourceChannel == "" {
		tc.SourceChannel = models.ChannelUnknown
	}
	tc.GeneratedAt = generatedAt

	if strings.TrimSpace(tc.TestCaseID) == "" {
		tc.TestCaseID = DefaultTestCaseID(rec.Channel, index)
	}
	return &tc, nil
}

// SuccessRate 形如 "3/4 (75.0%)"
func SuccessRate(succeeded, total int) string {
	if total == 0 {
		return "0/0 (0.0%)"
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", succeeded, total, float64(succeeded)/float64(total)*100)
}

// GenerationFailure 单条记录生成失败的原因
type GenerationFailure struct {
	Index  int    `json:"index"`
	CallID string `json:"call_id"`
	Error  string `json:"error"`
}

// GenerationResult 一次生成运行的结果
type GenerationResult struct {
	RequestID     string               `json:"request_id"`
	Filename      string               `json:"filename"`
	File          *models.TestCaseFile `json:"-"`
	FilteredCount int                  `json:"filtered_count"`
	Failures      []GenerationFailure  `json:"failures,omitempty"`
	Duration      time.Duration        `json:"duration"`
}

// GeneratedCount 成功生成的数量
func (r *GenerationResult) GeneratedCount() int {
	if r.File == nil {
		return 0
	}
	return len(r.File.TestCases)
}

// Preview 前 n 个测试用例
func (r *GenerationResult) Preview(n int) []models.TestCase {
	if r.File == nil {
		return []models.TestCase{}
	}
	return r.File.TestCases[:min(n, len(r.File.TestCases))]
}

// GeneratorService 基于脱敏记录调用大模型生成测试用例
type GeneratorService struct {
	llm     *LLMService
	store   *storage.ArtifactStore
	workers int
	logger  *utils.Logger
	metrics *utils.PipelineMetrics
	now     func() time.Time
}

// NewGeneratorService 创建生成服务，workers 为并发请求数上限
func NewGeneratorService(llmService *LLMService, store *storage.ArtifactStore, workers int, metrics *utils.PipelineMetrics, logger *utils.Logger) *GeneratorService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil, logger)
	}
	if workers <= 0 {
		workers = 1
	}
	return &GeneratorService{
		llm:     llmService,
		store:   store,
		workers: workers,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// TestConnection 检查模型是否可用
func (g *GeneratorService) TestConnection(ctx context.Context) error {
	return g.llm.TestConnection(ctx)
}

// GenerateOne 为单条记录生成测试用例，index 从 1 开始
func (g *GeneratorService) GenerateOne(ctx context.Context, rec models.TranscriptRecord, index int) (*models.TestCase, error) {
	settings := g.llm.Settings()
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: TestCaseSystemPrompt,
		Prompt:       BuildTestCasePrompt(rec),
		MaxTokens:    settings.MaxTokens,
		Temperature:  float32(settings.Temperature),
	})
	if err != nil {
		return nil, err
	}
	return ParseTestCaseResponse(resp.Text, rec, index, g.now())
}

// Generate 并发生成，输出顺序与输入一致；全部失败时不写文件
func (g *GeneratorService) Generate(ctx context.Context, records []models.TranscriptRecord, sourceFile, requestID string, tracker *ProgressTracker) (*GenerationResult, error) {
	if len(records) == 0 {
		return nil, g.failTracker(tracker, apperrors.NewValidationError("没有符合条件的转录记录", nil))
	}
	if !g.llm.IsReady() {
		return nil, g.failTracker(tracker, apperrors.NewLLMError("AI 测试用例生成器不可用: "+g.llm.GetReadyState(), ErrLLMNotReady))
	}
	if requestID == "" {
		requestID = storage.NewRequestID()
	}

	start := g.now()
	total := len(records)
	results := make([]*models.TestCase, total)
	failures := make([]*GenerationFailure, total)
	var done atomic.Int32

	g.logger.Info("🤖 开始生成测试用例", map[string]interface{}{
		"request_id": requestID,
		"records":    total,
		"workers":    g.workers,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.workers)

	for i, rec := range records {
		i, rec := i, rec
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			tc, err := g.GenerateOne(groupCtx, rec, i+1)
			finished := int(done.Add(1))
			if tracker != nil {
				tracker.UpdateStage("generating", 5+finished*90/total, fmt.Sprintf("🤖 已处理 %d/%d", finished, total))
			}

			if err != nil {
				// 单条失败不影响其它记录
				failures[i] = &GenerationFailure{Index: i + 1, CallID: rec.CallID, Error: err.Error()}
				g.logger.Warn("⚠️ 测试用例生成失败", map[string]interface{}{
					"index":   i + 1,
					"call_id": rec.CallID,
					"error":   err.Error(),
				})
				return nil
			}

			results[i] = tc
			g.logger.Debug("✅ 已生成测试用例", map[string]interface{}{"test_case_id": tc.TestCaseID, "call_id": rec.CallID})
			return nil
		})
	}

	err := group.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, g.failTracker(tracker, apperrors.WrapError(err, "生成已取消", apperrors.ErrorTypeProcessing))
	}

	testCases := make([]models.TestCase, 0, total)
	result := &GenerationResult{RequestID: requestID, FilteredCount: total}
	for i := range results {
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
			continue
		}
		if results[i] != nil {
			testCases = append(testCases, *results[i])
		}
	}

	if len(testCases) == 0 {
		return result, g.failTracker(tracker, apperrors.NewProcessingError("没有生成任何测试用例", nil))
	}

	assignUniqueIDs(testCases)
	generatedAt := g.now()
	for i := range testCases {
		testCases[i].ConversationalData = NewConversationalData(generatedAt)
	}

	file := &models.TestCaseFile{
		Metadata: models.TestCaseMetadata{
			TotalTestCases: len(testCases),
			GeneratedAt:    generatedAt,
			SuccessRate:    SuccessRate(len(testCases), total),
			ModelUsed:      g.llm.GetDefaultModel(),
			SourceFile:     sourceFile,
			RequestID:      requestID,
		},
		TestCases: testCases,
	}

	filename, err := g.store.SaveTestCases(requestID, file)
	if err != nil {
		return result, g.failTracker(tracker, err)
	}
	result.Filename = filename
	result.File = file
	result.Duration = g.now().Sub(start)
	g.metrics.RecordGeneration(result.Duration)

	g.logger.Info("💾 测试用例已保存", map[string]interface{}{
		"file":         filename,
		"test_cases":   len(testCases),
		"success_rate": file.Metadata.SuccessRate,
	})
	if tracker != nil {
		tracker.Complete(fmt.Sprintf("已生成 %d 个测试用例", len(testCases)))
	}
	return result, nil
}

func (g *GeneratorService) failTracker(tracker *ProgressTracker, err error) error {
	if tracker != nil {
		tracker.Fail(err.Error())
	}
	return err
}

// assignUniqueIDs 模型经常返回重复的 ID，重复者改用 TC_<渠道>_<序号>
func assignUniqueIDs(testCases []models.TestCase) {
	seen := make(map[string]bool, len(testCases))
	for i := range testCases {
		id := testCases[i].TestCaseID
		if seen[id] {
			id = DefaultTestCaseID(testCases[i].SourceChannel, i+1)
			for n := 2; seen[id]; n++ {
				id = fmt.Sprintf("%s_%d", DefaultTestCaseID(testCases[i].SourceChannel, i+1), n)
			}
			testCases[i].TestCaseID = id
		}
		seen[id] = true
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
