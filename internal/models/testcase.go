// internal/models/testcase.go
package models

import "time"

// TestCase 由大模型根据一条脱敏记录生成的 QA 测试用例
type TestCase struct {
	TestCaseID                string   `json:"test_case_id"`
	Domain                    string   `json:"domain"`
	Service                   string   `json:"service"`
	TestType                  string   `json:"test_type"`
	Priority                  string   `json:"priority"`
	Severity                  string   `json:"severity"`
	IssueDescription          string   `json:"issue_description"`
	TestScenario              string   `json:"test_scenario"`
	Preconditions             []string `json:"preconditions"`
	TestSteps                 []string `json:"test_steps"`
	ExpectedResult            string   `json:"expected_result"`
	ActualIssue               string   `json:"actual_issue"`
	EnvironmentalDependencies []string `json:"environmental_dependencies"`
	EdgeCases                 []string `json:"edge_cases"`
	AutomationFeasibility     string   `json:"automation_feasibility"`
	CustomerImpact            string   `json:"customer_impact"`

	SourceCallID  string    `json:"source_call_id"`
	SourceChannel Channel   `json:"source_channel"`
	GeneratedAt   time.Time `json:"generated_at"`

	ConversationalData *ConversationalData `json:"conversational_data,omitempty"`
}

// TestCaseMetadata 测试用例文件的元数据
type TestCaseMetadata struct {
	TotalTestCases int       `json:"total_test_cases"`
	GeneratedAt    time.Time `json:"generated_at"`
	SuccessRate    string    `json:"success_rate"`
	ModelUsed      string    `json:"model_used"`
	SourceFile     string    `json:"source_file"`
	RequestID      string    `json:"request_id,omitempty"`
}

// TestCaseFile 生成结果文件
type TestCaseFile struct {
	Metadata  TestCaseMetadata `json:"metadata"`
	TestCases []TestCase       `json:"test_cases"`
}

// Find 按 ID 查找测试用例，返回其下标
func (f *TestCaseFile) Find(testCaseID string) (int, bool) {
	for i := range f.TestCases {
		if f.TestCases[i].TestCaseID == testCaseID {
			return i, true
		}
	}
	return -1, false
}

// QuestionType 问题分类
type QuestionType string

const (
	QuestionAutomation    QuestionType = "automation"
	QuestionEdgeCase      QuestionType = "edge_case"
	QuestionClarification QuestionType = "clarification"
	QuestionEnhancement   QuestionType = "enhancement"
	QuestionGeneral       QuestionType = "general"
	QuestionError         QuestionType = "error"
)

// ContextUsed 回答问题时使用的上下文信息
type ContextUsed struct {
	HasTranscript      bool `json:"has_transcript"`
	ConversationLength int  `json:"conversation_length"`
}

// ConversationEntry 一次问答
type ConversationEntry struct {
	Timestamp       time.Time    `json:"timestamp"`
	Question        string       `json:"question"`
	Response        string       `json:"response"`
	QuestionType    QuestionType `json:"question_type"`
	ConfidenceScore float64      `json:"confidence_score"`
	ContextUsed     *ContextUsed `json:"context_used,omitempty"`
	Error           bool         `json:"error,omitempty"`
}

// SuggestedQuestion 推荐的追问
type SuggestedQuestion struct {
	Category string `json:"category"`
	Question string `json:"question"`
}

// ConversationalData 附加在测试用例上的问答数据
type ConversationalData struct {
	ConversationHistory []ConversationEntry `json:"conversation_history"`
	QAInsights          []string            `json:"qa_insights"`
	AdditionalContext   string              `json:"additional_context"`
	ConversationSummary string              `json:"conversation_summary"`
	LastUpdated         time.Time           `json:"last_updated"`
}

// TestCaseSummary 导出时附带的测试用例摘要
type TestCaseSummary struct {
	TestCaseID       string `json:"test_case_id"`
	Domain           string `json:"domain"`
	Service          string `json:"service"`
	Priority         string `json:"priority"`
	IssueDescription string `json:"issue_description"`
}

// ExportMetadata 导出元数据
type ExportMetadata struct {
	ExportTimestamp     time.Time `json:"export_timestamp"`
	TotalQuestions      int       `json:"total_questions"`
	ConversationSummary string    `json:"conversation_summary"`
}

// ConversationExport 问答导出结构
type ConversationExport struct {
	TestCaseSummary TestCaseSummary     `json:"test_case_summary"`
	ExportMetadata  ExportMetadata      `json:"export_metadata"`
	Conversations   []ConversationEntry `json:"conversations"`
	QAInsights      []string            `json:"qa_insights"`
}

// ExportFilename 导出文件名，如 conversations_TC_WEB_001_20250305_101500.json
func (e *ConversationExport) ExportFilename() string {
	return "conversations_" + e.TestCaseSummary.TestCaseID + "_" + e.ExportMetadata.ExportTimestamp.Format("20060102_150405") + ".json"
}
