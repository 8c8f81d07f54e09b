// internal/parser/extractor.go
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/TranscriptQA/internal/models"
)

// FallbackBodyLength 无法识别对话时截取的长度
const FallbackBodyLength = 1000

// channelHint 渠道推断的一项：ID 中的渠道标记、合成 ID 用的关键词、正文关键词
type channelHint struct {
	channel    models.Channel
	token      string
	idKeywords []string
	keywords   []string
}

// channelHints 顺序即优先级
var channelHints = []channelHint{
	{models.ChannelTASORA, "TASORA", []string{"tasora"}, []string{"tasora"}},
	{models.ChannelWebPortal, "WEB", []string{"web", "portal"}, []string{"web portal", "website"}},
	{models.ChannelMobileApp, "APP", []string{"app", "mobile"}, []string{"mobile app", "application"}},
	{models.ChannelTarget, "TARGET", []string{"target"}, []string{"target"}},
	{models.ChannelSMSBotIVR, "SMS", []string{"sms", "bot"}, []string{"sms", "bot", "ivr"}},
}

var (
	conversationEndRe = regexp.MustCompile(`(?i)resolution:|impact:|root cause:`)
	agentTurnRe       = regexp.MustCompile(`(?i)agent:`)
	customerTurnRe    = regexp.MustCompile(`(?i)customer:`)
	// 两个字母的标签行（如 "QA:"）也会结束一组问答
	turnEndRe = regexp.MustCompile(`(?i)\n\s*[A-Z]{2}:|resolution:|impact:|root cause:`)
)

// Extractor 从单个片段中提取字段
type Extractor struct {
	CallID       RuleSet
	Date         RuleSet
	Category     RuleSet
	Severity     RuleSet
	JourneyType  RuleSet
	Resolution   RuleSet
	Impact       RuleSet
	RootCause    RuleSet
	Conversation RuleSet
}

// NewExtractor 创建带默认规则表的提取器
func NewExtractor() *Extractor {
	return &Extractor{
		CallID:       callIDRules(),
		Date:         LabelRuleSet("date", "date:", "timestamp:", "time:"),
		Category:     LabelRuleSet("category", "category:", "issue type:", "type:", "problem:"),
		Severity:     LabelRuleSet("severity", "severity:", "priority:", "level:"),
		JourneyType:  LabelRuleSet("journey_type", "journey type:", "journey:", "type:"),
		Resolution:   LabelRuleSet("resolution", "resolution:", "solution:", "fix:", "resolved:"),
		Impact:       LabelRuleSet("impact", "impact:", "effect:", "consequence:"),
		RootCause:    LabelRuleSet("root_cause", "root cause:", "cause:", "reason:"),
		Conversation: conversationRules(),
	}
}

func callIDRules() RuleSet {
	toCallID := func(capture string) string {
		if strings.HasPrefix(strings.ToUpper(capture), "TW_") {
			return capture
		}
		return "TW_" + capture
	}

	return RuleSet{
		Name: "call_id",
		Rules: []Rule{
			PatternRule("tw_marker", regexp.MustCompile(`(?i)TW_\w+_\d+`), func(g []string) (string, bool) {
				return g[0], true
			}),
			PatternRule("call_marker", regexp.MustCompile(`(?i)Call\s+(\w+_\w+_\d+)`), func(g []string) (string, bool) {
				return toCallID(g[1]), true
			}),
			PatternRule("id_label", regexp.MustCompile(`(?i)\bID:\s*([A-Z0-9_]+)`), func(g []string) (string, bool) {
				return toCallID(g[1]), true
			}),
		},
	}
}

func conversationRules() RuleSet {
	return RuleSet{
		Name: "conversation",
		Rules: []Rule{
			{Name: "transcript_block", Match: labelledBlock(regexp.MustCompile(`(?i)transcript:`))},
			{Name: "conversation_block", Match: labelledBlock(regexp.MustCompile(`(?i)conversation:`))},
			{Name: "agent_turns", Match: agentTurns},
			{Name: "truncated", Match: truncatedBody},
		},
	}
}

// labelledBlock 截取标签之后直到下一个结论类标签（或文末）的内容
func labelledBlock(label *regexp.Regexp) Matcher {
	return func(text string) (string, bool) {
		loc := label.FindStringIndex(text)
		if loc == nil || loc[1] >= len(text) {
			return "", false
		}
		start := loc[1]
		end := len(text)
		// 块内容至少一个字符
		_, size := utf8.DecodeRuneInString(text[start:])
		if m := conversationEndRe.FindStringIndex(text[start+size:]); m != nil {
			end = start + size + m[0]
		}
		return strings.TrimSpace(text[start:end]), true
	}
}

// agentTurns 收集所有 "agent: ... customer: ..." 问答组，以空行连接
func agentTurns(text string) (string, bool) {
	var blocks []string
	pos := 0
	for pos < len(text) {
		a := agentTurnRe.FindStringIndex(text[pos:])
		if a == nil {
			break
		}
		start := pos + a[0]
		c := customerTurnRe.FindStringIndex(text[pos+a[1]:])
		if c == nil {
			break
		}
		afterCustomer := pos + a[1] + c[1]

		end := len(text)
		if e := turnEndRe.FindStringIndex(text[afterCustomer:]); e != nil {
			end = afterCustomer + e[0]
		}
		if block := strings.TrimSpace(text[start:end]); block != "" {
			blocks = append(blocks, block)
		}
		pos = end
	}

	if len(blocks) == 0 {
		return "", false
	}
	return strings.Join(blocks, "\n\n"), true
}

// truncatedBody 兜底：截取前 FallbackBodyLength 个字符
func truncatedBody(text string) (string, bool) {
	return TruncateRunes(text, FallbackBodyLength, "..."), true
}

// TruncateRunes 按字符截断，超长时追加 marker
func TruncateRunes(s string, limit int, marker string) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + marker
}

// Extract 把一个片段转换为 TranscriptRecord，sequence 从 1 开始
func (e *Extractor) Extract(section string, sequence int) models.TranscriptRecord {
	callID := e.extractCallID(section, sequence)

	return models.TranscriptRecord{
		CallID:        callID,
		Channel:       InferChannel(section, callID),
		Date:          e.Date.Value(section),
		Category:      e.Category.Value(section),
		Severity:      e.Severity.Value(section),
		JourneyType:   e.JourneyType.Value(section),
		Transcript:    e.Conversation.Value(section),
		Resolution:    e.Resolution.Value(section),
		Impact:        e.Impact.Value(section),
		RootCause:     e.RootCause.Value(section),
		RawTextLength: utf8.RuneCountInString(section),
	}
}

func (e *Extractor) extractCallID(section string, sequence int) string {
	if id, _, ok := e.CallID.Apply(section); ok {
		return id
	}

	lower := strings.ToLower(section)
	token := "UNKNOWN"
	for _, hint := range channelHints {
		if containsAny(lower, hint.idKeywords) {
			token = hint.token
			break
		}
	}
	return fmt.Sprintf("TW_%s_%03d", token, sequence)
}

// InferChannel 先看 call_id 中的渠道标记，再在正文中按优先级搜索关键词
func InferChannel(section, callID string) models.Channel {
	upperID := strings.ToUpper(callID)
	for _, hint := range channelHints {
		if strings.Contains(upperID, hint.token) {
			return hint.channel
		}
	}

	lower := strings.ToLower(section)
	for _, hint := range channelHints {
		if containsAny(lower, hint.keywords) {
			return hint.channel
		}
	}
	return models.ChannelUnknown
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
