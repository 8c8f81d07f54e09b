// internal/cleaner/normalizer.go
package cleaner

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Corphon/TranscriptQA/internal/models"
)

const (
	DefaultCategory    = "Unknown"
	DefaultSeverity    = "Medium"
	Unclassified       = "Unclassified"
	DefaultJourneyType = "Non-tangible"
)

// categoryMapping 子串 -> 规范类别，按顺序匹配
var categoryMapping = []struct {
	key   string
	value string
}{
	{"plan change", "Plan Change"},
	{"device activation", "Device Activation"},
	{"billing dispute", "Billing Dispute"},
	{"device purchase", "Device Purchase"},
	{"account management", "Account Management"},
	{"promotional offers", "Promotional Offers"},
	{"data usage tracking", "Data Usage Tracking"},
	{"device upgrade", "Device Upgrade"},
	{"auto-pay management", "Auto-Pay Management"},
	{"auto pay management", "Auto-Pay Management"},
	{"sim card activation", "SIM Card Activation"},
	{"promotional pricing", "Promotional Pricing"},
	{"device return", "Device Return"},
	{"data usage alerts", "Data Usage Alerts"},
	{"service commands", "Service Commands"},
	{"balance inquiry", "Balance Inquiry"},
}

// severityLevels 包含检查的优先级
var severityLevels = []string{"Critical", "High", "Medium", "Low"}

var (
	categoryContamination = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\s*Severity:.*$`),
		regexp.MustCompile(`(?is)\s*TRANSCRIPT:.*$`),
		regexp.MustCompile(`(?is)\s*Agent:.*$`),
		regexp.MustCompile(`(?i)\s*High\s*$`),
		regexp.MustCompile(`(?i)\s*Medium\s*$`),
		regexp.MustCompile(`(?i)\s*Low\s*$`),
	}
	severityContamination = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\s*TRANSCRIPT:.*$`),
		regexp.MustCompile(`(?is)\s*Agent:.*$`),
		regexp.MustCompile(`(?is)\s*Category:.*$`),
	}
	resolutionContamination = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\s*Impact:.*$`),
		regexp.MustCompile(`(?is)\s*Root Cause:.*$`),
	}
	impactContamination = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\s*Root Cause:.*$`),
		regexp.MustCompile(`(?is)\s*Resolution:.*$`),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\w+\s+\d+,\s+\d{4}`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
		regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
	}

	// 会话正文中混入的页眉页脚、数据集横幅、分隔线、渠道横幅
	boilerplateLines = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^.*?TOTAL WIRELESS.*?Customer Support.*?$`),
		regexp.MustCompile(`(?im)^.*?Dataset.*?$`),
		regexp.MustCompile(`(?m)^.*?===+.*?$`),
		regexp.MustCompile(`(?m)^.*?Channels:.*?$`),
	}
	extraBlankLines = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

func stripAll(value string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		value = re.ReplaceAllString(value, "")
	}
	return value
}

// NormalizeCategory 规范化问题类别，空值为 "Unknown"
func NormalizeCategory(raw string) string {
	category := strings.TrimSpace(stripAll(raw, categoryContamination))
	if category == "" {
		return DefaultCategory
	}

	lower := strings.ToLower(category)
	for _, m := range categoryMapping {
		if strings.Contains(lower, m.key) {
			return m.value
		}
	}
	// Caser 有状态，不能跨 goroutine 共享
	return cases.Title(language.English).String(category)
}

// NormalizeSeverity 规范化严重程度，空值为 "Medium"
func NormalizeSeverity(raw string) string {
	return NormalizeSeverityOr(raw, DefaultSeverity)
}

// NormalizeSeverityOr 同 NormalizeSeverity，空值时返回 fallback
func NormalizeSeverityOr(raw, fallback string) string {
	severity := strings.TrimSpace(stripAll(raw, severityContamination))
	if severity == "" {
		return fallback
	}

	lower := strings.ToLower(severity)
	for _, level := range severityLevels {
		if strings.Contains(lower, strings.ToLower(level)) {
			return level
		}
	}
	return severity
}

// NormalizeJourneyType 规范化为 Tangible / Non-tangible
func NormalizeJourneyType(raw string) string {
	journey := strings.TrimSpace(raw)
	if journey == "" {
		return DefaultJourneyType
	}

	// "non-tangible" 包含 "tangible"，必须先判断
	lower := strings.ToLower(journey)
	switch {
	case strings.Contains(lower, "non-tangible"), strings.Contains(lower, "non tangible"), strings.Contains(lower, "intangible"):
		return "Non-tangible"
	case strings.Contains(lower, "tangible"):
		return "Tangible"
	default:
		return journey
	}
}

// NormalizeDate 返回第一个匹配的日期子串，原样保留格式
func NormalizeDate(raw string) string {
	for _, re := range datePatterns {
		if match := re.FindString(raw); match != "" {
			return match
		}
	}
	return strings.TrimSpace(raw)
}

// CleanConversation 去掉样板行并压缩多余空行
func CleanConversation(body string) string {
	if body == "" {
		return ""
	}
	body = stripAll(body, boilerplateLines)
	body = extraBlankLines.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// CleanResolution 去掉误抓的 Impact / Root Cause 片段
func CleanResolution(raw string) string {
	return strings.TrimSpace(stripAll(raw, resolutionContamination))
}

// CleanImpact 去掉误抓的 Root Cause / Resolution 片段
func CleanImpact(raw string) string {
	return strings.TrimSpace(stripAll(raw, impactContamination))
}

// Normalizer 记录级规范化
type Normalizer struct {
	severityDefault string
}

// NewNormalizer severityDefault 为空时使用 "Medium"
func NewNormalizer(severityDefault string) *Normalizer {
	if severityDefault == "" {
		severityDefault = DefaultSeverity
	}
	return &Normalizer{severityDefault: severityDefault}
}

// Apply 原地规范化一条记录
func (n *Normalizer) Apply(rec *models.TranscriptRecord) {
	rec.Category = NormalizeCategory(rec.Category)
	rec.Severity = NormalizeSeverityOr(rec.Severity, n.severityDefault)
	rec.JourneyType = NormalizeJourneyType(rec.JourneyType)
	rec.Date = NormalizeDate(rec.Date)
	rec.Transcript = CleanConversation(rec.Transcript)
	rec.Resolution = CleanResolution(rec.Resolution)
	rec.Impact = CleanImpact(rec.Impact)
	rec.RootCause = strings.TrimSpace(rec.RootCause)
}

// ApplyAll 返回规范化后的副本，不修改入参
func (n *Normalizer) ApplyAll(records []models.TranscriptRecord) []models.TranscriptRecord {
	out := make([]models.TranscriptRecord, len(records))
	copy(out, records)
	for i := range out {
		n.Apply(&out[i])
	}
	return out
}
