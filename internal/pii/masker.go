// internal/pii/masker.go
package pii

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// PII 类别名，同时作为 pii_removed 的键
const (
	CategoryPhone      = "phone_numbers"
	CategoryEmail      = "emails"
	CategoryAccount    = "account_numbers"
	CategoryIMEI       = "imei_numbers"
	CategoryCreditCard = "credit_cards"
	CategorySSN        = "ssn"
	CategoryName       = "names"
	CategoryAddress    = "addresses"
)

// detector 单个检测规则
type detector struct {
	re *regexp.Regexp
	// group > 0 时只替换该捕获组，其余匹配文本保留
	group int
	// accept 为 nil 时接受所有匹配
	accept func(match string) bool
}

// Category 一个 PII 类别：多个检测规则共用一个占位符
type Category struct {
	Name      string
	Token     string
	detectors []detector
}

// telecomRule 电信业务字段，第二遍替换，不计入统计
type telecomRule struct {
	re          *regexp.Regexp
	replacement string
}

func rx(pattern string) detector {
	return detector{re: regexp.MustCompile(pattern)}
}

// DefaultCategories 固定顺序：phone, email, account, imei, credit card, ssn, names, addresses
func DefaultCategories() []Category {
	return []Category{
		{
			Name:  CategoryPhone,
			Token: "[PHONE_NUMBER]",
			detectors: []detector{
				rx(`\b\d{3}-\d{3}-\d{4}\b`),
				rx(`\(\d{3}\)\s*\d{3}-\d{4}\b`),
				rx(`\b\d{3}\.\d{3}\.\d{4}\b`),
				rx(`\b\d{10}\b`),
			},
		},
		{
			Name:      CategoryEmail,
			Token:     "[EMAIL_ADDRESS]",
			detectors: []detector{rx(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		},
		{
			Name:  CategoryAccount,
			Token: "[ACCOUNT_NUMBER]",
			detectors: []detector{
				rx(`\b\d{10,15}\b`),
				// 大写字母数字编号必须含数字，否则普通大写单词也会被当成账号
				{re: regexp.MustCompile(`\b[A-Z0-9]{8,12}\b`), accept: hasDigit},
			},
		},
		{
			Name:      CategoryIMEI,
			Token:     "[DEVICE_ID]",
			detectors: []detector{rx(`\b\d{15}\b`)},
		},
		{
			Name:      CategoryCreditCard,
			Token:     "[CREDIT_CARD]",
			detectors: []detector{rx(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
		},
		{
			Name:      CategorySSN,
			Token:     "[SSN]",
			detectors: []detector{rx(`\b\d{3}-\d{2}-\d{4}\b`)},
		},
		{
			Name:  CategoryName,
			Token: "[CUSTOMER_NAME]",
			detectors: []detector{
				rx(`\b(?i:agent|customer):\s*[A-Z][a-z]+\s+[A-Z][a-z]+\b`),
				{re: regexp.MustCompile(`\b([A-Z][a-z]+\s+[A-Z][a-z]+)\s+(?i:said|called|from)\b`), group: 1},
			},
		},
		{
			Name:  CategoryAddress,
			Token: "[ADDRESS]",
			detectors: []detector{
				rx(`\b\d+[ \t]+[A-Za-z0-9 \t]+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Way|Place|Pl)\b`),
				rx(`\b\d{5}(?:-\d{4})?\b`),
			},
		},
	}
}

var telecomRules = []telecomRule{
	{regexp.MustCompile(`(?i)\bsim\s*(?:card\s*)?number[:\s]+\w+`), "[SIM_NUMBER]"},
	{regexp.MustCompile(`(?i)\bactivation\s*code[:\s]+\w+`), "[ACTIVATION_CODE]"},
	{regexp.MustCompile(`(?i)\bport\s*request[:\s]+[\w-]+`), "[PORT_REQUEST_ID]"},
	{regexp.MustCompile(`(?i)\btrade-in\s*reference[:\s]+[\w-]+`), "[TRADE_IN_ID]"},
	{regexp.MustCompile(`(?i)\border\s*confirmation[:\s]+[\w-]+`), "[ORDER_ID]"},
	{regexp.MustCompile(`(?i)\bbilling\s*address[:\s]+[^.]+\.`), "[BILLING_ADDRESS]."},
	{regexp.MustCompile(`(?i)\bzip\s*code[:\s]+\d{5}\b`), "[ZIP_CODE]"},
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// Options 脱敏选项
type Options struct {
	// MaskCallID 为 true 时 call_id 也参与脱敏（可能破坏标识符）
	MaskCallID bool
}

// Masker PII 脱敏引擎，无内部可变状态，可并发使用
type Masker struct {
	categories []Category
	options    Options
	logger     *utils.Logger
	metrics    *utils.PipelineMetrics
}

// NewMasker 创建脱敏引擎
func NewMasker(options Options, logger *utils.Logger, metrics *utils.PipelineMetrics) *Masker {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil, logger)
	}
	return &Masker{
		categories: DefaultCategories(),
		options:    options,
		logger:     logger,
		metrics:    metrics,
	}
}

// Categories 返回类别表（按应用顺序）
func (m *Masker) Categories() []Category {
	return m.categories
}

// NewTally 所有类别计数为 0 的统计表
func (m *Masker) NewTally() models.PIITally {
	tally := make(models.PIITally, len(m.categories))
	for _, c := range m.categories {
		tally[c.Name] = 0
	}
	return tally
}

// Mask 对一段文本脱敏，返回结果与各类别命中数
func (m *Masker) Mask(text string) (string, models.PIITally) {
	tally := m.NewTally()
	if text == "" {
		return text, tally
	}

	masked := text
	for _, category := range m.categories {
		for _, d := range category.detectors {
			var count int
			masked, count = d.replace(masked, category.Token)
			tally[category.Name] += count
		}
	}

	for _, rule := range telecomRules {
		masked = rule.re.ReplaceAllLiteralString(masked, rule.replacement)
	}
	return masked, tally
}

// spans 返回要替换的区间。group > 0 时下一次查找从捕获组结尾开始，
// 组后面的关键词不被消耗，可以作为下一个匹配的开头
func (d detector) spans(text string) [][2]int {
	if d.group == 0 {
		var out [][2]int
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			out = append(out, [2]int{loc[0], loc[1]})
		}
		return out
	}

	var out [][2]int
	for pos := 0; pos < len(text); {
		loc := d.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil || loc[2*d.group] < 0 {
			break
		}
		start, end := pos+loc[2*d.group], pos+loc[2*d.group+1]
		out = append(out, [2]int{start, end})
		if end <= pos {
			end = pos + 1
		}
		pos = end
	}
	return out
}

// replace 先计数再替换，只处理被接受的匹配
func (d detector) replace(text, token string) (string, int) {
	spans := d.spans(text)
	if len(spans) == 0 {
		return text, 0
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last, count := 0, 0
	for _, span := range spans {
		start, end := span[0], span[1]
		if d.accept != nil && !d.accept(text[start:end]) {
			continue
		}
		sb.WriteString(text[last:start])
		sb.WriteString(token)
		last = end
		count++
	}
	if count == 0 {
		return text, 0
	}
	sb.WriteString(text[last:])
	return sb.String(), count
}

// MaskRecord 脱敏一条记录的文本字段；出现 panic 时返回 masking 错误，入参不受影响
func (m *Masker) MaskRecord(rec models.TranscriptRecord) (masked models.TranscriptRecord, tally models.PIITally, err error) {
	defer func() {
		if r := recover(); r != nil {
			masked, tally = rec, nil
			err = apperrors.NewMaskingError(fmt.Sprintf("record %s", rec.CallID), fmt.Errorf("%v", r))
		}
	}()

	masked = rec
	tally = m.NewTally()

	for _, field := range []*string{&masked.Transcript, &masked.Resolution, &masked.Impact, &masked.RootCause} {
		var fieldTally models.PIITally
		*field, fieldTally = m.Mask(*field)
		tally.Add(fieldTally)
	}

	if m.options.MaskCallID {
		masked.CallID, _ = m.Mask(masked.CallID)
	}
	return masked, tally, nil
}

// BatchResult 一批记录的脱敏结果
type BatchResult struct {
	Records []models.TranscriptRecord
	Tally   models.PIITally
	Failed  int
}

// MaskBatch 逐条脱敏；单条失败只排除该条并计数
func (m *Masker) MaskBatch(records []models.TranscriptRecord) *BatchResult {
	result := &BatchResult{
		Records: make([]models.TranscriptRecord, 0, len(records)),
		Tally:   m.NewTally(),
	}

	for i, rec := range records {
		masked, tally, err := m.MaskRecord(rec)
		if err != nil {
			result.Failed++
			m.metrics.RecordMasking(nil, true)
			m.logger.Error("❌ 记录脱敏失败，已排除", map[string]interface{}{
				"index":   i + 1,
				"call_id": rec.CallID,
				"error":   err.Error(),
			})
			continue
		}

		result.Records = append(result.Records, masked)
		result.Tally.Add(tally)
		m.metrics.RecordMasking(tally, false)

		if found := tally.Total(); found > 0 {
			m.logger.Debug("🔒 记录已脱敏", map[string]interface{}{"call_id": masked.CallID, "pii": found})
		} else {
			m.logger.Debug("✅ 记录未发现 PII", map[string]interface{}{"call_id": masked.CallID})
		}
	}

	m.logger.Info("🛡️ PII 脱敏完成", map[string]interface{}{
		"records": len(result.Records),
		"failed":  result.Failed,
		"total":   result.Tally.Total(),
	})
	return result
}
