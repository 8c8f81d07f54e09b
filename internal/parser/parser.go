// internal/parser/parser.go
package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// ParseResult 一篇文档的解析结果
type ParseResult struct {
	Records  []models.TranscriptRecord
	Pattern  string // 胜出的分隔符
	Sections int    // 分段数
	Skipped  int    // 过短被丢弃的分段
	Failed   int    // 提取出错被跳过的分段
}

// Parser 文档 -> 记录：分段后逐段提取
type Parser struct {
	segmenter *Segmenter
	extractor *Extractor
	logger    *utils.Logger
	metrics   *utils.PipelineMetrics
}

// NewParser 创建解析器
func NewParser(logger *utils.Logger, metrics *utils.PipelineMetrics) *Parser {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil, logger)
	}
	return &Parser{
		segmenter: NewSegmenter(),
		extractor: NewExtractor(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Extractor 暴露字段提取器
func (p *Parser) Extractor() *Extractor {
	return p.extractor
}

// ParseFile 读取并解析文档文件；无法读取或没有文本时返回错误
func (p *Parser) ParseFile(path string) (*ParseResult, error) {
	content, err := LoadDocument(path)
	if err != nil {
		return nil, apperrors.NewValidationError("无法读取输入文件", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewValidationError("输入文件没有可提取的文本", nil)
	}

	p.logger.Info("📖 文档读取完成", map[string]interface{}{
		"path":  path,
		"chars": utf8.RuneCountInString(content),
	})
	return p.ParseText(content), nil
}

// ParseText 解析已提取的文本
func (p *Parser) ParseText(content string) *ParseResult {
	segmented := p.segmenter.Segment(content)
	result := &ParseResult{
		Records:  []models.TranscriptRecord{},
		Pattern:  segmented.Pattern,
		Sections: len(segmented.Sections),
	}

	if segmented.Pattern == "" {
		p.logger.Warn("⚠️ 未找到分隔符，整篇文档作为单个分段", nil)
	} else {
		p.logger.Info("✅ 文档分段完成", map[string]interface{}{
			"pattern":  segmented.Pattern,
			"sections": result.Sections,
		})
	}

	for i, section := range segmented.Sections {
		if utf8.RuneCountInString(strings.TrimSpace(section)) < MinSectionLength {
			result.Skipped++
			continue
		}

		record, err := p.extractSafely(section, i+1)
		if err != nil {
			result.Failed++
			p.logger.Warn("⚠️ 分段提取失败，已跳过", map[string]interface{}{
				"section": i + 1,
				"error":   err.Error(),
			})
			continue
		}

		result.Records = append(result.Records, record)
		p.metrics.RecordExtraction()
	}

	p.metrics.RecordSegmentation(len(result.Records), result.Skipped+result.Failed)
	p.logger.Info("🎉 解析完成", map[string]interface{}{
		"records": len(result.Records),
		"skipped": result.Skipped,
		"failed":  result.Failed,
	})
	return result
}

// extractSafely 单个分段出错不影响整批
func (p *Parser) extractSafely(section string, sequence int) (record models.TranscriptRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewExtractionError(fmt.Sprintf("section %d", sequence), fmt.Errorf("%v", r))
		}
	}()
	return p.extractor.Extract(section, sequence), nil
}

// Summary 统计渠道、类别、严重程度分布
func Summary(records []models.TranscriptRecord) map[string]map[string]int {
	summary := map[string]map[string]int{
		"channels":   {},
		"categories": {},
		"severities": {},
	}
	for _, r := range records {
		summary["channels"][string(r.Channel)]++
		if r.Category != "" {
			summary["categories"][r.Category]++
		}
		if r.Severity != "" {
			summary["severities"][r.Severity]++
		}
	}
	return summary
}
