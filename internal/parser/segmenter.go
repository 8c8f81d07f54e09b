// internal/parser/segmenter.go
package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinSegmentLength 分隔后保留片段的最小长度（严格大于）
	MinSegmentLength = 300
	// MinSectionLength 进入字段提取的最小长度
	MinSectionLength = 100
)

// Separator 候选分隔符
type Separator struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultSeparators 按声明顺序求值，平局时先声明者胜出
var DefaultSeparators = []Separator{
	{Name: "call_marker", Pattern: regexp.MustCompile(`(?i)call\s+tw_\w+_\d+`)},
	{Name: "id_marker", Pattern: regexp.MustCompile(`(?i)tw_\w+_\d+`)},
	{Name: "section_marker", Pattern: regexp.MustCompile(`(?i)section\s+\d+`)},
	{Name: "equals_rule", Pattern: regexp.MustCompile(`={3,}`)},
	{Name: "dash_rule", Pattern: regexp.MustCompile(`-{10,}`)},
	{Name: "transcript_marker", Pattern: regexp.MustCompile(`(?i)transcript\s+\d+`)},
	{Name: "channel_header", Pattern: regexp.MustCompile(`(?i)\d+\.\s+\w+\s+channel`)},
}

// SegmentResult 分段结果
type SegmentResult struct {
	Sections []string
	// Pattern 胜出的分隔符名称，整篇作为单段时为空
	Pattern string
}

// Segmenter 文档分段器
type Segmenter struct {
	separators []Separator
	minLength  int
}

// NewSegmenter 使用默认分隔符创建分段器
func NewSegmenter() *Segmenter {
	return &Segmenter{separators: DefaultSeparators, minLength: MinSegmentLength}
}

// Segment 把整篇文档切成按通话划分的片段
func (s *Segmenter) Segment(document string) SegmentResult {
	var best SegmentResult

	for _, sep := range s.separators {
		pieces := s.split(sep.Pattern, document)
		if len(pieces) > len(best.Sections) {
			best = SegmentResult{Sections: pieces, Pattern: sep.Name}
		}
	}

	if len(best.Sections) == 0 {
		return SegmentResult{Sections: []string{document}}
	}
	return best
}

func (s *Segmenter) split(re *regexp.Regexp, document string) []string {
	var valid []string
	for _, piece := range re.Split(document, -1) {
		piece = strings.TrimSpace(piece)
		if utf8.RuneCountInString(piece) > s.minLength {
			valid = append(valid, piece)
		}
	}
	return valid
}

// Segment 使用默认分段器
func Segment(document string) []string {
	return NewSegmenter().Segment(document).Sections
}
