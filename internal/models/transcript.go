// internal/models/transcript.go
package models

import (
	"sort"
	"time"
)

// Channel 客户接触渠道
type Channel string

const (
	ChannelTASORA    Channel = "TASORA"
	ChannelWebPortal Channel = "Web Portal"
	ChannelMobileApp Channel = "Mobile App"
	ChannelTarget    Channel = "Target"
	ChannelSMSBotIVR Channel = "SMS/Bot/IVR"
	ChannelUnknown   Channel = "Unknown"
)

// Channels 固定枚举，顺序即推断优先级
var Channels = []Channel{
	ChannelTASORA,
	ChannelWebPortal,
	ChannelMobileApp,
	ChannelTarget,
	ChannelSMSBotIVR,
	ChannelUnknown,
}

// Stage 流水线阶段，决定批次元数据里的时间戳字段名
type Stage string

const (
	StageParsed  Stage = "parsed"
	StageCleaned Stage = "cleaned"
	StageMasked  Stage = "masked"
)

// TranscriptRecord 一通客服通话的结构化记录
type TranscriptRecord struct {
	CallID        string  `json:"call_id"`
	Channel       Channel `json:"channel"`
	Date          string  `json:"date"`
	Category      string  `json:"category"`
	Severity      string  `json:"severity"`
	JourneyType   string  `json:"journey_type"`
	Transcript    string  `json:"transcript"`
	Resolution    string  `json:"resolution"`
	Impact        string  `json:"impact"`
	RootCause     string  `json:"root_cause"`
	RawTextLength int     `json:"raw_text_length"`
}

// PIITally PII 类别 -> 命中次数
type PIITally map[string]int

// Add 合并另一个计数表
func (t PIITally) Add(other PIITally) {
	for category, count := range other {
		t[category] += count
	}
}

// Total 所有类别的命中总数
func (t PIITally) Total() int {
	total := 0
	for _, count := range t {
		total += count
	}
	return total
}

// BatchMetadata 批次级元数据
type BatchMetadata struct {
	TotalTranscripts int        `json:"total_transcripts"`
	Channels         []string   `json:"channels"`
	Categories       []string   `json:"categories"`
	ParsedAt         *time.Time `json:"parsed_at,omitempty"`
	CleanedAt        *time.Time `json:"cleaned_at,omitempty"`
	MaskedAt         *time.Time `json:"masked_at,omitempty"`
	PIIRemoved       PIITally   `json:"pii_removed,omitempty"`
	FailedRecords    int        `json:"failed_records,omitempty"`
	SourceFile       string     `json:"source_file,omitempty"`
}

// TranscriptBatch 一次流水线运行产出的不可变记录集合
type TranscriptBatch struct {
	Metadata    BatchMetadata      `json:"metadata"`
	Transcripts []TranscriptRecord `json:"transcripts"`
}

// NewTranscriptBatch 根据记录构建批次并计算元数据
func NewTranscriptBatch(stage Stage, records []TranscriptRecord, at time.Time) *TranscriptBatch {
	if records == nil {
		records = []TranscriptRecord{}
	}

	meta := BatchMetadata{
		TotalTranscripts: len(records),
		Channels:         distinct(records, func(r TranscriptRecord) string { return string(r.Channel) }),
		Categories:       distinct(records, func(r TranscriptRecord) string { return r.Category }),
	}

	stamp := at
	switch stage {
	case StageParsed:
		meta.ParsedAt = &stamp
	case StageCleaned:
		meta.CleanedAt = &stamp
	case StageMasked:
		meta.MaskedAt = &stamp
	}

	return &TranscriptBatch{Metadata: meta, Transcripts: records}
}

// Stage 根据已设置的时间戳推断批次所处阶段
func (b *TranscriptBatch) Stage() Stage {
	switch {
	case b.Metadata.MaskedAt != nil:
		return StageMasked
	case b.Metadata.CleanedAt != nil:
		return StageCleaned
	default:
		return StageParsed
	}
}

// distinct 返回非空取值的有序去重集合
func distinct(records []TranscriptRecord, field func(TranscriptRecord) string) []string {
	seen := make(map[string]struct{})
	values := []string{}
	for _, r := range records {
		v := field(r)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}
