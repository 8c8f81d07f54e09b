// internal/services/dashboard_service.go
package services

import (
	"sort"
	"strings"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// FilterAll 不过滤
const FilterAll = "all"

// SupportedBrands 品牌下拉选项
var SupportedBrands = []string{"Total Wireless", "TracFone", "Straight Talk", "Simple Mobile"}

// TranscriptFilters 转录筛选条件；空值或 "all" 表示不限
type TranscriptFilters struct {
	Channel  string `json:"channel" form:"channel"`
	Category string `json:"category" form:"category"`
	Severity string `json:"severity" form:"severity"`
	Brand    string `json:"brand" form:"brand"`
}

func active(value string) bool {
	value = strings.TrimSpace(value)
	return value != "" && !strings.EqualFold(value, FilterAll)
}

// Matches 记录是否满足所有筛选条件；记录本身没有品牌字段，品牌按对话文本中是否提到来判断
func (f TranscriptFilters) Matches(rec models.TranscriptRecord) bool {
	if active(f.Channel) && string(rec.Channel) != f.Channel {
		return false
	}
	if active(f.Category) && rec.Category != f.Category {
		return false
	}
	if active(f.Severity) && rec.Severity != f.Severity {
		return false
	}
	if active(f.Brand) && !strings.Contains(strings.ToLower(rec.Transcript), strings.ToLower(strings.TrimSpace(f.Brand))) {
		return false
	}
	return true
}

// Apply 返回满足条件的记录，保持原有顺序
func (f TranscriptFilters) Apply(records []models.TranscriptRecord) []models.TranscriptRecord {
	filtered := make([]models.TranscriptRecord, 0, len(records))
	for _, rec := range records {
		if f.Matches(rec) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// DashboardStats 仪表盘统计
type DashboardStats struct {
	TotalTranscripts int            `json:"total_transcripts"`
	Channels         map[string]int `json:"channels"`
	Severities       map[string]int `json:"severities"`
}

// DashboardData 仪表盘数据
type DashboardData struct {
	Stats       DashboardStats            `json:"stats"`
	Channels    []string                  `json:"channels"`
	Categories  []string                  `json:"categories"`
	Brands      []string                  `json:"brands"`
	SourceFile  string                    `json:"source_file,omitempty"`
	HasData     bool                      `json:"has_data"`
	Transcripts []models.TranscriptRecord `json:"-"`
}

// CalculateStats 总数、渠道分布、严重程度分布（High/Medium/Low 预置为 0）
func CalculateStats(records []models.TranscriptRecord) DashboardStats {
	stats := DashboardStats{
		TotalTranscripts: len(records),
		Channels:         map[string]int{},
		Severities:       map[string]int{"High": 0, "Medium": 0, "Low": 0},
	}
	for _, rec := range records {
		stats.Channels[orDefault(string(rec.Channel), string(models.ChannelUnknown))]++
		stats.Severities[orDefault(rec.Severity, "Medium")]++
	}
	return stats
}

// DefaultDashboardData 还没有处理过任何数据时的默认值
func DefaultDashboardData() *DashboardData {
	return &DashboardData{
		Stats: DashboardStats{
			Channels:   map[string]int{},
			Severities: map[string]int{},
		},
		Channels:    []string{"Web Portal", "Mobile App", "TASORA"},
		Categories:  []string{"Device Activation", "Plan Management", "Billing"},
		Brands:      SupportedBrands,
		Transcripts: []models.TranscriptRecord{},
	}
}

// DashboardService 读取最新批次生成仪表盘数据
type DashboardService struct {
	store  *storage.ArtifactStore
	logger *utils.Logger
}

// NewDashboardService 创建仪表盘服务
func NewDashboardService(store *storage.ArtifactStore, logger *utils.Logger) *DashboardService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &DashboardService{store: store, logger: logger}
}

// Load 最新批次（masked、cleaned、parsed 依次优先）的统计；没有数据或读取失败时返回默认值
func (d *DashboardService) Load() *DashboardData {
	batch, filename, err := d.store.LatestBatch()
	if err != nil {
		if !apperrors.IsNotFoundError(err) {
			d.logger.Error("❌ 读取仪表盘数据失败", map[string]interface{}{"error": err.Error()})
		}
		return DefaultDashboardData()
	}
	if len(batch.Transcripts) == 0 {
		return DefaultDashboardData()
	}

	return &DashboardData{
		Stats:       CalculateStats(batch.Transcripts),
		Channels:    distinctValues(batch.Transcripts, func(r models.TranscriptRecord) string { return orDefault(string(r.Channel), "Unknown") }),
		Categories:  distinctValues(batch.Transcripts, func(r models.TranscriptRecord) string { return orDefault(r.Category, "Unknown") }),
		Brands:      SupportedBrands,
		SourceFile:  filename,
		HasData:     true,
		Transcripts: batch.Transcripts,
	}
}

// Transcripts 最新批次中满足条件的记录
func (d *DashboardService) Transcripts(filters TranscriptFilters) ([]models.TranscriptRecord, string, error) {
	batch, filename, err := d.store.LatestBatch()
	if err != nil {
		return nil, "", err
	}
	return filters.Apply(batch.Transcripts), filename, nil
}

// MaskedTranscripts 最新脱敏批次中满足条件的记录，供测试用例生成使用；
// 只有 parsed/cleaned 批次时返回 not found
func (d *DashboardService) MaskedTranscripts(filters TranscriptFilters) ([]models.TranscriptRecord, string, error) {
	batch, filename, err := d.store.LatestMaskedBatch()
	if err != nil {
		return nil, "", err
	}
	return filters.Apply(batch.Transcripts), filename, nil
}

func distinctValues(records []models.TranscriptRecord, field func(models.TranscriptRecord) string) []string {
	seen := map[string]bool{}
	values := []string{}
	for _, rec := range records {
		v := field(rec)
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values
}
