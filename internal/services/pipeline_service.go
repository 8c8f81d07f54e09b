// internal/services/pipeline_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Corphon/TranscriptQA/internal/cleaner"
	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/parser"
	"github.com/Corphon/TranscriptQA/internal/pii"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// 支持的输入文件类型
var supportedInputs = map[string]bool{".pdf": true, ".txt": true, ".json": true}

// IsSupportedInput 检查文件扩展名是否可作为流水线输入
func IsSupportedInput(filename string) bool {
	return supportedInputs[strings.ToLower(filepath.Ext(filename))]
}

// StageOutput 一个阶段的产物
type StageOutput struct {
	Stage    models.Stage            `json:"stage"`
	Filename string                  `json:"filename"`
	Batch    *models.TranscriptBatch `json:"-"`
}

// PipelineResult 一次完整的 parse -> clean -> mask 运行结果
type PipelineResult struct {
	RequestID  string                    `json:"request_id"`
	SourceFile string                    `json:"source_file"`
	Pattern    string                    `json:"pattern,omitempty"`
	Stages     []StageOutput             `json:"stages"`
	Summary    map[string]map[string]int `json:"summary"`
	PIIRemoved models.PIITally           `json:"pii_removed"`
	Skipped    int                       `json:"skipped_sections"`
	Failed     int                       `json:"failed_records"`
	Residues   []pii.Residue             `json:"residues,omitempty"`
	Duration   time.Duration             `json:"duration"`
}

// Masked 最终的脱敏批次
func (r *PipelineResult) Masked() *models.TranscriptBatch {
	for _, stage := range r.Stages {
		if stage.Stage == models.StageMasked {
			return stage.Batch
		}
	}
	return nil
}

// PipelineService 转录处理流水线：解析、规范化、脱敏，每个阶段单独落盘
type PipelineService struct {
	parser     *parser.Parser
	normalizer *cleaner.Normalizer
	masker     *pii.Masker
	store      *storage.ArtifactStore
	logger     *utils.Logger
	now        func() time.Time
}

// NewPipelineService 创建流水线服务
func NewPipelineService(p *parser.Parser, normalizer *cleaner.Normalizer, masker *pii.Masker, store *storage.ArtifactStore, logger *utils.Logger) *PipelineService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &PipelineService{
		parser:     p,
		normalizer: normalizer,
		masker:     masker,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Store 产物存储
func (s *PipelineService) Store() *storage.ArtifactStore {
	return s.store
}

// Parse 读取文档（PDF/TXT）或已解析的 JSON 批次并保存为 parsed 阶段
func (s *PipelineService) Parse(ctx context.Context, path, requestID string) (*StageOutput, *parser.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if !IsSupportedInput(path) {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("不支持的文件类型: %s", filepath.Ext(path)), nil)
	}

	var result *parser.ParseResult
	if strings.EqualFold(filepath.Ext(path), ".json") {
		input, err := loadBatch(path)
		if err != nil {
			return nil, nil, err
		}
		result = &parser.ParseResult{Records: input.Transcripts, Sections: len(input.Transcripts)}
		s.logger.Info("📖 已加载 JSON 批次", map[string]interface{}{"path": path, "transcripts": len(input.Transcripts)})
	} else {
		parsed, err := s.parser.ParseFile(path)
		if err != nil {
			return nil, nil, err
		}
		result = parsed
	}

	batch := models.NewTranscriptBatch(models.StageParsed, result.Records, s.now())
	batch.Metadata.SourceFile = filepath.Base(path)
	batch.Metadata.FailedRecords = result.Failed

	filename, err := s.store.SaveBatch(models.StageParsed, requestID, batch)
	if err != nil {
		return nil, nil, err
	}
	s.logSummary("📊 解析汇总", batch.Transcripts)
	return &StageOutput{Stage: models.StageParsed, Filename: filename, Batch: batch}, result, nil
}

// Clean 规范化一个批次并保存为 cleaned 阶段
func (s *PipelineService) Clean(ctx context.Context, input *models.TranscriptBatch, requestID string) (*StageOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := s.normalizer.ApplyAll(input.Transcripts)
	batch := models.NewTranscriptBatch(models.StageCleaned, records, s.now())
	batch.Metadata.SourceFile = input.Metadata.SourceFile

	filename, err := s.store.SaveBatch(models.StageCleaned, requestID, batch)
	if err != nil {
		return nil, err
	}
	s.logSummary("🧹 清洗汇总", batch.Transcripts)
	return &StageOutput{Stage: models.StageCleaned, Filename: filename, Batch: batch}, nil
}

// Mask 脱敏一个批次并保存为 masked 阶段；失败的记录被排除并计数
func (s *PipelineService) Mask(ctx context.Context, input *models.TranscriptBatch, requestID string) (*StageOutput, *pii.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	result := s.masker.MaskBatch(input.Transcripts)
	batch := models.NewTranscriptBatch(models.StageMasked, result.Records, s.now())
	batch.Metadata.SourceFile = input.Metadata.SourceFile
	batch.Metadata.PIIRemoved = result.Tally
	batch.Metadata.FailedRecords = result.Failed

	filename, err := s.store.SaveBatch(models.StageMasked, requestID, batch)
	if err != nil {
		return nil, nil, err
	}
	return &StageOutput{Stage: models.StageMasked, Filename: filename, Batch: batch}, result, nil
}

// Run 执行完整流水线；tracker 可以为 nil
func (s *PipelineService) Run(ctx context.Context, path, requestID string, tracker *ProgressTracker) (*PipelineResult, error) {
	start := s.now()
	if requestID == "" {
		requestID = storage.NewRequestID()
	}

	step := func(stage models.Stage, progress int, message string) {
		if tracker != nil {
			tracker.UpdateStage(string(stage), progress, message)
		}
	}

	s.logger.Info("🚀 流水线启动", map[string]interface{}{"request_id": requestID, "source": path})

	step(models.StageParsed, 10, "🔍 解析转录文档...")
	parsed, parseResult, err := s.Parse(ctx, path, requestID)
	if err != nil {
		return nil, s.fail(tracker, "解析失败", err)
	}

	step(models.StageCleaned, 40, "🧹 规范化字段...")
	cleaned, err := s.Clean(ctx, parsed.Batch, requestID)
	if err != nil {
		s.discard(requestID, parsed)
		return nil, s.fail(tracker, "清洗失败", err)
	}

	step(models.StageMasked, 70, "🔒 脱敏 PII...")
	masked, maskResult, err := s.Mask(ctx, cleaned.Batch, requestID)
	if err != nil {
		s.discard(requestID, parsed, cleaned)
		return nil, s.fail(tracker, "脱敏失败", err)
	}

	result := &PipelineResult{
		RequestID:  requestID,
		SourceFile: parsed.Batch.Metadata.SourceFile,
		Pattern:    parseResult.Pattern,
		Stages:     []StageOutput{*parsed, *cleaned, *masked},
		Summary:    parser.Summary(masked.Batch.Transcripts),
		PIIRemoved: maskResult.Tally,
		Skipped:    parseResult.Skipped,
		Failed:     parseResult.Failed + maskResult.Failed,
		Residues:   pii.Verify(masked.Batch.Transcripts),
		Duration:   s.now().Sub(start),
	}

	if len(result.Residues) > 0 {
		s.logger.Warn("⚠️ 脱敏后仍检测到疑似 PII", map[string]interface{}{"count": len(result.Residues)})
	}
	s.logger.Info("✅ 流水线完成", map[string]interface{}{
		"request_id":  requestID,
		"transcripts": len(masked.Batch.Transcripts),
		"pii_removed": result.PIIRemoved.Total(),
	})

	if tracker != nil {
		tracker.Complete(fmt.Sprintf("处理完成：%d 条记录，请求 ID %s", len(masked.Batch.Transcripts), requestID))
	}
	return result, nil
}

// discard 删除本次运行已写入的未脱敏阶段文件
func (s *PipelineService) discard(requestID string, outputs ...*StageOutput) {
	for _, out := range outputs {
		if err := s.store.DeleteBatch(out.Stage, requestID); err != nil {
			s.logger.Warn("⚠️ 删除未脱敏批次失败", map[string]interface{}{"file": out.Filename, "error": err.Error()})
			continue
		}
		s.logger.Info("🗑️ 已删除未脱敏批次", map[string]interface{}{"file": out.Filename})
	}
}

func (s *PipelineService) fail(tracker *ProgressTracker, message string, err error) error {
	s.logger.Error("❌ "+message, map[string]interface{}{"error": err.Error()})
	if tracker != nil {
		tracker.Fail(err.Error())
	}
	return apperrors.WrapError(err, message, apperrors.ErrorTypeProcessing)
}

func (s *PipelineService) logSummary(title string, records []models.TranscriptRecord) {
	summary := parser.Summary(records)
	s.logger.Info(title, map[string]interface{}{
		"transcripts": len(records),
		"channels":    summary["channels"],
		"categories":  summary["categories"],
		"severities":  summary["severities"],
	})
}

// loadBatch 读取 JSON 输入：批次对象保留元数据，记录数组视为 parsed 批次
func loadBatch(path string) (*models.TranscriptBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewValidationError("无法读取输入文件", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var records []models.TranscriptRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, apperrors.NewValidationError("无效的 JSON 记录数组", err)
		}
		return models.NewTranscriptBatch(models.StageParsed, records, time.Now()), nil
	}

	var batch models.TranscriptBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, apperrors.NewValidationError("无效的 JSON 批次", err)
	}
	if batch.Transcripts == nil {
		return nil, apperrors.NewValidationError("JSON 批次缺少 transcripts", nil)
	}
	return &batch, nil
}

// LoadBatchFile 读取任意位置的批次文件（CLI 单阶段命令使用），Stage() 反映文件里的阶段时间戳
func LoadBatchFile(path string) (*models.TranscriptBatch, error) {
	batch, err := loadBatch(path)
	if err != nil {
		return nil, err
	}
	if batch.Metadata.SourceFile == "" {
		batch.Metadata.SourceFile = filepath.Base(path)
	}
	return batch, nil
}
