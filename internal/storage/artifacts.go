// internal/storage/artifacts.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

const testCasesPrefix = "test_cases_"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// NewRequestID 按时间排序的请求 ID，同时保证唯一
func NewRequestID() string {
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405.000"), uuid.NewString()[:8])
}

// ValidateRequestID 拒绝可能逃出存储目录的 ID
func ValidateRequestID(requestID string) error {
	if !requestIDPattern.MatchString(requestID) || strings.Contains(requestID, "..") {
		return apperrors.NewValidationError(fmt.Sprintf("无效的请求ID: %q", requestID), nil)
	}
	return nil
}

// BatchFilename 阶段批次文件名，如 masked_<id>.json
func BatchFilename(stage models.Stage, requestID string) string {
	return fmt.Sprintf("%s_%s.json", stage, requestID)
}

// TestCasesFilename 测试用例文件名
func TestCasesFilename(requestID string) string {
	return testCasesPrefix + requestID + ".json"
}

// ArtifactStore 流水线产物存储：批次只写一次，测试用例文件可更新问答数据
type ArtifactStore struct {
	files  *FileStorage
	logger *utils.Logger
}

// NewArtifactStore 在 dataDir 下创建产物存储
func NewArtifactStore(dataDir string, logger *utils.Logger) (*ArtifactStore, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	files, err := NewFileStorage(dataDir, logger)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{files: files, logger: logger}, nil
}

// Files 底层文件存储
func (s *ArtifactStore) Files() *FileStorage {
	return s.files
}

// SaveBatch 写入一个新批次，同名批次已存在时报错
func (s *ArtifactStore) SaveBatch(stage models.Stage, requestID string, batch *models.TranscriptBatch) (string, error) {
	if err := ValidateRequestID(requestID); err != nil {
		return "", err
	}

	filename := BatchFilename(stage, requestID)
	if err := s.files.CreateJSON(filename, batch); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", apperrors.NewValidationError(fmt.Sprintf("批次已存在: %s", filename), err)
		}
		return "", apperrors.NewProcessingError("保存批次失败", err)
	}

	s.logger.Info("💾 批次已保存", map[string]interface{}{
		"file":        filename,
		"transcripts": len(batch.Transcripts),
	})
	return filename, nil
}

// LoadBatch 按文件名读取批次
func (s *ArtifactStore) LoadBatch(filename string) (*models.TranscriptBatch, error) {
	if !s.files.FileExists(filename) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("批次不存在: %s", filename), nil)
	}

	var batch models.TranscriptBatch
	if err := s.files.LoadJSON(filename, &batch); err != nil {
		return nil, apperrors.NewProcessingError("读取批次失败", err)
	}
	if batch.Transcripts == nil {
		batch.Transcripts = []models.TranscriptRecord{}
	}
	return &batch, nil
}

// LatestBatch 依次查找最新的 masked、cleaned、parsed 批次
func (s *ArtifactStore) LatestBatch() (*models.TranscriptBatch, string, error) {
	return s.latestBatchOf(models.StageMasked, models.StageCleaned, models.StageParsed)
}

// LatestMaskedBatch 最新的脱敏批次；只有这类批次可以发给外部 LLM
func (s *ArtifactStore) LatestMaskedBatch() (*models.TranscriptBatch, string, error) {
	return s.latestBatchOf(models.StageMasked)
}

func (s *ArtifactStore) latestBatchOf(stages ...models.Stage) (*models.TranscriptBatch, string, error) {
	for _, stage := range stages {
		filename, ok, err := s.latest(string(stage) + "_")
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}

		batch, err := s.LoadBatch(filename)
		if err != nil {
			return nil, "", err
		}
		return batch, filename, nil
	}
	return nil, "", apperrors.NewNotFoundError("还没有处理过的批次", nil)
}

// DeleteBatch 删除某个阶段的批次文件
func (s *ArtifactStore) DeleteBatch(stage models.Stage, requestID string) error {
	if err := ValidateRequestID(requestID); err != nil {
		return err
	}
	return s.files.DeleteFile(BatchFilename(stage, requestID))
}

// FindMaskedRecord 在脱敏批次中（最新优先）查找 call_id 对应的记录；只返回已脱敏的数据
func (s *ArtifactStore) FindMaskedRecord(callID string) (*models.TranscriptRecord, bool, error) {
	if callID == "" {
		return nil, false, nil
	}
	names, err := s.files.ListFiles(string(models.StageMasked)+"_", ".json")
	if err != nil {
		return nil, false, apperrors.NewProcessingError("列出批次失败", err)
	}
	for i := len(names) - 1; i >= 0; i-- {
		batch, err := s.LoadBatch(names[i])
		if err != nil {
			s.logger.Warn("⚠️ 跳过无法读取的批次", map[string]interface{}{"file": names[i], "error": err.Error()})
			continue
		}
		for j := range batch.Transcripts {
			if batch.Transcripts[j].CallID == callID {
				rec := batch.Transcripts[j]
				return &rec, true, nil
			}
		}
	}
	return nil, false, nil
}

// SaveTestCases 写入或更新测试用例文件
func (s *ArtifactStore) SaveTestCases(requestID string, file *models.TestCaseFile) (string, error) {
	if err := ValidateRequestID(requestID); err != nil {
		return "", err
	}

	filename := TestCasesFilename(requestID)
	if err := s.files.SaveJSON(filename, file); err != nil {
		return "", apperrors.NewProcessingError("保存测试用例失败", err)
	}
	return filename, nil
}

// LoadTestCases 按请求 ID 读取测试用例文件
func (s *ArtifactStore) LoadTestCases(requestID string) (*models.TestCaseFile, error) {
	if err := ValidateRequestID(requestID); err != nil {
		return nil, err
	}

	filename := TestCasesFilename(requestID)
	if !s.files.FileExists(filename) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("测试用例文件不存在: %s", requestID), nil)
	}

	var file models.TestCaseFile
	if err := s.files.LoadJSON(filename, &file); err != nil {
		return nil, apperrors.NewProcessingError("读取测试用例失败", err)
	}
	return &file, nil
}

// LatestTestCases 最新的测试用例文件及其请求 ID
func (s *ArtifactStore) LatestTestCases() (*models.TestCaseFile, string, error) {
	filename, ok, err := s.latest(testCasesPrefix)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", apperrors.NewNotFoundError("还没有生成测试用例", nil)
	}

	requestID := strings.TrimSuffix(strings.TrimPrefix(filename, testCasesPrefix), ".json")
	file, err := s.LoadTestCases(requestID)
	if err != nil {
		return nil, "", err
	}
	return file, requestID, nil
}

// TestCaseRequestIDs 所有测试用例文件的请求 ID，最新的在前
func (s *ArtifactStore) TestCaseRequestIDs() ([]string, error) {
	names, err := s.files.ListFiles(testCasesPrefix, ".json")
	if err != nil {
		return nil, apperrors.NewProcessingError("列出测试用例失败", err)
	}
	ids := make([]string, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(names[i], testCasesPrefix), ".json"))
	}
	return ids, nil
}

// TestCasesPath 下载用的绝对路径
func (s *ArtifactStore) TestCasesPath(requestID string) (string, error) {
	if err := ValidateRequestID(requestID); err != nil {
		return "", err
	}
	filename := TestCasesFilename(requestID)
	if !s.files.FileExists(filename) {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("测试用例文件不存在: %s", requestID), nil)
	}
	return s.files.Path(filename), nil
}

// latest 名称最大的匹配文件；请求 ID 以时间戳开头，所以名称序即时间序
func (s *ArtifactStore) latest(prefix string) (string, bool, error) {
	names, err := s.files.ListFiles(prefix, ".json")
	if err != nil {
		return "", false, apperrors.NewProcessingError("列出产物失败", err)
	}
	if len(names) == 0 {
		return "", false, nil
	}
	return names[len(names)-1], true, nil
}
