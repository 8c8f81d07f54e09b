// internal/api/error_codes.go
package api

import (
	"errors"
	"net/http"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/services"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorTimeout       = "TIMEOUT"

	// 流水线相关错误
	ErrorProcessingFailed = "PROCESSING_FAILED"
	ErrorExtractionFailed = "EXTRACTION_FAILED"
	ErrorMaskingFailed    = "MASKING_FAILED"
	ErrorNoTranscripts    = "NO_TRANSCRIPTS"

	// 测试用例与问答
	ErrorTestCaseNotFound = "TEST_CASE_NOT_FOUND"
	ErrorGenerationFailed = "GENERATION_FAILED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMRequestFailed      = "LLM_REQUEST_FAILED"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// 文件相关错误
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"
	ErrorFileInvalid      = "FILE_INVALID"
	ErrorFileTooLarge     = "FILE_TOO_LARGE"
	ErrorFileNotFound     = "FILE_NOT_FOUND"

	// 任务进度
	ErrorTaskNotFound = "TASK_NOT_FOUND"
)

// statusForError 把 AppError 类型映射为 HTTP 状态码和错误代码
func statusForError(err error) (int, string) {
	if errors.Is(err, services.ErrLLMNotReady) {
		return http.StatusServiceUnavailable, ErrorLLMServiceUnavailable
	}

	errType, ok := apperrors.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError, ErrorInternalError
	}

	switch errType {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeLLM:
		return http.StatusBadGateway, ErrorLLMRequestFailed
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorTimeout
	case apperrors.ErrorTypeExtraction:
		return http.StatusUnprocessableEntity, ErrorExtractionFailed
	case apperrors.ErrorTypeMasking:
		return http.StatusInternalServerError, ErrorMaskingFailed
	case apperrors.ErrorTypeProcessing:
		return http.StatusInternalServerError, ErrorProcessingFailed
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
