// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/services"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// 请求级超时
const (
	uploadTimeout      = 5 * time.Minute
	generationTimeout  = 15 * time.Minute
	questionTimeout    = 2 * time.Minute
	suggestionsTimeout = time.Minute
	statusCheckTimeout = 15 * time.Second
	sseHeartbeat       = 15 * time.Second
)

// Dependencies 处理器依赖的服务，由 app 包组装
type Dependencies struct {
	Pipeline     *services.PipelineService
	Generator    *services.GeneratorService
	Conversation *services.ConversationService
	Dashboard    *services.DashboardService
	Progress     *services.ProgressService
	LLM          *services.LLMService
	Store        *storage.ArtifactStore
	Metrics      *utils.PipelineMetrics
	Logger       *utils.Logger

	UploadDir      string
	MaxUploadBytes int64
}

// Handler 处理API请求
type Handler struct {
	Pipeline     *services.PipelineService
	Generator    *services.GeneratorService
	Conversation *services.ConversationService
	Dashboard    *services.DashboardService
	Progress     *services.ProgressService
	LLM          *services.LLMService
	Store        *storage.ArtifactStore
	Metrics      *utils.PipelineMetrics
	WebSocket    *WebSocketManager // /ws/runs 连接管理
	Response     *ResponseHelper   // 响应助手

	uploadDir      string
	maxUploadBytes int64
	logger         *utils.Logger
}

// NewHandler 创建处理器，并把任务进度接到 WebSocket 广播上
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}

	h := &Handler{
		Pipeline:       deps.Pipeline,
		Generator:      deps.Generator,
		Conversation:   deps.Conversation,
		Dashboard:      deps.Dashboard,
		Progress:       deps.Progress,
		LLM:            deps.LLM,
		Store:          deps.Store,
		Metrics:        deps.Metrics,
		WebSocket:      NewWebSocketManager(logger),
		Response:       NewResponseHelper(),
		uploadDir:      deps.UploadDir,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         logger,
	}
	h.Progress.SetListener(h.WebSocket.PublishProgress)
	return h
}

// GetDashboard 仪表盘统计与下拉选项
func (h *Handler) GetDashboard(c *gin.Context) {
	data := h.Dashboard.Load()
	message := "已加载最新的处理结果"
	if !data.HasData {
		message = "还没有处理过的转录，请先上传文件"
	}
	h.Response.Success(c, data, message)
}

// GetStats 最新批次的简要统计
func (h *Handler) GetStats(c *gin.Context) {
	data := h.Dashboard.Load()
	categories := map[string]int{}
	for _, record := range data.Transcripts {
		categories[record.Category]++
	}

	h.Response.Success(c, gin.H{
		"total_transcripts": data.Stats.TotalTranscripts,
		"channels":          data.Stats.Channels,
		"categories":        categories,
		"recent_uploads":    []string{},
	})
}

// ListTranscripts 最新批次中按条件过滤的转录
func (h *Handler) ListTranscripts(c *gin.Context) {
	var filters services.TranscriptFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		h.Response.BadRequest(c, "无效的过滤条件", err.Error())
		return
	}

	records, sourceFile, err := h.Dashboard.Transcripts(filters)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorNoTranscripts, "No transcripts available. Please upload some transcript files first.")
			return
		}
		h.Response.FromError(c, err, "读取转录失败")
		return
	}

	h.Response.Success(c, gin.H{
		"transcripts": records,
		"count":       len(records),
		"source_file": sourceFile,
		"filters":     filters,
	})
}

// UploadFile 保存上传的转录文件并运行 parse → clean → mask 流水线
func (h *Handler) UploadFile(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge,
				fmt.Sprintf("文件超过上传上限 %d MB", h.maxUploadBytes>>20))
			return
		}
		h.Response.BadRequest(c, "No file selected")
		return
	}
	if !services.IsSupportedInput(file.Filename) {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "Invalid file type. Please upload PDF, TXT, or JSON files.")
		return
	}

	requestID := storage.NewRequestID()
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorFileUploadFailed, "创建上传目录失败", err.Error())
		return
	}
	uploadPath := filepath.Join(h.uploadDir, requestID+"_"+secureFilename(file.Filename))
	if err := c.SaveUploadedFile(file, uploadPath); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorFileUploadFailed, "保存文件失败", err.Error())
		return
	}

	h.logger.Info("📤 收到上传文件", map[string]interface{}{
		"file":       file.Filename,
		"size":       file.Size,
		"request_id": requestID,
	})

	tracker := h.Progress.CreateTracker(requestID, "pipeline")
	ctx, cancel := context.WithTimeout(c.Request.Context(), uploadTimeout)
	defer cancel()

	result, err := h.Pipeline.Run(ctx, uploadPath, requestID, tracker)
	if err != nil {
		h.Response.FromError(c, err, "Failed to process the uploaded file.")
		return
	}

	h.Response.Success(c, gin.H{
		"request_id": requestID,
		"task_id":    requestID,
		"result":     result,
	}, fmt.Sprintf("File processed successfully. Request ID: %s", requestID))
}

// GenerateTestCases 为满足过滤条件的转录生成测试用例
func (h *Handler) GenerateTestCases(c *gin.Context) {
	var filters services.TranscriptFilters
	if err := c.ShouldBindJSON(&filters); err != nil && !errors.Is(err, io.EOF) {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	records, sourceFile, err := h.Dashboard.MaskedTranscripts(filters)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorNoTranscripts, "No masked transcripts available. Please upload some transcript files first.")
			return
		}
		h.Response.FromError(c, err, "读取转录失败")
		return
	}
	if len(records) == 0 {
		h.Response.NotFound(c, ErrorNoTranscripts, "No transcripts match your filters. Try different filter criteria.")
		return
	}

	requestID := storage.NewRequestID()
	tracker := h.Progress.CreateTracker(requestID, "generation")
	ctx, cancel := context.WithTimeout(c.Request.Context(), generationTimeout)
	defer cancel()

	result, err := h.Generator.Generate(ctx, records, sourceFile, requestID, tracker)
	if err != nil {
		if errors.Is(err, services.ErrLLMNotReady) {
			h.Response.ServiceUnavailable(c, "AI test generator is not available. Check your GROQ_API_KEY.", h.LLM.GetReadyState())
			return
		}
		h.Response.FromError(c, err, "Failed to generate test cases. Please try again.")
		return
	}

	h.Response.Success(c, gin.H{
		"request_id":      requestID,
		"task_id":         requestID,
		"generated_count": result.GeneratedCount(),
		"filtered_count":  result.FilteredCount,
		"download_url":    "/download/" + requestID,
		"preview":         result.Preview(3),
		"failures":        result.Failures,
	}, fmt.Sprintf("已生成 %d 个测试用例", result.GeneratedCount()))
}

// DownloadTestCases 下载测试用例文件
func (h *Handler) DownloadTestCases(c *gin.Context) {
	requestID := c.Param("request_id")
	path, err := h.Store.TestCasesPath(requestID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorFileNotFound, "File not found")
			return
		}
		h.Response.FromError(c, err, "下载失败")
		return
	}
	c.FileAttachment(path, storage.TestCasesFilename(requestID))
}

type askQuestionRequest struct {
	TestCaseID string `json:"test_case_id"`
	Question   string `json:"question"`
}

// AskQuestion 关于测试用例的问答
func (h *Handler) AskQuestion(c *gin.Context) {
	var req askQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "Missing test_case_id or question", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), questionTimeout)
	defer cancel()

	result, err := h.Conversation.Ask(ctx, req.TestCaseID, req.Question)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorTestCaseNotFound, "Test case not found")
			return
		}
		if errors.Is(err, services.ErrLLMNotReady) {
			h.Response.ServiceUnavailable(c, "Conversational AI not available", h.LLM.GetReadyState())
			return
		}
		h.Response.FromError(c, err, "问答处理失败")
		return
	}
	h.Response.Success(c, result)
}

type batchQuestionsRequest struct {
	TestCaseID string   `json:"test_case_id"`
	Questions  []string `json:"questions"`
}

// BatchQuestions 依次回答同一测试用例的多个问题
func (h *Handler) BatchQuestions(c *gin.Context) {
	var req batchQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "Missing test_case_id or questions", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), questionTimeout)
	defer cancel()

	result, err := h.Conversation.AskBatch(ctx, req.TestCaseID, req.Questions)
	if err != nil {
		switch {
		case apperrors.IsValidationError(err):
			h.Response.BadRequest(c, "Missing test_case_id or questions", err.Error())
		case errors.Is(err, services.ErrLLMNotReady):
			h.Response.ServiceUnavailable(c, "Conversational AI not available", h.LLM.GetReadyState())
		case apperrors.IsNotFoundError(err):
			h.Response.NotFound(c, ErrorTestCaseNotFound, "Test case not found")
		default:
			h.Response.FromError(c, err, "批量问答处理失败")
		}
		return
	}
	h.Response.Success(c, result)
}

// ConversationHistory 测试用例的问答历史
func (h *Handler) ConversationHistory(c *gin.Context) {
	testCaseID := c.Param("test_case_id")
	data, err := h.Conversation.History(testCaseID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorTestCaseNotFound, "Test case not found")
			return
		}
		h.Response.FromError(c, err, "读取问答历史失败")
		return
	}

	h.Response.Success(c, gin.H{
		"test_case_id":         testCaseID,
		"conversation_history": data.ConversationHistory,
		"conversation_summary": data.ConversationSummary,
		"qa_insights":          data.QAInsights,
		"last_updated":         data.LastUpdated,
	})
}

// GetSuggestions 推荐的追问问题
func (h *Handler) GetSuggestions(c *gin.Context) {
	testCaseID := c.Param("test_case_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), suggestionsTimeout)
	defer cancel()

	suggestions, source, err := h.Conversation.Suggestions(ctx, testCaseID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorTestCaseNotFound, "Test case not found")
			return
		}
		h.Response.FromError(c, err, "获取推荐问题失败")
		return
	}

	h.Response.Success(c, gin.H{
		"test_case_id": testCaseID,
		"suggestions":  suggestions,
		"source":       source,
	})
}

// ExportConversations 以附件形式导出测试用例的问答
func (h *Handler) ExportConversations(c *gin.Context) {
	export, err := h.Conversation.Export(c.Param("test_case_id"))
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorTestCaseNotFound, "Test case not found")
			return
		}
		h.Response.FromError(c, err, "导出问答失败")
		return
	}
	h.Response.DownloadJSON(c, export, export.ExportFilename())
}

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.Progress.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, ErrorTaskNotFound, "任务不存在")
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	// 订阅后立即收到当前状态
	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"task_id\":%q}\n\n", taskID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", data)
			c.Writer.Flush()

			if update.Status == services.StatusCompleted || update.Status == services.StatusFailed {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// GetMetrics 流水线与大模型调用指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"metrics":   h.Metrics.Collector().GetMetrics(),
		"websocket": h.WebSocket.GetStatus(),
	})
}

// GetLLMStatus 获取LLM服务状态；?test=true 时额外发一次连接测试
func (h *Handler) GetLLMStatus(c *gin.Context) {
	status := h.LLM.Status()

	if strings.EqualFold(c.Query("test"), "true") && status.Ready {
		ctx, cancel := context.WithTimeout(c.Request.Context(), statusCheckTimeout)
		defer cancel()

		connected := h.LLM.TestConnection(ctx) == nil
		status.Connection = &connected
	}

	h.Response.Success(c, status)
}

// secureFilename 只保留文件名里的安全字符
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}
