// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RouterOptions 路由配置
type RouterOptions struct {
	DebugMode bool
	Limiter   *RateLimiter // nil 时创建一个新的
}

// SetupRouter 配置HTTP路由
func SetupRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	aiLimit := limiter.ByIP("ai", AIRequestsPerMinute, time.Minute)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(limiter.ByIP("default", DefaultRequestsPerMinute, time.Minute))

	// ===============================
	// 页面与文件路由
	// ===============================
	r.GET("/", handler.GetDashboard)
	r.POST("/upload", handler.UploadFile)
	r.POST("/generate", aiLimit, handler.GenerateTestCases)
	r.GET("/download/:request_id", handler.DownloadTestCases)
	r.GET("/export_conversations/:test_case_id", handler.ExportConversations)

	// WebSocket 支持
	r.GET("/ws/runs", handler.RunsWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/dashboard", handler.GetDashboard)
		api.GET("/transcripts", handler.ListTranscripts)
		api.GET("/stats", handler.GetStats)

		// 问答
		api.POST("/ask_question", aiLimit, handler.AskQuestion)
		api.POST("/batch_questions", aiLimit, handler.BatchQuestions)
		api.GET("/conversation_history/:test_case_id", handler.ConversationHistory)
		api.GET("/suggestions/:test_case_id", aiLimit, handler.GetSuggestions)

		// 进度与状态
		api.GET("/progress/:taskID", handler.SubscribeProgress)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/llm/status", handler.GetLLMStatus)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r
}
