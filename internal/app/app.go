// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/TranscriptQA/internal/api"
	"github.com/Corphon/TranscriptQA/internal/cleaner"
	"github.com/Corphon/TranscriptQA/internal/config"
	"github.com/Corphon/TranscriptQA/internal/parser"
	"github.com/Corphon/TranscriptQA/internal/pii"
	"github.com/Corphon/TranscriptQA/internal/services"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"

	// 注册 LLM 提供商
	_ "github.com/Corphon/TranscriptQA/internal/llm/providers/groq"
	_ "github.com/Corphon/TranscriptQA/internal/llm/providers/openrouter"
)

// 后台任务间隔
const (
	cacheCleanupInterval    = 5 * time.Minute
	lockCleanupInterval     = 10 * time.Minute
	limiterCleanupInterval  = 5 * time.Minute
	progressCleanupInterval = 10 * time.Minute
	progressRetention       = time.Hour
	metricsReportInterval   = 15 * time.Minute
	shutdownTimeout         = 30 * time.Second
)

// Services 所有服务实例，按依赖顺序创建后显式传递
type Services struct {
	Config  *config.Config
	Logger  *utils.Logger
	Metrics *utils.PipelineMetrics
	Store   *storage.ArtifactStore

	LLM          *services.LLMService
	Pipeline     *services.PipelineService
	Generator    *services.GeneratorService
	Conversation *services.ConversationService
	Dashboard    *services.DashboardService
	Progress     *services.ProgressService
	Locks        *services.LockManager
}

// NewServices 按依赖顺序初始化服务
func NewServices(cfg *config.Config, logger *utils.Logger) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("配置不能为空")
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	metrics := utils.NewPipelineMetrics(utils.GetMetricsCollector(), logger)

	// 1. 存储层
	store, err := storage.NewArtifactStore(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	// 2. LLM 服务，缺少密钥时为未就绪状态
	llmService := services.NewLLMService(cfg.LLM, metrics, logger)

	// 3. 流水线各阶段
	pipeline := services.NewPipelineService(
		parser.NewParser(logger, metrics),
		cleaner.NewNormalizer(cfg.SeverityDefault),
		pii.NewMasker(pii.Options{MaskCallID: cfg.MaskCallID}, logger, metrics),
		store,
		logger,
	)

	// 4. 依赖 LLM 的服务
	locks := services.NewLockManager()
	svc := &Services{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Store:        store,
		LLM:          llmService,
		Pipeline:     pipeline,
		Generator:    services.NewGeneratorService(llmService, store, cfg.GenerationWorkers, metrics, logger),
		Conversation: services.NewConversationService(llmService, store, locks, logger),
		Dashboard:    services.NewDashboardService(store, logger),
		Progress:     services.NewProgressService(),
		Locks:        locks,
	}

	logger.Info("✅ 所有服务初始化完成", map[string]interface{}{
		"data_dir":  cfg.DataDir,
		"provider":  cfg.LLM.Provider,
		"llm_ready": llmService.IsReady(),
	})
	return svc, nil
}

// httpServer 便于测试替换 *http.Server
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.Config
	services *Services
	handler  *api.Handler
	limiter  *api.RateLimiter
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal
}

// New 初始化日志、服务和路由
func New(cfg *config.Config) (*App, error) {
	if err := initLogger(cfg.LogDir); err != nil {
		return nil, fmt.Errorf("初始化日志系统失败: %w", err)
	}
	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))

	svc, err := NewServices(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化服务失败: %w", err)
	}

	handler := api.NewHandler(api.Dependencies{
		Pipeline:       svc.Pipeline,
		Generator:      svc.Generator,
		Conversation:   svc.Conversation,
		Dashboard:      svc.Dashboard,
		Progress:       svc.Progress,
		LLM:            svc.LLM,
		Store:          svc.Store,
		Metrics:        svc.Metrics,
		Logger:         logger,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	limiter := api.NewRateLimiter()
	router := api.SetupRouter(handler, api.RouterOptions{DebugMode: cfg.DebugMode, Limiter: limiter})

	return &App{
		config:   cfg,
		services: svc,
		handler:  handler,
		limiter:  limiter,
		router:   router,
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		stopChan: make(chan os.Signal, 1),
	}, nil
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// Services 获取服务集合
func (a *App) Services() *Services {
	return a.services
}

// Handler 返回 HTTP 路由
func (a *App) Handler() http.Handler {
	return a.router
}

// startBackground 启动后台清理任务，ctx 结束时全部退出
func (a *App) startBackground(ctx context.Context) {
	if a.services != nil {
		a.services.Store.Files().StartCacheCleanup(ctx, cacheCleanupInterval)
		a.services.Locks.StartCleanup(ctx, lockCleanupInterval)
		a.services.Metrics.StartMetricsReport(ctx, metricsReportInterval)
		go cleanupProgress(ctx, a.services.Progress, a.services.Logger)
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx, limiterCleanupInterval)
	}
	if a.handler != nil {
		go a.handler.WebSocket.Run(ctx)
	}
}

// cleanupProgress 定期清理已结束的进度跟踪器
func cleanupProgress(ctx context.Context, progress *services.ProgressService, logger *utils.Logger) {
	ticker := time.NewTicker(progressCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := progress.CleanupCompletedTasks(progressRetention); removed > 0 {
				logger.Debug("🧹 已清理进度跟踪器", map[string]interface{}{"removed": removed})
			}
		}
	}
}

// Run 启动服务器，收到停止信号后优雅关闭
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.startBackground(ctx)

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	utils.GetLogger().Info("🌐 服务器已启动", map[string]interface{}{"port": a.config.Port})

	select {
	case err := <-serverErr:
		a.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case sig := <-a.stopChan:
		utils.GetLogger().Info("🛑 正在关闭服务器...", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err := a.server.Shutdown(shutdownCtx)
	cancel()
	a.cleanup()
	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	return nil
}

// cleanup 释放资源
func (a *App) cleanup() {
	logger := utils.GetLogger()
	logger.Info("✅ 服务器已关闭", nil)
	if err := logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "关闭日志文件失败: %v\n", err)
	}
}

// initLogger 在 logDir 下按日期创建日志文件
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("app_%s.log", time.Now().Format("2006-01-02")))
	return utils.InitLogger(logFile)
}
