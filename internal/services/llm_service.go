// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/TranscriptQA/internal/config"
	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/llm"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// ErrLLMNotReady 未配置或初始化失败时调用模型
var ErrLLMNotReady = errors.New("llm service not ready")

// LLMStatus 提供商状态，供 /api/llm/status 使用
type LLMStatus struct {
	Ready      bool     `json:"ready"`
	State      string   `json:"state"`
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	Available  []string `json:"available_providers"`
	Supported  []string `json:"supported_models,omitempty"`
	CheckedAt  string   `json:"checked_at"`
	Connection *bool    `json:"connection,omitempty"`
}

// LLMService 提供统一的大语言模型调用接口
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	defaultModel  string
	isReady       bool
	readyState    string

	settings config.LLMConfig
	metrics  *utils.PipelineMetrics
	logger   *utils.Logger
}

// NewLLMService 根据配置创建 LLM 服务；缺少密钥或初始化失败时返回未就绪的服务
func NewLLMService(cfg config.LLMConfig, metrics *utils.PipelineMetrics, logger *utils.Logger) *LLMService {
	service := createBaseLLMService(cfg, metrics, logger)
	service.providerName = cfg.Provider

	if cfg.APIKey == "" {
		service.readyState = "API key not configured"
		service.logger.Warn("⚠️ 未配置 API 密钥，AI 功能不可用", map[string]interface{}{"provider": cfg.Provider})
		return service
	}

	provider, err := llm.GetProvider(cfg.Provider, providerConfig(cfg))
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		service.logger.Error("❌ LLM 提供商初始化失败", map[string]interface{}{"provider": cfg.Provider, "error": err.Error()})
		return service
	}

	service.setProvider(cfg.Provider, provider, cfg.Model)
	service.logger.Info("✅ LLM 服务已就绪", map[string]interface{}{"provider": cfg.Provider, "model": cfg.Model})
	return service
}

// NewLLMServiceWithProvider 使用已初始化的提供商（测试或自定义接入）
func NewLLMServiceWithProvider(name string, provider llm.Provider, cfg config.LLMConfig, metrics *utils.PipelineMetrics, logger *utils.Logger) *LLMService {
	service := createBaseLLMService(cfg, metrics, logger)
	service.setProvider(name, provider, cfg.Model)
	return service
}

// NewEmptyLLMService 创建一个空的LLM服务实例作为后备方案
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService(config.LLMConfig{}, nil, nil)
	service.providerName = "empty"
	service.readyState = "Standby Service Mode – Please configure the API key"
	return service
}

func createBaseLLMService(cfg config.LLMConfig, metrics *utils.PipelineMetrics, logger *utils.Logger) *LLMService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil, logger)
	}
	return &LLMService{
		readyState: "Uninitialized",
		settings:   cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

func (s *LLMService) setProvider(name string, provider llm.Provider, model string) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = name
	s.defaultModel = model
	s.isReady = provider != nil
	if s.isReady {
		s.readyState = "Ready"
	}
}

// providerConfig 转成提供商注册表使用的键值配置
func providerConfig(cfg config.LLMConfig) map[string]string {
	values := map[string]string{
		llm.ConfigAPIKey:       cfg.APIKey,
		llm.ConfigDefaultModel: cfg.Model,
	}
	if cfg.BaseURL != "" {
		values[llm.ConfigBaseURL] = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		values[llm.ConfigTimeout] = strconv.Itoa(int(cfg.Timeout / time.Second))
	}
	return values
}

// IsReady 检查服务是否就绪
func (s *LLMService) IsReady() bool {
	if s == nil {
		return false
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.isReady && s.provider != nil
}

// GetReadyState 获取服务状态描述
func (s *LLMService) GetReadyState() string {
	if s == nil {
		return "LLM服务实例未初始化"
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus 返回是否就绪以及状态描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	if s.IsReady() {
		return true, "Ready"
	}
	return false, s.GetReadyState()
}

// GetProvider 当前提供商
func (s *LLMService) GetProvider() llm.Provider {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider
}

// GetProviderName 当前提供商名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 默认模型
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.defaultModel
}

// Settings 生成与问答使用的参数
func (s *LLMService) Settings() config.LLMConfig {
	return s.settings
}

// Status 汇总状态
func (s *LLMService) Status() LLMStatus {
	ready, state := s.GetProviderStatus()
	status := LLMStatus{
		Ready:     ready,
		State:     state,
		Provider:  s.GetProviderName(),
		Model:     s.GetDefaultModel(),
		Available: llm.ListProviders(),
		CheckedAt: time.Now().Format(time.RFC3339),
	}
	if provider := s.GetProvider(); provider != nil {
		status.Supported = provider.GetSupportedModels()
	}
	return status
}

// Complete 调用模型并记录指标
func (s *LLMService) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if !s.IsReady() {
		return nil, apperrors.NewLLMError(s.GetReadyState(), ErrLLMNotReady)
	}

	provider := s.GetProvider()
	if req.Model == "" {
		req.Model = s.GetDefaultModel()
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	duration := time.Since(start)

	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	s.metrics.RecordLLMRequest(s.GetProviderName(), req.Model, tokens, duration, err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError("模型请求超时", err)
		}
		return nil, apperrors.NewLLMError("模型请求失败", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, apperrors.NewLLMError("模型返回空内容", llm.ErrEmptyResponse)
	}
	return resp, nil
}

// TestConnection 发送一条极短的请求确认 API 可用
func (s *LLMService) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.Complete(ctx, llm.CompletionRequest{Prompt: "Hello", MaxTokens: 10})
	if err != nil {
		s.logger.Warn("❌ 连接测试失败", map[string]interface{}{"provider": s.GetProviderName(), "error": err.Error()})
		return err
	}
	s.logger.Info("✅ API 连接正常", map[string]interface{}{"provider": s.GetProviderName()})
	return nil
}

// CleanLLMJSONResponse 取第一个 '{' 到最后一个 '}' 之间的内容；找不到时返回空串
func CleanLLMJSONResponse(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
