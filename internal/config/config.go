// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
)

// 支持的 LLM 提供商
const (
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
)

// 各提供商默认模型
var defaultModels = map[string]string{
	ProviderGroq:       "llama-3.3-70b-versatile",
	ProviderOpenRouter: "meta-llama/llama-3.3-70b-instruct",
}

// LLMConfig LLM 调用参数
type LLMConfig struct {
	Provider        string
	APIKey          string
	BaseURL         string
	Model           string
	MaxTokens       int
	Temperature     float64
	ChatMaxTokens   int
	ChatTemperature float64
	Timeout         time.Duration
}

// Config 存储应用配置，启动时加载一次后显式传给各组件
type Config struct {
	Port      string
	DataDir   string
	UploadDir string
	LogDir    string
	LogLevel  string
	DebugMode bool

	LLM LLMConfig

	GenerationWorkers int
	MaskCallID        bool
	SeverityDefault   string
	MaxUploadMB       int64
}

// Load 从 .env 文件（可选）和环境变量加载配置
func Load(envFiles ...string) (*Config, error) {
	// 文件不存在不算错误
	_ = godotenv.Load(envFiles...)

	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGroq))

	config := &Config{
		Port:      getEnv("PORT", "5000"),
		DataDir:   getEnv("DATA_DIR", "data/processed"),
		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		LogDir:    getEnv("LOG_DIR", "logs"),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		DebugMode: getEnvBool("DEBUG_MODE", false),
		LLM: LLMConfig{
			Provider:        provider,
			APIKey:          CleanAPIKey(firstEnv("GROQ_API_KEY", "LLM_API_KEY")),
			BaseURL:         getEnv("LLM_BASE_URL", ""),
			Model:           getEnv("LLM_MODEL", defaultModels[provider]),
			MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 1500),
			Temperature:     getEnvFloat("LLM_TEMPERATURE", 0.3),
			ChatMaxTokens:   getEnvInt("CHAT_MAX_TOKENS", 2000),
			ChatTemperature: getEnvFloat("CHAT_TEMPERATURE", 0.4),
			Timeout:         time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		GenerationWorkers: getEnvInt("GENERATION_WORKERS", 4),
		MaskCallID:        getEnvBool("MASK_CALL_ID", false),
		SeverityDefault:   getEnv("SEVERITY_DEFAULT", "Medium"),
		MaxUploadMB:       int64(getEnvInt("MAX_UPLOAD_MB", 16)),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if !config.HasAPIKey() {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置 GROQ_API_KEY / LLM_API_KEY，测试用例生成和问答功能不可用")
	}

	return config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	var problems []error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Errorf("PORT 无效: %q", c.Port))
	}
	for name, dir := range map[string]string{"DATA_DIR": c.DataDir, "UPLOAD_DIR": c.UploadDir, "LOG_DIR": c.LogDir} {
		if strings.TrimSpace(dir) == "" {
			problems = append(problems, fmt.Errorf("%s 不能为空", name))
		}
	}
	if _, ok := defaultModels[c.LLM.Provider]; !ok {
		problems = append(problems, fmt.Errorf("LLM_PROVIDER 不支持: %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 || c.LLM.ChatMaxTokens <= 0 {
		problems = append(problems, errors.New("LLM_MAX_TOKENS / CHAT_MAX_TOKENS 必须大于 0"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 || c.LLM.ChatTemperature < 0 || c.LLM.ChatTemperature > 2 {
		problems = append(problems, errors.New("温度必须在 0 到 2 之间"))
	}
	if c.LLM.Timeout <= 0 {
		problems = append(problems, errors.New("LLM_TIMEOUT_SECONDS 必须大于 0"))
	}
	if c.GenerationWorkers < 1 || c.GenerationWorkers > 32 {
		problems = append(problems, fmt.Errorf("GENERATION_WORKERS 超出范围 1-32: %d", c.GenerationWorkers))
	}
	if !validSeverityDefault(c.SeverityDefault) {
		problems = append(problems, fmt.Errorf("SEVERITY_DEFAULT 无效: %q", c.SeverityDefault))
	}
	if c.MaxUploadMB <= 0 {
		problems = append(problems, errors.New("MAX_UPLOAD_MB 必须大于 0"))
	}

	if len(problems) > 0 {
		return apperrors.NewValidationError("配置无效", errors.Join(problems...))
	}
	return nil
}

func validSeverityDefault(value string) bool {
	switch value {
	case "Critical", "High", "Medium", "Low", "Unclassified":
		return true
	}
	return false
}

// HasAPIKey 是否配置了 LLM 密钥
func (c *Config) HasAPIKey() bool {
	return c.LLM.APIKey != ""
}

// MaxUploadBytes 上传大小上限（字节）
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// EnsureDirs 创建数据、上传、日志目录
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.UploadDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// CleanAPIKey 去掉首尾空白和引号
func CleanAPIKey(raw string) string {
	key := strings.TrimSpace(raw)
	key = strings.Trim(key, `"`)
	return strings.Trim(key, `'`)
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// firstEnv 返回第一个非空的环境变量
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return defaultValue
	}
	return value
}
