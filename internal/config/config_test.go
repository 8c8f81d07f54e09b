package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
)

var configKeys = []string{
	"PORT", "DATA_DIR", "UPLOAD_DIR", "LOG_DIR", "LOG_LEVEL", "DEBUG_MODE",
	"LLM_PROVIDER", "GROQ_API_KEY", "LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL",
	"LLM_MAX_TOKENS", "LLM_TEMPERATURE", "CHAT_MAX_TOKENS", "CHAT_TEMPERATURE",
	"LLM_TIMEOUT_SECONDS", "GENERATION_WORKERS", "MASK_CALL_ID", "SEVERITY_DEFAULT", "MAX_UPLOAD_MB",
}

func clearEnv(t *testing.T) {
	// godotenv 不覆盖已存在的变量，即便是空值，所以这里要真正 unset
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, ProviderGroq, cfg.LLM.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	assert.Equal(t, 1500, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.LLM.ChatMaxTokens)
	assert.InDelta(t, 0.4, cfg.LLM.ChatTemperature, 1e-9)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 4, cfg.GenerationWorkers)
	assert.False(t, cfg.MaskCallID)
	assert.Equal(t, "Medium", cfg.SeverityDefault)
	assert.Equal(t, int64(16<<20), cfg.MaxUploadBytes())
	assert.False(t, cfg.HasAPIKey())
}

func TestLoad_FromEnvAndFile(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GROQ_API_KEY=\" gsk_abc123 \"\nGENERATION_WORKERS=2\n"), 0644))

	t.Setenv("LLM_PROVIDER", "OpenRouter")
	t.Setenv("MASK_CALL_ID", "yes")
	t.Setenv("SEVERITY_DEFAULT", "Unclassified")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenRouter, cfg.LLM.Provider)
	assert.Equal(t, "meta-llama/llama-3.3-70b-instruct", cfg.LLM.Model)
	assert.Equal(t, "gsk_abc123", cfg.LLM.APIKey)
	assert.Equal(t, 2, cfg.GenerationWorkers)
	assert.True(t, cfg.MaskCallID)
	assert.Equal(t, "Unclassified", cfg.SeverityDefault)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")
	t.Setenv("GENERATION_WORKERS", "0")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Contains(t, err.Error(), "LLM_PROVIDER")
	assert.Contains(t, err.Error(), "GENERATION_WORKERS")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port: "8080", DataDir: "d", UploadDir: "u", LogDir: "l",
			LLM: LLMConfig{
				Provider: ProviderGroq, MaxTokens: 10, ChatMaxTokens: 10,
				Temperature: 0.3, ChatTemperature: 0.4, Timeout: time.Second,
			},
			GenerationWorkers: 1, SeverityDefault: "Medium", MaxUploadMB: 1,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = "abc" }},
		{"empty dir", func(c *Config) { c.UploadDir = " " }},
		{"temperature", func(c *Config) { c.LLM.ChatTemperature = 3 }},
		{"timeout", func(c *Config) { c.LLM.Timeout = 0 }},
		{"severity", func(c *Config) { c.SeverityDefault = "Urgent" }},
		{"upload", func(c *Config) { c.MaxUploadMB = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{
		DataDir:   filepath.Join(root, "data"),
		UploadDir: filepath.Join(root, "uploads"),
		LogDir:    filepath.Join(root, "logs"),
	}
	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, cfg.UploadDir)
}

func TestCleanAPIKey(t *testing.T) {
	assert.Equal(t, "gsk_x", CleanAPIKey("  \"gsk_x\"\n"))
	assert.Equal(t, "gsk_x", CleanAPIKey("'gsk_x'"))
	assert.Empty(t, CleanAPIKey("  "))
}

func TestDiagnoseAPIKey(t *testing.T) {
	assert.Equal(t, []string{"环境变量中没有 API 密钥"}, DiagnoseAPIKey("").Problems())

	d := DiagnoseAPIKey("\"gsk_1234567890abcdef\"\n")
	assert.True(t, d.Present)
	assert.True(t, d.HasQuotes)
	assert.True(t, d.HasNewlines)
	assert.False(t, d.HasSpaces)
	assert.False(t, d.HasGroqPrefix)
	assert.Equal(t, 22, d.Length)
	assert.Equal(t, 20, d.CleanedLength)
	assert.Equal(t, "gsk_123456", d.CleanedHead)
	assert.Equal(t, "bcdef", d.CleanedTail)
	assert.Len(t, d.Problems(), 3)

	assert.Empty(t, DiagnoseAPIKey("gsk_clean").Problems())
}

func TestDiagnoseEnvFile(t *testing.T) {
	dir := t.TempDir()

	missing := DiagnoseEnvFile(filepath.Join(dir, "nope.env"), "GROQ_API_KEY")
	assert.False(t, missing.Exists)

	path := filepath.Join(dir, ".env")
	content := "PORT=5000\nGROQ_API_KEY gsk_x\nGROQ_API_KEY=a=b\nGROQ_API_KEY=\nGROQ_API_KEY=gsk_ok\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d := DiagnoseEnvFile(path, "GROQ_API_KEY")
	assert.True(t, d.Exists)
	require.Len(t, d.Lines, 4)
	assert.Equal(t, EnvLine{Number: 2, Problem: "缺少 '='"}, d.Lines[0])
	assert.Equal(t, "包含多个 '='", d.Lines[1].Problem)
	assert.Equal(t, "'=' 之后没有值", d.Lines[2].Problem)
	assert.Empty(t, d.Lines[3].Problem)
}
