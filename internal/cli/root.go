// internal/cli/root.go
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Corphon/TranscriptQA/internal/app"
	"github.com/Corphon/TranscriptQA/internal/config"
	"github.com/Corphon/TranscriptQA/internal/storage"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

var (
	envFile    string
	jsonOutput bool
	requestID  string

	// appServices 首次使用时按配置创建，测试可直接注入
	appServices *app.Services
)

var rootCmd = &cobra.Command{
	Use:   "transcriptqa",
	Short: "Call-center transcript pipeline and test-case generator",
	Long: `Parses call-center transcript documents into structured records,
normalizes and PII-masks them, and generates QA test cases with an LLM.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to the .env file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVar(&requestID, "request-id", "", "request ID for written artifacts (default: generated)")
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadServices 读取配置并初始化服务
func loadServices() (*app.Services, error) {
	if appServices != nil {
		return appServices, nil
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))

	svc, err := app.NewServices(cfg, logger)
	if err != nil {
		return nil, err
	}
	appServices = svc
	return svc, nil
}

// nextRequestID --request-id 或新生成的 ID
func nextRequestID() string {
	if requestID != "" {
		return requestID
	}
	return storage.NewRequestID()
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
