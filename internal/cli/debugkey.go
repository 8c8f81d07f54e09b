// internal/cli/debugkey.go
package cli

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Corphon/TranscriptQA/internal/config"
)

const apiKeyEnv = "GROQ_API_KEY"

var debugKeyTest bool

var debugKeyCmd = &cobra.Command{
	Use:   "debug-key",
	Short: "Diagnose the LLM API key and .env file",
	Long: `Checks the API key for common formatting problems (quotes, spaces,
newlines, missing gsk_ prefix) and inspects the matching .env lines.
The full key is never printed.`,
	Args: cobra.NoArgs,
	RunE: runDebugKey,
}

func init() {
	debugKeyCmd.Flags().BoolVar(&debugKeyTest, "test", false, "send a test request with the cleaned key")
	rootCmd.AddCommand(debugKeyCmd)
}

type debugKeyReport struct {
	Key        config.KeyDiagnosis     `json:"key"`
	Problems   []string                `json:"problems"`
	EnvFile    config.EnvFileDiagnosis `json:"env_file"`
	Connection string                  `json:"connection,omitempty"`
}

func runDebugKey(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(envFile)

	report := debugKeyReport{
		Key:     config.DiagnoseAPIKey(os.Getenv(apiKeyEnv)),
		EnvFile: config.DiagnoseEnvFile(envFile, apiKeyEnv),
	}
	report.Problems = report.Key.Problems()

	if debugKeyTest && report.Key.Present {
		svc, err := loadServices()
		if err != nil {
			return err
		}
		if err := svc.LLM.TestConnection(context.Background()); err != nil {
			report.Connection = "failed: " + err.Error()
		} else {
			report.Connection = "ok"
		}
	}

	if jsonOutput {
		return printJSON(cmd, report)
	}

	cmd.Println("🔍 API key")
	if !report.Key.Present {
		cmd.Printf("  %s is not set\n", apiKeyEnv)
	} else {
		cmd.Printf("  length: %d (cleaned: %d)\n", report.Key.Length, report.Key.CleanedLength)
		cmd.Printf("  preview: %s...%s\n", report.Key.CleanedHead, report.Key.CleanedTail)
	}
	for _, problem := range report.Problems {
		cmd.Printf("  ⚠️ %s\n", problem)
	}

	cmd.Printf("📄 %s\n", envFile)
	switch {
	case !report.EnvFile.Exists:
		cmd.Println("  file not found")
	case !report.EnvFile.Parsed:
		cmd.Println("  file could not be parsed")
	default:
		cmd.Printf("  contains %s: %t\n", apiKeyEnv, report.EnvFile.HasKey)
	}
	for _, line := range report.EnvFile.Lines {
		if line.Problem != "" {
			cmd.Printf("  line %d: %s\n", line.Number, line.Problem)
		}
	}

	if report.Connection != "" {
		cmd.Printf("🔌 connection: %s\n", report.Connection)
	}
	return nil
}
