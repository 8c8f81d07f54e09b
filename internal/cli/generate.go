// internal/cli/generate.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/services"
)

var (
	generateLimit   int
	generateFilters services.TranscriptFilters
)

var generateCmd = &cobra.Command{
	Use:   "generate [masked.json]",
	Short: "Generate QA test cases from masked transcripts",
	Long: `Sends each masked transcript to the configured LLM provider and
writes the resulting test cases to test_cases_<request-id>.json.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVarP(&generateLimit, "limit", "n", 0, "maximum number of transcripts (0 = all)")
	generateCmd.Flags().StringVar(&generateFilters.Channel, "channel", "", "only this channel")
	generateCmd.Flags().StringVar(&generateFilters.Category, "category", "", "only this category")
	generateCmd.Flags().StringVar(&generateFilters.Severity, "severity", "", "only this severity")
	generateCmd.Flags().StringVar(&generateFilters.Brand, "brand", "", "only transcripts mentioning this brand")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	batch, err := services.LoadBatchFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if stage := batch.Stage(); stage != models.StageMasked {
		return fmt.Errorf("%s is a %s batch; only masked batches can be sent to the LLM, run mask first", filepath.Base(args[0]), stage)
	}

	records := generateFilters.Apply(batch.Transcripts)
	if generateLimit > 0 && len(records) > generateLimit {
		records = records[:generateLimit]
	}

	result, err := svc.Generator.Generate(context.Background(), records, filepath.Base(args[0]), nextRequestID(), nil)
	if err != nil {
		if errors.Is(err, services.ErrLLMNotReady) {
			return fmt.Errorf("AI test generator is not available. Check your GROQ_API_KEY: %w", err)
		}
		return fmt.Errorf("generation failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, result.File)
	}
	cmd.Printf("Generated %d of %d test cases (%s)\n",
		result.GeneratedCount(), len(records), result.File.Metadata.SuccessRate)
	cmd.Printf("Saved: %s\n", svc.Store.Files().Path(result.Filename))
	for _, tc := range result.Preview(3) {
		cmd.Printf("  %s [%s] %s\n", tc.TestCaseID, tc.Priority, tc.IssueDescription)
	}
	for _, failure := range result.Failures {
		cmd.Printf("  ❌ #%d %s: %s\n", failure.Index, failure.CallID, failure.Error)
	}
	return nil
}
