// internal/cli/pipeline.go
package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/pii"
	"github.com/Corphon/TranscriptQA/internal/services"
)

var parseCmd = &cobra.Command{
	Use:   "parse [document]",
	Short: "Segment and extract transcripts from a PDF, TXT or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

var cleanCmd = &cobra.Command{
	Use:   "clean [parsed.json]",
	Short: "Normalize categories, severities, dates and text fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runClean,
}

var maskCmd = &cobra.Command{
	Use:   "mask [cleaned.json]",
	Short: "Replace PII in transcripts with category tokens",
	Args:  cobra.ExactArgs(1),
	RunE:  runMask,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [masked.json]",
	Short: "Rescan masked transcripts for residual PII",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var runCmd = &cobra.Command{
	Use:   "run [document]",
	Short: "Run parse, clean and mask in sequence",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipeline,
}

func init() {
	rootCmd.AddCommand(parseCmd, cleanCmd, maskCmd, verifyCmd, runCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	output, result, err := svc.Pipeline.Parse(context.Background(), args[0], nextRequestID())
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, output.Batch)
	}
	cmd.Printf("Parsed %d transcripts from %d sections (%d skipped, %d failed)\n",
		len(output.Batch.Transcripts), result.Sections, result.Skipped, result.Failed)
	cmd.Printf("Saved: %s\n", svc.Store.Files().Path(output.Filename))
	printBreakdown(cmd, output.Batch.Transcripts)
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	input, err := services.LoadBatchFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	output, err := svc.Pipeline.Clean(context.Background(), input, nextRequestID())
	if err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, output.Batch)
	}
	cmd.Printf("Cleaned %d transcripts\n", len(output.Batch.Transcripts))
	cmd.Printf("Saved: %s\n", svc.Store.Files().Path(output.Filename))
	printBreakdown(cmd, output.Batch.Transcripts)
	return nil
}

func runMask(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	input, err := services.LoadBatchFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	output, result, err := svc.Pipeline.Mask(context.Background(), input, nextRequestID())
	if err != nil {
		return fmt.Errorf("mask failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, output.Batch)
	}
	cmd.Printf("Masked %d transcripts (%d failed)\n", len(output.Batch.Transcripts), result.Failed)
	cmd.Printf("Saved: %s\n", svc.Store.Files().Path(output.Filename))
	printTally(cmd, result.Tally)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	batch, err := services.LoadBatchFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	residues := pii.Verify(batch.Transcripts)
	if jsonOutput {
		if err := printJSON(cmd, residues); err != nil {
			return err
		}
	} else if len(residues) == 0 {
		cmd.Printf("No residual PII found in %d transcripts\n", len(batch.Transcripts))
	} else {
		cmd.Println("Potential PII found:")
		for _, residue := range residues {
			cmd.Printf("  %s\n", residue)
		}
	}

	if len(residues) > 0 {
		return fmt.Errorf("verification found %d potential PII residues", len(residues))
	}
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	result, err := svc.Pipeline.Run(context.Background(), args[0], nextRequestID(), nil)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, result)
	}
	cmd.Printf("Request ID: %s\n", result.RequestID)
	for _, stage := range result.Stages {
		cmd.Printf("  %-8s %d transcripts -> %s\n", stage.Stage, len(stage.Batch.Transcripts), stage.Filename)
	}
	cmd.Printf("Skipped sections: %d, failed records: %d\n", result.Skipped, result.Failed)
	printTally(cmd, result.PIIRemoved)
	for _, residue := range result.Residues {
		cmd.Printf("  ⚠️ %s\n", residue)
	}
	return nil
}

// printBreakdown 按渠道和严重程度统计
func printBreakdown(cmd *cobra.Command, records []models.TranscriptRecord) {
	stats := services.CalculateStats(records)
	cmd.Println("Channels:")
	for _, name := range sortedKeys(stats.Channels) {
		cmd.Printf("  %s: %d\n", name, stats.Channels[name])
	}
	cmd.Println("Severities:")
	for _, name := range sortedKeys(stats.Severities) {
		cmd.Printf("  %s: %d\n", name, stats.Severities[name])
	}
}

func printTally(cmd *cobra.Command, tally models.PIITally) {
	cmd.Printf("PII removed: %d\n", tally.Total())
	for _, name := range sortedKeys(tally) {
		if tally[name] > 0 {
			cmd.Printf("  %s: %d\n", name, tally[name])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
