// internal/cli/ask.go
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askSuggest bool

var askCmd = &cobra.Command{
	Use:   "ask [test-case-id] [question...]",
	Short: "Ask a question about a generated test case",
	Long: `Answers a question using the test case, its source transcript and the
last exchanges. The exchange is saved into the test-case file.
With --suggest, prints suggested follow-up questions instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askSuggest, "suggest", false, "list suggested follow-up questions")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	testCaseID := args[0]
	ctx := context.Background()

	if askSuggest {
		suggestions, source, err := svc.Conversation.Suggestions(ctx, testCaseID)
		if err != nil {
			return fmt.Errorf("suggestions failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, suggestions)
		}
		cmd.Printf("Suggested questions (%s):\n", source)
		for _, s := range suggestions {
			cmd.Printf("  [%s] %s\n", s.Category, s.Question)
		}
		return nil
	}

	question := strings.TrimSpace(strings.Join(args[1:], " "))
	if question == "" {
		return fmt.Errorf("missing question for %s", testCaseID)
	}

	result, err := svc.Conversation.Ask(ctx, testCaseID, question)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, result)
	}
	cmd.Printf("[%s] %s\n", result.Entry.QuestionType, result.Entry.Response)
	cmd.Printf("(%d exchanges on %s)\n", result.ConversationCount, testCaseID)
	return nil
}
