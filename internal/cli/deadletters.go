package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

var deadLettersCmd = &cobra.Command{
	Use:     "deadletters",
	Aliases: []string{"dead-letters", "dl"},
	Short:   "Show mutations that could not be synced",
	Long: `Show mutations that left the queue without reaching the sync service:
rejected by the remote, out of retries, or unreadable.

Use --copy to put the raw entries on the clipboard for a support ticket,
and --clear to delete them once handled.`,
	Args: cobra.NoArgs,
	RunE: runDeadLetters,
}

func init() {
	deadLettersCmd.Flags().Bool("clear", false, "Delete all dead letters after showing them")
	deadLettersCmd.Flags().Bool("copy", false, "Copy the entries as JSON to the clipboard")
	deadLettersCmd.Flags().Bool("plain", false, "Print the report without terminal styling")
}

func runDeadLetters(cmd *cobra.Command, args []string) error {
	clearAll, _ := cmd.Flags().GetBool("clear")
	copyJSON, _ := cmd.Flags().GetBool("copy")
	plain, _ := cmd.Flags().GetBool("plain")

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("deadletters", err)
	}
	defer closeFn()

	letters, err := svc.GetDeadLetters()
	if err != nil {
		return trackCLIError("deadletters", fmt.Errorf("list dead letters: %w", err))
	}

	w := cmd.OutOrStdout()
	if len(letters) == 0 {
		_, _ = fmt.Fprintln(w, "No dead letters.")
		return nil
	}

	report := deadLetterReport(letters)
	if !plain {
		if rendered, err := renderMarkdown(report); err == nil {
			report = rendered
		}
	}
	_, _ = fmt.Fprint(w, report)

	if copyJSON {
		data, err := json.MarshalIndent(letters, "", "  ")
		if err != nil {
			return trackCLIError("deadletters", fmt.Errorf("encode dead letters: %w", err))
		}
		if err := clipboard.WriteAll(string(data)); err != nil {
			return trackCLIError("deadletters", fmt.Errorf("copy to clipboard: %w", err))
		}
		_, _ = fmt.Fprintln(w, mutedStyle.Render("Copied to clipboard."))
	}

	if clearAll {
		n, err := svc.ClearDeadLetters()
		if err != nil {
			return trackCLIError("deadletters", fmt.Errorf("clear dead letters: %w", err))
		}
		_, _ = fmt.Fprintf(w, "Cleared %d dead letter(s).\n", n)
	}

	return nil
}

// deadLetterReport formats dead letters as a markdown document.
func deadLetterReport(letters []models.DeadLetter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Dead letters (%d)\n\n", len(letters))
	b.WriteString("| Queue # | Action | Target | Reason | Retries | Failed |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, dl := range letters {
		fmt.Fprintf(&b, "| %d | %s | %s/%s | %s | %d | %s |\n",
			dl.QueueID, dl.Action, dl.TargetType, dl.TargetID, dl.Reason, dl.Retries,
			dl.FailedAt.Local().Format("2006-01-02 15:04"))
	}

	b.WriteString("\n## Errors\n\n")
	for _, dl := range letters {
		msg := dl.Error
		if msg == "" {
			msg = "(no error recorded)"
		}
		fmt.Fprintf(&b, "- **#%d** `%s`\n", dl.QueueID, strings.ReplaceAll(msg, "`", "'"))
	}
	return b.String()
}

// renderMarkdown renders markdown for the terminal.
func renderMarkdown(md string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}
