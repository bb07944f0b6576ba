package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, unsynced items and store statistics",
	Long: `Show whether the sync service is reachable, how many mutations are
waiting in the queue, when the last successful sync happened and how many
records of each type are stored locally.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, cfg, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("status", err)
	}
	defer closeFn()

	st, err := svc.GetConnectivityStatus()
	if err != nil {
		return trackCLIError("status", err)
	}
	stats, err := svc.Stats()
	if err != nil {
		return trackCLIError("status", fmt.Errorf("read stats: %w", err))
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, headerStyle.Render("FIELDSYNC STATUS"))
	_, _ = fmt.Fprintln(w, strings.Repeat("─", ruleWidth))

	remoteURL := cfg.Remote.BaseURL
	if remoteURL == "" {
		remoteURL = "(not configured)"
	}
	_, _ = fmt.Fprintf(w, "  Remote:       %s %s\n", remoteURL, connectivityLabel(st.IsOnline))
	_, _ = fmt.Fprintf(w, "  Unsynced:     %d\n", st.UnsyncedItems)

	lastSync := "never"
	if st.LastSyncTime != nil && !st.LastSyncTime.IsZero() {
		lastSync = formatTimeSince(*st.LastSyncTime)
	}
	_, _ = fmt.Fprintf(w, "  Last sync:    %s\n", lastSync)
	_, _ = fmt.Fprintf(w, "  Dead letters: %d\n", stats.DeadLetters)
	_, _ = fmt.Fprintf(w, "  Photos:       %d\n", stats.Photos)

	if len(stats.Entities) > 0 {
		types := make([]string, 0, len(stats.Entities))
		for t := range stats.Entities {
			types = append(types, t)
		}
		sort.Strings(types)

		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, headerStyle.Render("RECORDS"))
		for _, t := range types {
			_, _ = fmt.Fprintf(w, "  %-14s%d\n", t+":", stats.Entities[t])
		}
	}

	return nil
}

// formatTimeSince formats a duration since a time in a human-readable way.
func formatTimeSince(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02")
	}
}
