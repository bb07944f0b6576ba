package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List stored records",
	Long: `List stored records of one type in capture order. Records not yet
acknowledged by the sync service are marked offline.

Without a type, lists the record types present in the store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().String("parent", "", "Only list records attached to this parent id")
}

func runList(cmd *cobra.Command, args []string) error {
	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("list", err)
	}
	defer closeFn()

	w := cmd.OutOrStdout()

	if len(args) == 0 {
		types, err := svc.EntityTypes()
		if err != nil {
			return trackCLIError("list", fmt.Errorf("list entity types: %w", err))
		}
		if len(types) == 0 {
			_, _ = fmt.Fprintln(w, "No records stored.")
			_, _ = fmt.Fprintln(w, "\nUse 'fieldsync save <type>' to capture one.")
			return nil
		}
		for _, t := range types {
			_, _ = fmt.Fprintln(w, t)
		}
		return nil
	}

	entityType := args[0]
	parentID, _ := cmd.Flags().GetString("parent")

	var entities []models.Entity
	if parentID != "" {
		entities, err = svc.GetEntitiesByParent(entityType, parentID)
	} else {
		entities, err = svc.GetEntities(entityType)
	}
	if err != nil {
		return trackCLIError("list", fmt.Errorf("list %s: %w", entityType, err))
	}

	if len(entities) == 0 {
		_, _ = fmt.Fprintf(w, "No %s records.\n", entityType)
		return nil
	}

	_, _ = fmt.Fprintf(w, "%s (%d)\n", headerStyle.Render(strings.ToUpper(entityType)), len(entities))
	_, _ = fmt.Fprintln(w, strings.Repeat("─", ruleWidth))
	for _, e := range entities {
		marker := onlineStyle.Render("✓")
		if e.Offline {
			marker = offlineStyle.Render("○")
		}
		_, _ = fmt.Fprintf(w, "  %s %s\n", marker, e.ID)
		if e.ParentID != "" {
			_, _ = fmt.Fprintf(w, "    parent: %s\n", e.ParentID)
		}
		_, _ = fmt.Fprintf(w, "    %s\n", mutedStyle.Render(string(e.Payload)))
	}

	return nil
}
