package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/offline"
)

var saveCmd = &cobra.Command{
	Use:   "save <type>",
	Short: "Save a record locally and queue it for sync",
	Long: `Save a record (inspection, comment, ...) to the local store and queue a
create or update for the sync service. Works offline.

The payload is a JSON object given with --data, read from --file, or read
from stdin when --file is "-".

Examples:
  fieldsync save inspection --data '{"site":"north pier"}'
  fieldsync save comment --parent 6f1c... --data '{"text":"crack on beam 4"}'
  fieldsync save inspection --id 6f1c... --file update.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete a record locally and queue the delete for sync",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func init() {
	saveCmd.Flags().String("id", "", "Record id (generated when omitted; an existing id is updated)")
	saveCmd.Flags().String("parent", "", "Parent record id")
	saveCmd.Flags().String("data", "", "Record payload as a JSON object")
	saveCmd.Flags().String("file", "", `Read the payload from a file ("-" for stdin)`)
}

func runSave(cmd *cobra.Command, args []string) error {
	entityType := args[0]
	id, _ := cmd.Flags().GetString("id")
	parentID, _ := cmd.Flags().GetString("parent")

	payload, err := readPayload(cmd)
	if err != nil {
		return trackCLIError("save", err)
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("save", err)
	}
	defer closeFn()

	isUpdate := false
	if id != "" {
		existing, err := svc.GetEntities(entityType)
		if err == nil {
			for _, e := range existing {
				if e.ID == id {
					isUpdate = true
					break
				}
			}
		}
	}

	entity, err := svc.SaveEntity(cmd.Context(), entityType, offline.SaveInput{
		ID:       id,
		ParentID: parentID,
		Payload:  payload,
	})
	if err != nil {
		return trackCLIError("save", err)
	}

	telemetryClient.TrackEntitySaved(entityType, isUpdate)

	verb := "Created"
	if isUpdate {
		verb = "Updated"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", verb, entity.Key(), mutedStyle.Render("(queued for sync)"))
	return nil
}

// readPayload returns the --data or --file payload, defaulting to {}.
func readPayload(cmd *cobra.Command) (json.RawMessage, error) {
	data, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")

	if data != "" && file != "" {
		return nil, fmt.Errorf("%w: use either --data or --file", offline.ErrInvalidInput)
	}

	var raw []byte
	switch {
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		raw = b
	default:
		raw = []byte("{}")
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", offline.ErrInvalidInput)
	}
	return raw, nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	entityType, id := args[0], args[1]

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("delete", err)
	}
	defer closeFn()

	if err := svc.DeleteEntity(cmd.Context(), entityType, id); err != nil {
		return trackCLIError("delete", err)
	}

	telemetryClient.TrackEntityDeleted(entityType)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s %s\n", entityType, id, mutedStyle.Render("(queued for sync)"))
	return nil
}
