package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/offline"
)

var photoCmd = &cobra.Command{
	Use:   "photo <parent-id> <file>",
	Short: "Capture a photo for a record and queue its upload",
	Long: `Store a photo locally, attached to a parent record, and queue its upload.
The image bytes stay in the local store until the sync service has
accepted them.

Examples:
  fieldsync photo 6f1c... ./beam4.jpg --caption "crack, east side"
  fieldsync photo c-12 ./note.png --parent-type comment`,
	Args: cobra.ExactArgs(2),
	RunE: runPhoto,
}

func init() {
	photoCmd.Flags().String("parent-type", "", "Parent record type (default: inspection)")
	photoCmd.Flags().String("caption", "", "Photo caption")
	photoCmd.Flags().String("mime", "", "MIME type (detected from content when omitted)")
}

func runPhoto(cmd *cobra.Command, args []string) error {
	parentID, file := args[0], args[1]
	parentType, _ := cmd.Flags().GetString("parent-type")
	caption, _ := cmd.Flags().GetString("caption")
	mimeType, _ := cmd.Flags().GetString("mime")

	data, err := os.ReadFile(file)
	if err != nil {
		return trackCLIError("photo", fmt.Errorf("read photo: %w", err))
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("photo", err)
	}
	defer closeFn()

	photo, err := svc.SavePhoto(cmd.Context(), offline.PhotoInput{
		ParentType: parentType,
		ParentID:   parentID,
		MIMEType:   mimeType,
		Data:       data,
		Caption:    caption,
	})
	if err != nil {
		return trackCLIError("photo", err)
	}

	telemetryClient.TrackPhotoCaptured(photo.Size)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Captured photo %s (%s, %d bytes) for %s/%s %s\n",
		photo.ID, photo.MIMEType, photo.Size, photo.ParentType, photo.ParentID,
		mutedStyle.Render("(queued for upload)"))
	return nil
}
