// Package prompts provides interactive CLI prompt components using charmbracelet/huh.
package prompts

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// ResetDescription explains what a queue reset discards.
const ResetDescription = "Local records are kept but their pending changes will never reach the sync service."

// ResetTitle returns the confirmation title for dropping n queued items.
func ResetTitle(n int) string {
	word := "item"
	if n != 1 {
		word = "items"
	}
	return fmt.Sprintf("Drop %d queued %s?", n, word)
}

// BuildConfirm creates the yes/no field used by Confirm.
func BuildConfirm(title, description string, value *bool) *huh.Confirm {
	return huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Drop").
		Negative("Keep").
		Value(value)
}

// Confirm shows an interactive yes/no prompt. Defaults to no.
func Confirm(title, description string) (bool, error) {
	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(BuildConfirm(title, description, &confirmed)),
	)

	if err := form.Run(); err != nil {
		return false, err
	}

	return confirmed, nil
}
