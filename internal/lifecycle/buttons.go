package lifecycle

import "strings"

// Button custom ids.
const (
	OpenButtonID       = "open_review"
	closePrefix        = "close_review_"
	updatePrefix       = "update_thread_"
	cancelUpdatePrefix = "cancel_update_"
)

// CloseButtonID is the custom id of a thread's close button.
func CloseButtonID(userID string) string { return closePrefix + userID }

// UpdateButtonID is the custom id of a migration prompt's confirm button.
func UpdateButtonID(from, to, userID string) string {
	return updatePrefix + from + "_" + to + "_" + userID
}

// CancelUpdateButtonID is the custom id of a migration prompt's cancel button.
func CancelUpdateButtonID(userID string) string { return cancelUpdatePrefix + userID }

// ButtonAction is a parsed button custom id.
type ButtonAction struct {
	Kind   string // "open", "close", "update", "cancel"
	UserID string
	From   string
	To     string
}

// ParseButton parses a custom id. Category names contain no underscores, so the update
// id splits unambiguously.
func ParseButton(customID string) (ButtonAction, bool) {
	switch {
	case customID == OpenButtonID:
		return ButtonAction{Kind: "open"}, true
	case strings.HasPrefix(customID, closePrefix):
		uid := strings.TrimPrefix(customID, closePrefix)
		return ButtonAction{Kind: "close", UserID: uid}, uid != ""
	case strings.HasPrefix(customID, cancelUpdatePrefix):
		uid := strings.TrimPrefix(customID, cancelUpdatePrefix)
		return ButtonAction{Kind: "cancel", UserID: uid}, uid != ""
	case strings.HasPrefix(customID, updatePrefix):
		parts := strings.Split(strings.TrimPrefix(customID, updatePrefix), "_")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return ButtonAction{}, false
		}
		return ButtonAction{Kind: "update", From: parts[0], To: parts[1], UserID: parts[2]}, true
	}
	return ButtonAction{}, false
}
