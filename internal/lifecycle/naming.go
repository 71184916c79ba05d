package lifecycle

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxTitleLength is the platform's thread name limit.
const MaxTitleLength = 100

var ownerSuffix = regexp.MustCompile(`\[(\d+)\]$`)

// FormatTitle builds the canonical thread title "{name} - {bucket} Review [{userID}]".
// The display name is truncated so the owner suffix always survives.
func FormatTitle(displayName, bucketName, userID string) string {
	if displayName == "" {
		displayName = "Unknown"
	}
	rest := fmt.Sprintf(" - %s Review [%s]", bucketName, userID)
	budget := MaxTitleLength - utf8.RuneCountInString(rest)
	if budget < 1 {
		budget = 1
	}
	if utf8.RuneCountInString(displayName) > budget {
		displayName = string([]rune(displayName)[:budget])
	}
	return displayName + rest
}

// ParseOwner extracts the owner's user id from a canonical title suffix.
func ParseOwner(title string) (string, bool) {
	m := ownerSuffix.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[1], true
}
