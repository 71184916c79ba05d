package reviews

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/warden/pkg/ledger"
)

// FormatTable writes reviews as an aligned table and returns how many rows it wrote.
func FormatTable(w io.Writer, reviews []*ledger.Review, instanceName string) int {
	if len(reviews) == 0 {
		fmt.Fprintf(w, "No reviews found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Reviews for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-20s %-20s %-12s %-16s %-9s\n",
		"USER", "THREAD", "CATEGORY", "STATUS", "UPDATED")
	fmt.Fprintf(w, "%-20s %-20s %-12s %-16s %-9s\n",
		"--------------------", "--------------------", "------------", "----------------", "---------")

	for _, r := range reviews {
		fmt.Fprintf(w, "%-20s %-20s %-12s %-16s %-9s\n",
			r.UserID,
			r.ThreadID,
			formatCategory(r.Category),
			formatStatus(r),
			formatAge(r.UpdatedAtMs),
		)
	}

	noun := "review"
	if len(reviews) != 1 {
		noun = "reviews"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(reviews), noun)

	return len(reviews)
}

// FormatJSONL writes one compact JSON object per review.
func FormatJSONL(w io.Writer, reviews []*ledger.Review) error {
	for _, r := range reviews {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal review to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one review as indented JSON.
func FormatSingleJSON(w io.Writer, r *ledger.Review) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal review to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatCategory(name string) string {
	if len(name) > 12 {
		return name[:9] + "..."
	}
	return name
}

// formatStatus shows the target category for reviews awaiting migration.
func formatStatus(r *ledger.Review) string {
	if r.PendingCategory != "" {
		return "→ " + formatCategory(r.PendingCategory)
	}
	return r.Status()
}

// formatAge renders a millisecond timestamp as "5m ago" and similar.
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
