package reviews

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/warden/pkg/ledger"
)

// OutputFormat selects how List renders reviews.
type OutputFormat string

const (
	// OutputFormatDefault is a human-readable table.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL is one JSON object per line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Filter narrows the listed reviews. Empty fields match everything.
type Filter struct {
	Category string
	Status   string // open, closed or needs-migration

	// Bounds on UpdatedAtMs; zero leaves that end open.
	SinceMs int64
	UntilMs int64
}

func (f *Filter) matches(r *ledger.Review) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Status != "" && r.Status() != f.Status {
		return false
	}
	if f.SinceMs > 0 && r.UpdatedAtMs < f.SinceMs {
		return false
	}
	if f.UntilMs > 0 && r.UpdatedAtMs > f.UntilMs {
		return false
	}
	return true
}

// List reads every review mirrored for the client's instance and writes the ones
// matching filter in the requested format. Order is category then user id.
func List(ctx context.Context, client *ledger.Client, format OutputFormat, filter *Filter, w io.Writer) error {
	all, err := client.ListReviews(ctx)
	if err != nil {
		return err
	}

	selected := all[:0]
	for _, r := range all {
		if filter != nil && !filter.matches(r) {
			continue
		}
		selected = append(selected, r)
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, selected, client.Instance())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, selected); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}
