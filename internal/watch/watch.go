package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/warden/pkg/ledger"
)

// OutputFormat selects how Stream renders events.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// PollForReview polls the ledger every 200ms until userID has a review, or timeout.
func PollForReview(ctx context.Context, client *ledger.Client, userID string, timeout time.Duration) (*ledger.Review, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for review after %v", timeout)

		case <-ticker.C:
			r, err := client.GetReview(ctx, userID)
			if err != nil {
				if ledger.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query for review: %w", err)
			}
			return r, nil
		}
	}
}

// Stream writes review events from sub until ctx is done or the subscription ends.
// Decode errors are written inline and do not stop the stream.
func Stream(ctx context.Context, sub *ledger.Subscription, format OutputFormat, w io.Writer) error {
	events, errs := sub.Events(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev, format); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)
		}
	}
}

func writeEvent(w io.Writer, ev *ledger.Event, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	ts := "--:--:--"
	if ev.AtMs > 0 {
		ts = time.UnixMilli(ev.AtMs).Format("15:04:05")
	}
	r := ev.Review
	switch ev.Kind {
	case ledger.EventRemoved:
		_, err := fmt.Fprintf(w, "[%s] 🗑️  review removed: user=%s thread=%s\n", ts, r.UserID, r.ThreadID)
		return err
	default:
		_, err := fmt.Fprintf(w, "[%s] ✨ review %s: user=%s thread=%s category=%s\n",
			ts, r.Status(), r.UserID, r.ThreadID, r.Category)
		return err
	}
}
