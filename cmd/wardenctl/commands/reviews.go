package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dyluth/warden/internal/printer"
	"github.com/dyluth/warden/internal/reviews"
	"github.com/dyluth/warden/internal/timespec"
	"github.com/dyluth/warden/internal/watch"
	"github.com/spf13/cobra"
)

var (
	reviewsOutputFormat string
	reviewsCategory     string
	reviewsStatus       string
	reviewsWait         time.Duration
	reviewsSince        string
	reviewsUntil        string
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews [USER_ID]",
	Short: "List review threads from the ledger",
	Long: `Inspect the review ledger in list or get mode.

List Mode (no USER_ID):
  Shows every review matching the filters as a table or JSONL stream.

Get Mode (with USER_ID):
  Shows the member's review as pretty-printed JSON. With --wait, polls
  until the review appears (useful right after clicking Open Review).

Examples:
  wardenctl reviews
  wardenctl reviews --category=tank --status=open
  wardenctl reviews --status=needs-migration --until=7d
  wardenctl reviews --output=jsonl | jq -r '.thread_id'
  wardenctl reviews 123456789012345678 --wait=30s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReviews,
}

func init() {
	reviewsCmd.Flags().StringVarP(&reviewsOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	reviewsCmd.Flags().StringVar(&reviewsCategory, "category", "", "Only reviews in this category")
	reviewsCmd.Flags().StringVar(&reviewsStatus, "status", "", "Only reviews with this status: open, closed or needs-migration")
	reviewsCmd.Flags().StringVar(&reviewsSince, "since", "", "Only reviews updated after this time (duration, days like 7d, or RFC3339)")
	reviewsCmd.Flags().StringVar(&reviewsUntil, "until", "", "Only reviews updated before this time (duration, days like 7d, or RFC3339)")
	reviewsCmd.Flags().DurationVar(&reviewsWait, "wait", 0, "In get mode, wait up to this long for the review to appear")
	rootCmd.AddCommand(reviewsCmd)
}

func runReviews(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var format reviews.OutputFormat
	switch reviewsOutputFormat {
	case "default":
		format = reviews.OutputFormatDefault
	case "jsonl":
		format = reviews.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", reviewsOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	switch reviewsStatus {
	case "", "open", "closed", "needs-migration":
	default:
		return printer.Error(
			"invalid status",
			fmt.Sprintf("Unknown status: %s", reviewsStatus),
			[]string{"Valid statuses: open, closed, needs-migration"},
		)
	}

	sinceMs, untilMs, err := timespec.ParseRange(reviewsSince, reviewsUntil)
	if err != nil {
		return printer.Error("invalid time range", err.Error(), []string{"Use durations like 6h or 7d, or RFC3339 timestamps"})
	}

	client, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(args) == 0 {
		filter := &reviews.Filter{
			Category: reviewsCategory,
			Status:   reviewsStatus,
			SinceMs:  sinceMs,
			UntilMs:  untilMs,
		}
		if err := reviews.List(ctx, client, format, filter, out); err != nil {
			return printer.Error("failed to list reviews", err.Error(), nil)
		}
		return nil
	}

	userID := args[0]
	if reviewsWait > 0 {
		fmt.Fprintf(os.Stderr, "Waiting up to %s for a review for %s...\n", reviewsWait, userID)
		if _, err := watch.PollForReview(ctx, client, userID, reviewsWait); err != nil {
			return printer.Error(
				"review not found",
				err.Error(),
				[]string{"Check the member clicked Open Review and that warden is running"},
			)
		}
	}

	if err := reviews.Get(ctx, client, userID, out); err != nil {
		if reviews.IsNotFound(err) {
			return printer.Error(
				"review not found",
				err.Error(),
				[]string{
					"Check the user id",
					fmt.Sprintf("List reviews:\n     wardenctl reviews --instance %s", instanceName),
				},
			)
		}
		return printer.Error("failed to fetch review", err.Error(), nil)
	}
	return nil
}
