package ledger

import (
	"fmt"
	"strconv"
)

// Review is the operator view of one review thread.
type Review struct {
	UserID          string `json:"user_id"`
	ThreadID        string `json:"thread_id"`
	Category        string `json:"category"`
	ChannelID       string `json:"channel_id"`
	BucketRoleID    string `json:"bucket_role_id,omitempty"`
	PendingCategory string `json:"pending_category,omitempty"` // set while a migration awaits confirmation
	Archived        bool   `json:"archived"`
	Locked          bool   `json:"locked"`
	ArchivedAtMs    int64  `json:"archived_at_ms,omitempty"`
	UpdatedAtMs     int64  `json:"updated_at_ms"`
}

// Validate checks that the review has the fields every consumer relies on.
func (r *Review) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if _, err := strconv.ParseUint(r.UserID, 10, 64); err != nil {
		return fmt.Errorf("user_id must be a snowflake id: %q", r.UserID)
	}
	if r.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if r.Category == "" {
		return fmt.Errorf("category is required")
	}
	return nil
}

// Status is a one-word summary used by the CLI.
func (r *Review) Status() string {
	switch {
	case r.PendingCategory != "":
		return "needs-migration"
	case r.Archived || r.Locked:
		return "closed"
	default:
		return "open"
	}
}

// EventKind distinguishes review events.
type EventKind string

const (
	EventUpserted EventKind = "upserted"
	EventRemoved  EventKind = "removed"
)

// Event is published on the review events channel for every ledger write.
type Event struct {
	Kind   EventKind `json:"kind"`
	Review Review    `json:"review"`
	AtMs   int64     `json:"at_ms"`
}
