package warden

import (
	"context"
	"log/slog"
	"time"

	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/pkg/ledger"
)

// mirrorBuffer bounds the queue of registry changes waiting to be written to Redis.
const mirrorBuffer = 256

// mirror copies registry changes to the Redis ledger from a single goroutine, so writes
// are applied in change order and a slow Redis never blocks the registry.
type mirror struct {
	client  *ledger.Client
	changes chan registry.Change
	logger  *slog.Logger
}

func newMirror(client *ledger.Client, logger *slog.Logger) *mirror {
	return &mirror{
		client:  client,
		changes: make(chan registry.Change, mirrorBuffer),
		logger:  logger.With("component", "ledger"),
	}
}

// push queues a change. When the queue is full the change is dropped; the next full
// replace repairs the ledger.
func (m *mirror) push(c registry.Change) {
	select {
	case m.changes <- c:
	default:
		m.logger.Warn("ledger_change_dropped", "user_id", c.Record.UserID)
	}
}

func (m *mirror) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-m.changes:
			m.apply(ctx, c)
		}
	}
}

func (m *mirror) apply(ctx context.Context, c registry.Change) {
	var err error
	switch c.Kind {
	case registry.ChangeDelete:
		err = m.client.RemoveReview(ctx, c.Record.UserID)
	default:
		err = m.client.PutReview(ctx, toReview(c.Record))
	}
	if err != nil {
		m.logger.Warn("ledger_write_failed", "user_id", c.Record.UserID, "kind", c.Kind, "error", err)
	}
}

// replace overwrites the ledger with a registry snapshot.
func (m *mirror) replace(ctx context.Context, records []registry.Record) error {
	reviews := make([]*ledger.Review, 0, len(records))
	for _, r := range records {
		reviews = append(reviews, toReview(r))
	}
	return m.client.Replace(ctx, reviews)
}

func toReview(r registry.Record) *ledger.Review {
	return &ledger.Review{
		UserID:          r.UserID,
		ThreadID:        r.ThreadID,
		Category:        r.Category,
		ChannelID:       r.ChannelID,
		BucketRoleID:    r.BucketRoleID,
		PendingCategory: r.PendingCategory,
		Archived:        r.Archived,
		Locked:          r.Locked,
		ArchivedAtMs:    millis(r.ArchivedAt),
		UpdatedAtMs:     millis(r.UpdatedAt),
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
