// Package lifecycle implements the review thread state machine: open, reopen, migrate,
// rename, close and repair.
//
// Every public operation takes the user's PendingOperation marker for its duration, so at
// most one lifecycle operation runs per user. Markers are released on every return path and
// lapse on their own after the configured TTL.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyluth/warden/internal/guard"
	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/metrics"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
)

var (
	ErrOperationPending  = errors.New("a thread operation is already in progress")
	ErrNameUnset         = errors.New("in-game name not set")
	ErrNameLookupFailed  = errors.New("in-game name lookup failed")
	ErrNoReview          = errors.New("no review on record")
	ErrThreadGone        = errors.New("review thread no longer exists")
	ErrForbidden         = errors.New("not permitted")
	ErrCategoryChanged   = errors.New("category changed")
	ErrNoMigrationNeeded = errors.New("review is already in the target category")
	ErrNotThreadOwner    = errors.New("only the thread owner can do this")
)

// Names resolves in-game display names.
type Names interface {
	Resolve(ctx context.Context, userID string) identity.Result
}

// Options configures a Controller.
type Options struct {
	AdminUserID string
	AutoMigrate bool
	PendingTTL  time.Duration
	InFlightTTL time.Duration
	Retry       retry.Policy
}

// Controller drives review threads through their lifecycle.
type Controller struct {
	platform   platform.Platform
	classifier *roles.Classifier
	registry   registry.Store
	names      Names
	reconciler *reconcile.Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opts       Options

	pending  *guard.ExpiringSet // user ids
	inflight *guard.ExpiringSet // thread ids deleted by us
	prompted *guard.ExpiringSet // user ids with an outstanding migration prompt

	now func() time.Time
}

// New creates a Controller.
func New(p platform.Platform, c *roles.Classifier, reg registry.Store, names Names, rec *reconcile.Reconciler,
	m *metrics.Metrics, logger *slog.Logger, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		platform:   p,
		classifier: c,
		registry:   reg,
		names:      names,
		reconciler: rec,
		metrics:    m,
		logger:     logger.With("component", "lifecycle"),
		opts:       opts,
		pending:    guard.NewExpiringSet(opts.PendingTTL),
		inflight:   guard.NewExpiringSet(opts.InFlightTTL),
		prompted:   guard.NewExpiringSet(opts.PendingTTL),
		now:        time.Now,
	}
}

// WithClock replaces the controller's time source and that of its marker sets.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	c.pending.WithClock(now)
	c.inflight.WithClock(now)
	c.prompted.WithClock(now)
	return c
}

// Pending reports whether a lifecycle operation holds the user's marker.
func (c *Controller) Pending(userID string) bool {
	return c.pending.Contains(userID)
}

// DeletionInFlight reports whether threadID is being deleted by the controller.
func (c *Controller) DeletionInFlight(threadID string) bool {
	return c.inflight.Contains(threadID)
}

// Registry exposes the controller's registry.
func (c *Controller) Registry() registry.Store {
	return c.registry
}

// Classifier exposes the controller's classifier.
func (c *Controller) Classifier() *roles.Classifier {
	return c.classifier
}

func (c *Controller) acquire(userID string) (func(), error) {
	release, ok := c.pending.Acquire(userID)
	if !ok {
		return nil, ErrOperationPending
	}
	return release, nil
}

func (c *Controller) member(ctx context.Context, userID string) (platform.Member, error) {
	return retry.Value(ctx, c.opts.Retry, "fetch_member", func(ctx context.Context) (platform.Member, error) {
		return c.platform.Member(ctx, userID)
	})
}

func (c *Controller) thread(ctx context.Context, threadID string) (platform.Thread, error) {
	return retry.Value(ctx, c.opts.Retry, "fetch_thread", func(ctx context.Context) (platform.Thread, error) {
		return c.platform.Thread(ctx, threadID)
	})
}

func (c *Controller) send(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	return retry.Value(ctx, c.opts.Retry, "send_message", func(ctx context.Context) (string, error) {
		return c.platform.Send(ctx, channelID, msg)
	})
}

// deleteThread deletes a thread the controller owns. The thread is marked in flight first
// so the deletion event is recognised as planned. A thread that is already gone counts as
// deleted.
func (c *Controller) deleteThread(ctx context.Context, threadID string) error {
	c.inflight.Add(threadID)
	err := c.opts.Retry.Do(ctx, "delete_thread", func(ctx context.Context) error {
		return c.platform.DeleteThread(ctx, threadID)
	})
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		c.inflight.Remove(threadID)
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

// purge drops a record whose thread has vanished.
func (c *Controller) purge(rec registry.Record, reason string) {
	if c.registry.DeleteIfThread(rec.UserID, rec.ThreadID) {
		c.logger.Warn("review_purged", "user_id", rec.UserID, "thread_id", rec.ThreadID, "reason", reason)
	}
}

// displayName resolves the title name. Unset falls back to the platform display name;
// a failed lookup is returned as ErrNameLookupFailed.
func (c *Controller) displayName(ctx context.Context, m platform.Member) (string, error) {
	res := c.names.Resolve(ctx, m.ID)
	if res.State == identity.StateFailed {
		return "", fmt.Errorf("%w: %v", ErrNameLookupFailed, res.Err)
	}
	return res.Or(m.DisplayName), nil
}

func (c *Controller) target(rec registry.Record, class roles.Classification) reconcile.Target {
	return reconcile.Target{ThreadID: rec.ThreadID, OwnerID: rec.UserID, Category: class.Category, Bucket: class.Bucket}
}

func closeButton(userID string) platform.Button {
	return platform.Button{CustomID: CloseButtonID(userID), Label: "Close Review", Style: platform.ButtonDanger}
}
