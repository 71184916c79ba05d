// Package reconcile converges a review thread's membership to the set of users entitled to it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dyluth/warden/internal/metrics"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
	"golang.org/x/sync/errgroup"
)

// Target identifies a thread and the (owner, category, bucket) it belongs to.
type Target struct {
	ThreadID string
	OwnerID  string
	Category roles.Category
	Bucket   roles.Bucket
}

// Plan is the minimal set of member changes.
type Plan struct {
	Add    []string
	Remove []string
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// Failure is a member operation that did not succeed.
type Failure struct {
	UserID string
	Op     string
	Err    error
}

// Result summarizes a Sync for user-facing reporting.
type Result struct {
	Added   []string
	Removed []string
	Failed  []Failure
}

// OK reports whether every operation succeeded.
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// Changed reports whether any operation succeeded.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Desired returns the owner plus every member holding both the category lead role and the
// bucket's specific lead role.
func Desired(t Target, members []platform.Member) map[string]struct{} {
	want := map[string]struct{}{t.OwnerID: {}}
	for _, m := range members {
		if m.Bot {
			continue
		}
		if m.Roles.Has(t.Category.LeadRoleID) && m.Roles.Has(t.Bucket.LeadRoleID) {
			want[m.ID] = struct{}{}
		}
	}
	return want
}

// Diff computes the changes that turn actual into desired. The owner and protected ids are
// never removed.
func Diff(actual []string, desired map[string]struct{}, ownerID string, protected ...string) Plan {
	have := make(map[string]struct{}, len(actual))
	for _, id := range actual {
		have[id] = struct{}{}
	}
	keep := make(map[string]struct{}, len(protected)+1)
	keep[ownerID] = struct{}{}
	for _, id := range protected {
		keep[id] = struct{}{}
	}

	var p Plan
	for id := range desired {
		if _, ok := have[id]; !ok {
			p.Add = append(p.Add, id)
		}
	}
	for id := range have {
		if _, ok := desired[id]; ok {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		p.Remove = append(p.Remove, id)
	}
	sort.Strings(p.Add)
	sort.Strings(p.Remove)
	return p
}

// Reconciler applies membership plans.
type Reconciler struct {
	platform platform.Platform
	retry    retry.Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	limit    int
}

// New creates a Reconciler. limit bounds concurrent member operations.
func New(p platform.Platform, policy retry.Policy, m *metrics.Metrics, logger *slog.Logger, limit int) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if limit < 1 {
		limit = 1
	}
	return &Reconciler{platform: p, retry: policy, metrics: m, logger: logger.With("component", "reconcile"), limit: limit}
}

// Sync fetches the guild member list and converges the thread.
func (r *Reconciler) Sync(ctx context.Context, t Target) (Result, error) {
	members, err := r.platform.Members(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list guild members: %w", err)
	}
	return r.SyncWith(ctx, t, members)
}

// SyncWith converges the thread against an existing member snapshot. Each add or remove
// is independent; failures are collected in the Result and only a failure to read the
// thread's current members is returned as an error.
func (r *Reconciler) SyncWith(ctx context.Context, t Target, members []platform.Member) (Result, error) {
	actual, err := retry.Value(ctx, r.retry, "thread_members", func(ctx context.Context) ([]string, error) {
		return r.platform.ThreadMembers(ctx, t.ThreadID)
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch members of thread %s: %w", t.ThreadID, err)
	}

	plan := Diff(actual, Desired(t, members), t.OwnerID, r.platform.SelfID())
	if plan.Empty() {
		return Result{}, nil
	}
	return r.Apply(ctx, t.ThreadID, plan), nil
}

// Apply issues the plan's operations concurrently. It never returns early on failure.
func (r *Reconciler) Apply(ctx context.Context, threadID string, plan Plan) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	run := func(op, userID string, call func(context.Context) error) {
		g.Go(func() error {
			err := r.retry.Do(gctx, op, call)
			r.metrics.MemberOp(op, err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("thread_member_"+op+"_failed", "thread_id", threadID, "user_id", userID, "error", err)
				res.Failed = append(res.Failed, Failure{UserID: userID, Op: op, Err: err})
				return nil
			}
			if op == "add" {
				r.logger.Info("thread_member_added", "thread_id", threadID, "user_id", userID)
				res.Added = append(res.Added, userID)
			} else {
				r.logger.Info("thread_member_removed", "thread_id", threadID, "user_id", userID)
				res.Removed = append(res.Removed, userID)
			}
			return nil
		})
	}

	for _, id := range plan.Remove {
		id := id
		run("remove", id, func(ctx context.Context) error {
			return r.platform.RemoveThreadMember(ctx, threadID, id)
		})
	}
	for _, id := range plan.Add {
		id := id
		run("add", id, func(ctx context.Context) error {
			return r.platform.AddThreadMember(ctx, threadID, id)
		})
	}
	_ = g.Wait()

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].UserID < res.Failed[j].UserID })
	return res
}
