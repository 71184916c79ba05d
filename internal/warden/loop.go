package warden

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/platform"
	"github.com/google/uuid"
)

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	ID       string
	Skipped  bool
	Reviews  int
	Dropped  int
	Flagged  int
	Migrated int
	Renamed  int
	Synced   int // reviews whose membership changed
	Failed   int
	Duration time.Duration
}

// beginCycle marks a cycle as running. A cycle still marked after the configured bound is
// assumed stuck and its flag is cleared.
func (e *Engine) beginCycle() (uint64, bool) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if e.cycleRunning {
		if e.now().Sub(e.cycleStarted) < e.cfg.Timings.ReconcileCycleBound {
			return 0, false
		}
		e.logger.Warn("reconcile_cycle_reset", "stuck_cycle", e.cycleID, "started", e.cycleStarted)
	}
	e.cycleID++
	e.cycleRunning = true
	e.cycleStarted = e.now()
	return e.cycleID, true
}

// endCycle clears the flag unless a newer cycle has taken it over.
func (e *Engine) endCycle(id uint64) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if e.cycleID == id {
		e.cycleRunning = false
	}
}

// RunCycle re-derives the desired state of every known review and repairs drift. A cycle
// is skipped while the previous one is still running. One review's failure never stops
// the cycle.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	id, ok := e.beginCycle()
	if !ok {
		e.metrics.CycleSkipped()
		e.logger.Info("reconcile_cycle_skipped")
		return CycleReport{Skipped: true}
	}
	defer e.endCycle(id)

	report := CycleReport{ID: uuid.NewString()}
	log := e.logger.With("cycle_id", report.ID)
	start := e.now()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timings.ReconcileCycleBound)
	defer cancel()

	members, err := e.platform.Members(ctx)
	if err != nil {
		log.Warn("reconcile_members_failed", "error", err)
		members = nil
	}

	records := e.registry.Snapshot()
	report.Reviews = len(records)
	for _, rec := range records {
		if ctx.Err() != nil {
			log.Warn("reconcile_cycle_timeout", "remaining", report.Reviews-report.Dropped-report.Failed)
			break
		}
		e.reconcileOne(ctx, rec.UserID, members, &report)
	}

	report.Duration = e.now().Sub(start)
	e.metrics.SetReviews(e.registry.Len())
	e.metrics.ObserveCycle(report.Duration)
	log.Info("reconcile_cycle_complete", "reviews", report.Reviews, "dropped", report.Dropped,
		"flagged", report.Flagged, "migrated", report.Migrated, "renamed", report.Renamed,
		"synced", report.Synced, "failed", report.Failed, "duration_ms", report.Duration.Milliseconds())
	e.refreshAll()
	return report
}

func (e *Engine) reconcileOne(ctx context.Context, uid string, members []platform.Member, report *CycleReport) {
	unlock, err := e.locks.Lock(ctx, uid)
	if err != nil {
		report.Failed++
		return
	}
	defer unlock()

	r, err := e.ctl.Repair(ctx, uid, lifecycle.RepairOptions{FullSync: true, Members: members})
	switch {
	case errors.Is(err, lifecycle.ErrOperationPending), errors.Is(err, lifecycle.ErrNoReview):
		return
	case err != nil:
		report.Failed++
		e.logger.Warn("reconcile_review_failed", "user_id", uid, "error", err)
		return
	}
	switch r.Outcome {
	case lifecycle.RepairDropped:
		report.Dropped++
	case lifecycle.RepairMigrationFlagged:
		report.Flagged++
	case lifecycle.RepairMigrated:
		report.Migrated++
	}
	if r.Rename.Renamed {
		report.Renamed++
	}
	if r.Sync.Changed() || r.Rename.Sync.Changed() {
		report.Synced++
	}
}

// SweepReport summarises an administrative sweep.
type SweepReport struct {
	DryRun  bool
	Checked int
	Closed  []string // owners whose reviews were (or would be) closed
	Failed  []string
}

// Sweep closes every open review whose owner no longer holds a guild role. Exempt members
// are skipped, and owners who left the guild are closed too. Closes are paced to respect
// platform rate limits. With dryRun nothing is changed.
func (e *Engine) Sweep(ctx context.Context, dryRun bool) (SweepReport, error) {
	members, err := e.platform.Members(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to fetch members: %w", err)
	}
	byID := make(map[string]platform.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	report := SweepReport{DryRun: dryRun}
	for _, rec := range e.registry.Snapshot() {
		if !rec.Open() {
			continue
		}
		report.Checked++
		m, present := byID[rec.UserID]
		if present && (e.classifier.HasGuildRole(m.Roles) || e.classifier.IsExempt(m.Roles)) {
			continue
		}
		if dryRun {
			report.Closed = append(report.Closed, rec.UserID)
			continue
		}
		if err := e.sweepLimiter.Wait(ctx); err != nil {
			return report, err
		}
		note := fmt.Sprintf("Closed: <@%s> no longer holds a guild role.", rec.UserID)
		if _, err := e.ctl.CloseAs(ctx, rec.UserID, note); err != nil {
			e.logger.Warn("sweep_close_failed", "user_id", rec.UserID, "error", err)
			report.Failed = append(report.Failed, rec.UserID)
			continue
		}
		report.Closed = append(report.Closed, rec.UserID)
	}
	e.logger.Info("guild_sweep_complete", "dry_run", dryRun, "checked", report.Checked,
		"closed", len(report.Closed), "failed", len(report.Failed))
	return report, nil
}
