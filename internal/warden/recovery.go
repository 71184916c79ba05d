package warden

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
	"golang.org/x/sync/errgroup"
)

// Duplicate is a user with more than one review thread found during recovery.
type Duplicate struct {
	UserID   string
	Kept     string
	Ignored  []string
	Category string
}

// RecoveryReport summarises a registry rebuild.
type RecoveryReport struct {
	Threads    int
	Recovered  int
	Unparsed   int
	Duplicates []Duplicate
}

// Startup runs once before the periodic loop: lead roles are synced, the open-review
// button is ensured, the registry is rebuilt from the category channels and an initial
// validation pass runs.
func (e *Engine) Startup(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("startup_begin")
	start := e.now()

	if err := e.SyncAllLeadRoles(ctx); err != nil {
		e.logger.Warn("lead_role_sync_failed", "error", err)
	}
	if err := e.ensureOpenButton(ctx); err != nil {
		e.logger.Warn("open_button_failed", "error", err)
	}

	report, err := e.RebuildRegistry(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild registry: %w", err)
	}
	if len(report.Duplicates) > 0 {
		e.notifyDuplicates(ctx, report.Duplicates)
	}
	if e.mirror != nil {
		if err := e.mirror.replace(ctx, e.registry.Snapshot()); err != nil {
			e.logger.Warn("ledger_replace_failed", "error", err)
		}
	}

	e.RunCycle(ctx)
	e.refreshAll()

	e.logger.Info("startup_complete", "reviews", e.registry.Len(), "duplicates", len(report.Duplicates),
		"duration_ms", e.now().Sub(start).Milliseconds())
	return nil
}

// RebuildRegistry scans every category channel (active and archived threads) and records
// one review per owner parsed from the canonical title suffix. When an owner has several
// threads the open one is kept, then the newest.
func (e *Engine) RebuildRegistry(ctx context.Context) (RecoveryReport, error) {
	members, err := e.platform.Members(ctx)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("failed to fetch members: %w", err)
	}
	byID := make(map[string]platform.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	type found struct {
		thread platform.Thread
		cat    roles.Category
	}
	var (
		mu      sync.Mutex
		byOwner = make(map[string][]found)
		report  RecoveryReport
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range e.classifier.Categories() {
		g.Go(func() error {
			threads, err := e.platform.ListThreads(gctx, cat.ChannelID)
			if err != nil {
				return fmt.Errorf("failed to list threads of %s: %w", cat.Name, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, th := range threads {
				report.Threads++
				owner, ok := lifecycle.ParseOwner(th.Name)
				if !ok {
					report.Unparsed++
					continue
				}
				byOwner[owner] = append(byOwner[owner], found{thread: th, cat: cat})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	owners := make([]string, 0, len(byOwner))
	for id := range byOwner {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		candidates := byOwner[owner]
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i].thread, candidates[j].thread
			if open(a) != open(b) {
				return open(a)
			}
			return a.CreatedAt.After(b.CreatedAt)
		})
		keep := candidates[0]
		if len(candidates) > 1 {
			d := Duplicate{UserID: owner, Kept: keep.thread.ID, Category: keep.cat.Name}
			for _, c := range candidates[1:] {
				d.Ignored = append(d.Ignored, c.thread.ID)
			}
			report.Duplicates = append(report.Duplicates, d)
			e.logger.Warn("duplicate_reviews", "user_id", owner, "kept", d.Kept, "ignored", d.Ignored)
		}

		rec := registry.Record{
			UserID:     owner,
			ThreadID:   keep.thread.ID,
			Category:   keep.cat.Name,
			ChannelID:  keep.cat.ChannelID,
			LeadRoleID: keep.cat.LeadRoleID,
			Archived:   keep.thread.Archived,
			Locked:     keep.thread.Locked,
			CreatedAt:  keep.thread.CreatedAt,
		}
		if keep.thread.Archived {
			rec.ArchivedAt = e.now()
		}
		if m, ok := byID[owner]; ok {
			if class, err := e.classifier.Classify(m.Roles); err == nil && class.Category.Name == keep.cat.Name {
				rec.BucketRoleID = class.Bucket.RoleID
			}
		}
		e.registry.Put(rec)
		report.Recovered++
	}

	e.metrics.SetReviews(e.registry.Len())
	e.logger.Info("registry_rebuilt", "threads", report.Threads, "recovered", report.Recovered,
		"unparsed", report.Unparsed, "duplicates", len(report.Duplicates))
	return report, nil
}

func open(t platform.Thread) bool {
	return !t.Archived && !t.Locked
}

func (e *Engine) notifyDuplicates(ctx context.Context, dups []Duplicate) {
	channel := e.cfg.Channels.Notifications
	if channel == "" {
		return
	}
	var b strings.Builder
	b.WriteString("⚠️ Duplicate review threads found. Please check which one should be kept:\n")
	for _, d := range dups {
		ignored := make([]string, len(d.Ignored))
		for i, id := range d.Ignored {
			ignored[i] = "<#" + id + ">"
		}
		fmt.Fprintf(&b, "• <@%s> (%s): tracking <#%s>, also found %s\n", d.UserID, d.Category, d.Kept, strings.Join(ignored, ", "))
	}
	for _, chunk := range chunkLines(b.String(), maxReportChunk) {
		if _, err := e.platform.Send(ctx, channel, platform.OutgoingMessage{Content: chunk, SuppressMentions: true}); err != nil {
			e.logger.Warn("duplicate_notify_failed", "error", err)
			return
		}
	}
}

// ensureOpenButton posts the open-review button unless a recent message already carries it.
func (e *Engine) ensureOpenButton(ctx context.Context) error {
	channel := e.cfg.Channels.OpenReview
	if channel == "" {
		return nil
	}
	recent, err := e.platform.Messages(ctx, channel, 20, "")
	if err != nil {
		return fmt.Errorf("failed to read open-review channel: %w", err)
	}
	for _, m := range recent {
		if m.AuthorID != e.platform.SelfID() {
			continue
		}
		for _, id := range m.Components {
			if id == lifecycle.OpenButtonID {
				return nil
			}
		}
	}

	_, err = e.platform.Send(ctx, channel, platform.OutgoingMessage{
		Content: "Click the button below to open a review thread:",
		Buttons: []platform.Button{{CustomID: lifecycle.OpenButtonID, Label: "Open Review", Style: platform.ButtonPrimary}},
	})
	if err != nil {
		return fmt.Errorf("failed to post open-review button: %w", err)
	}
	e.logger.Info("open_button_posted", "channel_id", channel)
	return nil
}
