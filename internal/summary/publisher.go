package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
	"golang.org/x/time/rate"
)

// scanDepth is how many recent channel messages are checked for stale summaries after a
// restart.
const scanDepth = 20

// Names resolves in-game display names.
type Names interface {
	Resolve(ctx context.Context, userID string) identity.Result
}

type posted struct {
	messageIDs  []string
	fingerprint []string
}

// Publisher keeps one summary per category channel up to date.
type Publisher struct {
	platform   platform.Platform
	classifier *roles.Classifier
	registry   registry.Store
	names      Names
	guildID    string
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex // serialises refreshes
	posted map[string]*posted
}

// NewPublisher creates a Publisher. limiter paces message sends and deletes; nil means
// unlimited.
func NewPublisher(p platform.Platform, c *roles.Classifier, reg registry.Store, names Names, guildID string,
	limiter *rate.Limiter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Publisher{
		platform:   p,
		classifier: c,
		registry:   reg,
		names:      names,
		guildID:    guildID,
		limiter:    limiter,
		logger:     logger.With("component", "summary"),
		now:        time.Now,
		posted:     make(map[string]*posted),
	}
}

// Entries builds the summary entries for a category from the registry and a guild
// member snapshot. Reviews whose owner name cannot be looked up are left out.
func (p *Publisher) Entries(ctx context.Context, category string, members map[string]platform.Member) []Entry {
	var entries []Entry
	for _, rec := range p.registry.ByCategory(category) {
		if !rec.Open() {
			continue
		}
		res := p.names.Resolve(ctx, rec.UserID)
		if res.State == identity.StateFailed {
			p.logger.Warn("summary_entry_skipped", "user_id", rec.UserID, "error", res.Err)
			continue
		}

		e := Entry{UserID: rec.UserID, ThreadID: rec.ThreadID, NeedsMigration: rec.PendingCategory != ""}
		m, ok := members[rec.UserID]
		if ok {
			e.Name = res.Or(m.DisplayName)
			e.InGuild = p.classifier.HasGuildRole(m.Roles)
		} else {
			e.Name = res.Or(fmt.Sprintf("<@%s>", rec.UserID))
		}

		if b, ok := p.classifier.Bucket(rec.BucketRoleID); ok && b.Category == category {
			e.Bucket, e.BucketIndex = b.Name, b.Index
		} else {
			e.NeedsMigration = true
		}
		entries = append(entries, e)
	}
	return entries
}

// Refresh re-renders the category summary and replaces the posted messages when the
// content changed. It reports whether anything was posted.
func (p *Publisher) Refresh(ctx context.Context, category string) (bool, error) {
	cat, ok := p.classifier.Category(category)
	if !ok {
		return false, fmt.Errorf("unknown category %q", category)
	}

	all, err := p.platform.Members(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch members: %w", err)
	}
	members := make(map[string]platform.Member, len(all))
	for _, m := range all {
		members[m.ID] = m
	}

	embeds := Render(p.guildID, cat.Name, p.Entries(ctx, cat.Name, members), p.now())
	fp := fingerprint(embeds)

	p.mu.Lock()
	defer p.mu.Unlock()

	prev, known := p.posted[cat.Name]
	if known && slices.Equal(prev.fingerprint, fp) {
		p.logger.Debug("summary_unchanged", "category", cat.Name)
		return false, nil
	}

	var stale []string
	if known {
		stale = prev.messageIDs
	} else {
		stale, err = p.scan(ctx, cat.ChannelID)
		if err != nil {
			return false, err
		}
	}
	for _, id := range stale {
		if err := p.limiter.Wait(ctx); err != nil {
			return false, err
		}
		if err := p.platform.DeleteMessage(ctx, cat.ChannelID, id); err != nil && !errors.Is(err, platform.ErrNotFound) {
			p.logger.Warn("summary_delete_failed", "category", cat.Name, "message_id", id, "error", err)
		}
	}

	next := &posted{fingerprint: fp}
	p.posted[cat.Name] = next
	for _, e := range embeds {
		if err := p.limiter.Wait(ctx); err != nil {
			return false, err
		}
		id, err := p.platform.Send(ctx, cat.ChannelID, platform.OutgoingMessage{Embeds: []platform.Embed{e}})
		if err != nil {
			// Force a full repost next time.
			next.fingerprint = nil
			return false, fmt.Errorf("failed to post %s summary: %w", cat.Name, err)
		}
		next.messageIDs = append(next.messageIDs, id)
	}
	p.logger.Info("summary_updated", "category", cat.Name, "messages", len(embeds))
	return true, nil
}

// scan finds summary messages posted before a restart.
func (p *Publisher) scan(ctx context.Context, channelID string) ([]string, error) {
	recent, err := p.platform.Messages(ctx, channelID, scanDepth, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read channel %s: %w", channelID, err)
	}
	var ids []string
	for _, m := range recent {
		if m.AuthorID == p.platform.SelfID() && m.Embeds > 0 && len(m.Components) == 0 {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func fingerprint(embeds []platform.Embed) []string {
	out := make([]string, len(embeds))
	for i, e := range embeds {
		out[i] = e.Title + "\x00" + e.Description
	}
	return out
}
