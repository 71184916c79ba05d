// Package discord implements the platform contracts over a discordgo gateway session.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dyluth/warden/internal/platform"
)

const (
	// threadArchiveMinutes is the auto-archive duration of review threads (one week).
	threadArchiveMinutes = 10080
	memberPageSize       = 1000
	threadMemberPageSize = 100
	archivedPageSize     = 100
	maxButtonsPerRow     = 5
	maxDownloadBytes     = 25 << 20
)

// Session adapts a discordgo session to platform.Platform for a single guild.
type Session struct {
	dg      *discordgo.Session
	guildID string
	logger  *slog.Logger
}

var _ platform.Platform = (*Session)(nil)

// New creates a session for the bot token. The gateway is not opened until Open.
func New(token, guildID string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildMessages
	dg.State.TrackMembers = true
	dg.State.TrackThreads = true
	return &Session{dg: dg, guildID: guildID, logger: logger.With("component", "discord")}, nil
}

// Open connects to the gateway.
func (s *Session) Open() error {
	if err := s.dg.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (s *Session) Close() error {
	return s.dg.Close()
}

// SelfID implements platform.Platform.
func (s *Session) SelfID() string {
	if s.dg.State == nil || s.dg.State.User == nil {
		return ""
	}
	return s.dg.State.User.ID
}

// CreateThread starts a private thread under channelID.
func (s *Session) CreateThread(ctx context.Context, channelID, name string) (platform.Thread, error) {
	ch, err := s.dg.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPrivateThread,
		Invitable:           false,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Thread{}, wrap("create thread", err)
	}
	return toThread(ch), nil
}

// Thread implements platform.Threads.
func (s *Session) Thread(ctx context.Context, threadID string) (platform.Thread, error) {
	ch, err := s.dg.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Thread{}, wrap("fetch thread", err)
	}
	if !ch.IsThread() {
		return platform.Thread{}, fmt.Errorf("channel %s is not a thread: %w", threadID, platform.ErrNotFound)
	}
	return toThread(ch), nil
}

// DeleteThread implements platform.Threads.
func (s *Session) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.dg.ChannelDelete(threadID, discordgo.WithContext(ctx))
	return wrap("delete thread", err)
}

// RenameThread implements platform.Threads.
func (s *Session) RenameThread(ctx context.Context, threadID, name string) error {
	_, err := s.dg.ChannelEdit(threadID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return wrap("rename thread", err)
}

// SetArchived implements platform.Threads.
func (s *Session) SetArchived(ctx context.Context, threadID string, archived bool) error {
	_, err := s.dg.ChannelEdit(threadID, &discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx))
	return wrap("archive thread", err)
}

// SetLocked implements platform.Threads.
func (s *Session) SetLocked(ctx context.Context, threadID string, locked bool) error {
	_, err := s.dg.ChannelEdit(threadID, &discordgo.ChannelEdit{Locked: &locked}, discordgo.WithContext(ctx))
	return wrap("lock thread", err)
}

// ListThreads returns the active threads of channelID plus every archived thread, public
// and private.
func (s *Session) ListThreads(ctx context.Context, channelID string) ([]platform.Thread, error) {
	active, err := s.dg.GuildThreadsActive(s.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("list active threads", err)
	}
	seen := make(map[string]bool)
	var out []platform.Thread
	add := func(chs []*discordgo.Channel) {
		for _, ch := range chs {
			if ch.ParentID != channelID || seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true
			out = append(out, toThread(ch))
		}
	}
	add(active.Threads)

	type pager func(channelID string, before *time.Time, limit int, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
	for _, page := range []pager{s.dg.ThreadsArchived, s.dg.ThreadsPrivateArchived} {
		var before *time.Time
		for {
			list, err := page(channelID, before, archivedPageSize, discordgo.WithContext(ctx))
			if err != nil {
				return nil, wrap("list archived threads", err)
			}
			add(list.Threads)
			if !list.HasMore || len(list.Threads) == 0 {
				break
			}
			last := list.Threads[len(list.Threads)-1]
			if last.ThreadMetadata == nil {
				break
			}
			ts := last.ThreadMetadata.ArchiveTimestamp
			before = &ts
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ThreadMembers implements platform.Threads. Discord only pages this endpoint when members
// are requested with their guild member, so with_member is always set.
func (s *Session) ThreadMembers(ctx context.Context, threadID string) ([]string, error) {
	ids, err := collectThreadMembers(func(after string) ([]*discordgo.ThreadMember, error) {
		return s.dg.ThreadMembers(threadID, threadMemberPageSize, true, after, discordgo.WithContext(ctx))
	})
	if err != nil {
		return nil, wrap("list thread members", err)
	}
	return ids, nil
}

// collectThreadMembers walks member pages until a short page, or until the cursor stops
// advancing.
func collectThreadMembers(fetch func(after string) ([]*discordgo.ThreadMember, error)) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	after := ""
	for {
		page, err := fetch(after)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if _, dup := seen[m.UserID]; dup {
				continue
			}
			seen[m.UserID] = struct{}{}
			ids = append(ids, m.UserID)
		}
		if len(page) < threadMemberPageSize {
			return ids, nil
		}
		next := page[len(page)-1].UserID
		if next == after {
			return ids, nil
		}
		after = next
	}
}

// AddThreadMember implements platform.Threads.
func (s *Session) AddThreadMember(ctx context.Context, threadID, userID string) error {
	return wrap("add thread member", s.dg.ThreadMemberAdd(threadID, userID, discordgo.WithContext(ctx)))
}

// RemoveThreadMember implements platform.Threads.
func (s *Session) RemoveThreadMember(ctx context.Context, threadID, userID string) error {
	return wrap("remove thread member", s.dg.ThreadMemberRemove(threadID, userID, discordgo.WithContext(ctx)))
}

// Member always asks the API; the state cache may be stale.
func (s *Session) Member(ctx context.Context, userID string) (platform.Member, error) {
	m, err := s.dg.GuildMember(s.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Member{}, wrap("fetch member", err)
	}
	return toMember(m), nil
}

// Members implements platform.Members.
func (s *Session) Members(ctx context.Context) ([]platform.Member, error) {
	var out []platform.Member
	after := ""
	for {
		page, err := s.dg.GuildMembers(s.guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrap("list members", err)
		}
		for _, m := range page {
			out = append(out, toMember(m))
		}
		if len(page) < memberPageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// AddRole implements platform.Members.
func (s *Session) AddRole(ctx context.Context, userID, roleID string) error {
	return wrap("add role", s.dg.GuildMemberRoleAdd(s.guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// RemoveRole implements platform.Members.
func (s *Session) RemoveRole(ctx context.Context, userID, roleID string) error {
	return wrap("remove role", s.dg.GuildMemberRoleRemove(s.guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// Messages implements platform.Messenger.
func (s *Session) Messages(ctx context.Context, channelID string, limit int, before string) ([]platform.Message, error) {
	msgs, err := s.dg.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("read messages", err)
	}
	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// Send implements platform.Messenger. Files are downloaded from their URL and re-uploaded.
func (s *Session) Send(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	data := toMessageSend(msg)
	for _, f := range msg.Files {
		body, err := s.download(ctx, f.URL)
		if err != nil {
			return "", fmt.Errorf("failed to fetch attachment %s: %w", f.Name, err)
		}
		data.Files = append(data.Files, &discordgo.File{Name: f.Name, Reader: bytes.NewReader(body)})
	}
	m, err := s.dg.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap("send message", err)
	}
	return m.ID, nil
}

// Edit implements platform.Messenger.
func (s *Session) Edit(ctx context.Context, channelID, messageID string, msg platform.OutgoingMessage) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).
		SetContent(msg.Content).
		SetEmbeds(toEmbeds(msg.Embeds))
	_, err := s.dg.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return wrap("edit message", err)
}

// DeleteMessage implements platform.Messenger.
func (s *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return wrap("delete message", s.dg.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (s *Session) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.dg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDownloadBytes {
		return nil, errors.New("attachment too large")
	}
	return body, nil
}
