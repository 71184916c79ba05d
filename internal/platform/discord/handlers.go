package discord

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/roles"
)

// Disconnecter is optionally implemented by handlers that track gateway state.
type Disconnecter interface {
	SetDisconnected()
}

// Bind routes gateway events for the session's guild to h. ctx bounds every handler call.
func (s *Session) Bind(ctx context.Context, h platform.EventHandler) {
	s.dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		h.OnReady(ctx)
	})
	s.dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		h.OnReady(ctx)
	})
	if d, ok := h.(Disconnecter); ok {
		s.dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			d.SetDisconnected()
		})
	}
	s.dg.AddHandler(func(_ *discordgo.Session, ev *discordgo.GuildMemberUpdate) {
		if ev.Member == nil || ev.GuildID != s.guildID {
			return
		}
		if ev.Member.User == nil {
			return
		}
		h.OnMemberUpdate(ctx, toMemberUpdate(ev))
	})
	s.dg.AddHandler(func(_ *discordgo.Session, ev *discordgo.GuildMemberRemove) {
		if ev.Member == nil || ev.Member.User == nil || ev.GuildID != s.guildID {
			return
		}
		h.OnMemberRemove(ctx, platform.MemberRemove{UserID: ev.Member.User.ID, Username: ev.Member.User.Username})
	})
	s.dg.AddHandler(func(_ *discordgo.Session, ev *discordgo.ThreadUpdate) {
		if ev.Channel == nil || ev.GuildID != s.guildID {
			return
		}
		h.OnThreadUpdate(ctx, toThreadUpdate(ev))
	})
	s.dg.AddHandler(func(_ *discordgo.Session, ev *discordgo.ThreadDelete) {
		if ev.Channel == nil || ev.GuildID != s.guildID {
			return
		}
		h.OnThreadDelete(ctx, platform.ThreadDelete{ThreadID: ev.ID, ParentID: ev.ParentID})
	})
	s.dg.AddHandler(func(dg *discordgo.Session, ev *discordgo.InteractionCreate) {
		if ev.Interaction == nil || ev.GuildID != s.guildID {
			return
		}
		in, ok := toInteraction(ev.Interaction)
		if !ok {
			return
		}
		h.OnInteraction(ctx, in, &responder{dg: dg, in: ev.Interaction})
	})
}

func toMemberUpdate(ev *discordgo.GuildMemberUpdate) platform.MemberUpdate {
	out := platform.MemberUpdate{Member: toMember(ev.Member)}
	if ev.BeforeUpdate != nil {
		out.Before = roles.NewSet(ev.BeforeUpdate.Roles...)
	}
	return out
}

func toThreadUpdate(ev *discordgo.ThreadUpdate) platform.ThreadUpdate {
	out := platform.ThreadUpdate{After: toThread(ev.Channel)}
	if ev.BeforeUpdate != nil {
		before := toThread(ev.BeforeUpdate)
		out.Before = &before
	}
	return out
}

func toInteraction(i *discordgo.Interaction) (platform.Interaction, bool) {
	out := platform.Interaction{ChannelID: i.ChannelID}
	switch {
	case i.Member != nil:
		out.User = toMember(i.Member)
	case i.User != nil:
		out.User = platform.Member{ID: i.User.ID, Username: i.User.Username, DisplayName: i.User.Username, Bot: i.User.Bot}
	default:
		return out, false
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		out.Kind = platform.InteractionButton
		out.CustomID = i.MessageComponentData().CustomID
		if i.Message != nil {
			out.MessageID = i.Message.ID
		}
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		out.Kind = platform.InteractionCommand
		out.Command = data.Name
		out.Options = make(map[string]string, len(data.Options))
		for _, opt := range data.Options {
			if opt.Type == discordgo.ApplicationCommandOptionBoolean {
				out.Options[opt.Name] = strconv.FormatBool(opt.BoolValue())
				continue
			}
			out.Options[opt.Name] = fmt.Sprint(opt.Value)
		}
	default:
		return out, false
	}
	return out, true
}

// responder answers with ephemeral deferred replies.
type responder struct {
	dg *discordgo.Session
	in *discordgo.Interaction
}

func (r *responder) Defer(ctx context.Context, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := r.dg.InteractionRespond(r.in, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	return wrap("defer interaction", err)
}

func (r *responder) Reply(ctx context.Context, content string) error {
	_, err := r.dg.InteractionResponseEdit(r.in, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	return wrap("reply to interaction", err)
}

// RegisterCommands replaces the guild's slash commands with cmds.
func (s *Session) RegisterCommands(ctx context.Context, cmds []platform.Command) error {
	appID := s.SelfID()
	if appID == "" {
		return fmt.Errorf("session not ready")
	}
	_, err := s.dg.ApplicationCommandBulkOverwrite(appID, s.guildID, toApplicationCommands(cmds), discordgo.WithContext(ctx))
	if err != nil {
		return wrap("register commands", err)
	}
	s.logger.Info("commands_registered", "count", len(cmds))
	return nil
}

func toApplicationCommands(cmds []platform.Command) []*discordgo.ApplicationCommand {
	admin := int64(discordgo.PermissionAdministrator)
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		ac := &discordgo.ApplicationCommand{Name: c.Name, Description: c.Description}
		names := make([]string, 0, len(c.BoolOptions))
		for name := range c.BoolOptions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ac.Options = append(ac.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        name,
				Description: c.BoolOptions[name],
			})
		}
		if c.AdminOnly {
			ac.DefaultMemberPermissions = &admin
		}
		out = append(out, ac)
	}
	return out
}
