package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/roles"
)

// wrap maps REST status codes onto the platform sentinels.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, platform.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, platform.ErrForbidden, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toThread(ch *discordgo.Channel) platform.Thread {
	t := platform.Thread{ID: ch.ID, ParentID: ch.ParentID, Name: ch.Name}
	if ch.ThreadMetadata != nil {
		t.Archived = ch.ThreadMetadata.Archived
		t.Locked = ch.ThreadMetadata.Locked
	}
	if ts, err := discordgo.SnowflakeTimestamp(ch.ID); err == nil {
		t.CreatedAt = ts
	}
	return t
}

func toMember(m *discordgo.Member) platform.Member {
	out := platform.Member{Roles: roles.NewSet(m.Roles...)}
	if m.User != nil {
		out.ID = m.User.ID
		out.Username = m.User.Username
		out.Bot = m.User.Bot
		out.DisplayName = m.User.GlobalName
	}
	if m.Nick != "" {
		out.DisplayName = m.Nick
	}
	if out.DisplayName == "" {
		out.DisplayName = out.Username
	}
	out.Administrator = m.Permissions&discordgo.PermissionAdministrator != 0
	return out
}

func toMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        m.ID,
		Content:   m.Content,
		System:    m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply,
		Embeds:    len(m.Embeds),
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorBot = m.Author.Bot
		out.AuthorName = m.Author.GlobalName
		if out.AuthorName == "" {
			out.AuthorName = m.Author.Username
		}
	}
	if m.Member != nil && m.Member.Nick != "" {
		out.AuthorName = m.Member.Nick
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, platform.Attachment{Filename: a.Filename, URL: a.URL, Size: a.Size})
	}
	out.Components = customIDs(m.Components)
	return out
}

// customIDs collects button ids from (possibly nested) components.
func customIDs(components []discordgo.MessageComponent) []string {
	var ids []string
	for _, c := range components {
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			ids = append(ids, customIDs(v.Components)...)
		case discordgo.ActionsRow:
			ids = append(ids, customIDs(v.Components)...)
		case *discordgo.Button:
			if v.CustomID != "" {
				ids = append(ids, v.CustomID)
			}
		case discordgo.Button:
			if v.CustomID != "" {
				ids = append(ids, v.CustomID)
			}
		}
	}
	return ids
}

var buttonStyles = map[platform.ButtonStyle]discordgo.ButtonStyle{
	platform.ButtonPrimary:   discordgo.PrimaryButton,
	platform.ButtonSecondary: discordgo.SecondaryButton,
	platform.ButtonSuccess:   discordgo.SuccessButton,
	platform.ButtonDanger:    discordgo.DangerButton,
}

func toComponents(buttons []platform.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(buttons))
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			style, ok := buttonStyles[b.Style]
			if !ok {
				style = discordgo.SecondaryButton
			}
			row.Components = append(row.Components, discordgo.Button{Label: b.Label, Style: style, CustomID: b.CustomID})
		}
		rows = append(rows, row)
	}
	return rows
}

func toEmbeds(embeds []platform.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		out = append(out, me)
	}
	return out
}

func toMessageSend(msg platform.OutgoingMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toEmbeds(msg.Embeds),
		Components: toComponents(msg.Buttons),
	}
	if msg.SuppressMentions {
		data.AllowedMentions = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	}
	return data
}
