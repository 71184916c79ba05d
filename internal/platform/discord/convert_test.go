package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code, Status: http.StatusText(code)}}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap("op", nil))

	err := wrap("fetch thread", restError(http.StatusNotFound))
	assert.ErrorIs(t, err, platform.ErrNotFound)
	assert.True(t, platform.IsPermanent(err))

	err = wrap("add role", restError(http.StatusForbidden))
	assert.ErrorIs(t, err, platform.ErrForbidden)

	err = wrap("send message", restError(http.StatusBadGateway))
	assert.False(t, platform.IsPermanent(err))
	assert.Contains(t, err.Error(), "send message")

	plain := errors.New("dial tcp: timeout")
	assert.ErrorIs(t, wrap("list members", plain), plain)
}

func TestToMember(t *testing.T) {
	m := toMember(&discordgo.Member{
		User:        &discordgo.User{ID: "9001", Username: "aelt", GlobalName: "Aelt"},
		Nick:        "Aeltharion",
		Roles:       []string{"100", "700"},
		Permissions: discordgo.PermissionAdministrator,
	})
	assert.Equal(t, "9001", m.ID)
	assert.Equal(t, "Aeltharion", m.DisplayName)
	assert.True(t, m.Roles.Equal(roles.NewSet("100", "700")))
	assert.True(t, m.Administrator)

	m = toMember(&discordgo.Member{User: &discordgo.User{ID: "9002", Username: "plain"}})
	assert.Equal(t, "plain", m.DisplayName)
	assert.False(t, m.Administrator)
	assert.NotNil(t, m.Roles)
}

func TestToThread(t *testing.T) {
	th := toThread(&discordgo.Channel{
		ID: "175928847299117063", ParentID: "10", Name: "Aeltharion - SnS/GS Review [9001]",
		ThreadMetadata: &discordgo.ThreadMetadata{Archived: true, Locked: true},
	})
	assert.Equal(t, "10", th.ParentID)
	assert.True(t, th.Archived)
	assert.True(t, th.Locked)
	assert.Equal(t, 2016, th.CreatedAt.Year())
}

func TestToMessage(t *testing.T) {
	msg := toMessage(&discordgo.Message{
		ID:      "1",
		Type:    discordgo.MessageTypeDefault,
		Content: "hello",
		Author:  &discordgo.User{ID: "9001", Username: "aelt"},
		Member:  &discordgo.Member{Nick: "Aeltharion"},
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "build.png", URL: "https://cdn.example/build.png", Size: 42},
		},
		Embeds: []*discordgo.MessageEmbed{{Title: "x"}},
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.Button{CustomID: "close_review_9001"},
				&discordgo.Button{URL: "https://example.com"},
			}},
		},
	})
	assert.Equal(t, "Aeltharion", msg.AuthorName)
	assert.False(t, msg.System)
	assert.Equal(t, 1, msg.Embeds)
	assert.Equal(t, []platform.Attachment{{Filename: "build.png", URL: "https://cdn.example/build.png", Size: 42}}, msg.Attachments)
	assert.Equal(t, []string{"close_review_9001"}, msg.Components)

	sys := toMessage(&discordgo.Message{ID: "2", Type: discordgo.MessageTypeThreadCreated})
	assert.True(t, sys.System)
}

func TestToMessageSend(t *testing.T) {
	buttons := make([]platform.Button, 7)
	for i := range buttons {
		buttons[i] = platform.Button{CustomID: string(rune('a' + i)), Label: "b", Style: platform.ButtonDanger}
	}
	data := toMessageSend(platform.OutgoingMessage{
		Content:          "hi",
		Embeds:           []platform.Embed{{Title: "T", Description: "D", Footer: "F"}},
		Buttons:          buttons,
		SuppressMentions: true,
	})

	require.Len(t, data.Components, 2)
	assert.Len(t, data.Components[0].(discordgo.ActionsRow).Components, 5)
	assert.Len(t, data.Components[1].(discordgo.ActionsRow).Components, 2)
	assert.Equal(t, discordgo.DangerButton, data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.Button).Style)
	assert.Equal(t, "F", data.Embeds[0].Footer.Text)
	require.NotNil(t, data.AllowedMentions)
	assert.Empty(t, data.AllowedMentions.Parse)

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, customIDs(data.Components))
	assert.Nil(t, toMessageSend(platform.OutgoingMessage{Content: "x"}).AllowedMentions)
}

func TestToInteraction(t *testing.T) {
	member := &discordgo.Member{User: &discordgo.User{ID: "9001", Username: "aelt"}}

	in, ok := toInteraction(&discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "55",
		Member:    member,
		Message:   &discordgo.Message{ID: "77"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "open_review"},
	})
	require.True(t, ok)
	assert.Equal(t, platform.InteractionButton, in.Kind)
	assert.Equal(t, "open_review", in.CustomID)
	assert.Equal(t, "77", in.MessageID)
	assert.Equal(t, "9001", in.User.ID)

	in, ok = toInteraction(&discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: member,
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "cleanthreads",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "dry_run", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
			},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "cleanthreads", in.Command)
	assert.True(t, in.BoolOption("dry_run"))

	_, ok = toInteraction(&discordgo.Interaction{Type: discordgo.InteractionPing, Member: member})
	assert.False(t, ok)
}

func TestToApplicationCommands(t *testing.T) {
	cmds := toApplicationCommands([]platform.Command{
		{Name: "checkthread", Description: "check"},
		{Name: "cleanthreads", Description: "clean", AdminOnly: true, BoolOptions: map[string]string{"dry_run": "d", "all": "a"}},
	})
	require.Len(t, cmds, 2)
	assert.Nil(t, cmds[0].DefaultMemberPermissions)
	require.NotNil(t, cmds[1].DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionAdministrator), *cmds[1].DefaultMemberPermissions)
	require.Len(t, cmds[1].Options, 2)
	assert.Equal(t, "all", cmds[1].Options[0].Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionBoolean, cmds[1].Options[1].Type)
}
