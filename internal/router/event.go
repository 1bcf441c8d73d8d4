// Package router resolves Discord interactions to definitions and runs them
// through a fixed chain of gates before invoking their handlers.
package router

import (
	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/definition"
)

// Event holds the fields of an interaction the router reads.
type Event struct {
	Class        definition.Class
	Identifier   string
	Args         string
	Autocomplete bool

	UserID    string
	GuildID   string
	ChannelID string
	// OwnerID is the user who triggered the invocation that produced the
	// message a component is attached to. Empty when unknown.
	OwnerID string

	// MemberPermissions are the caller's permissions in the channel. Only
	// meaningful when InGuild is true.
	MemberPermissions int64
	// AppPermissions are the bot's permissions in the channel.
	AppPermissions int64
}

// InGuild reports whether the interaction happened in a guild.
func (e Event) InGuild() bool {
	return e.GuildID != ""
}

// NewEvent extracts the routing fields of i. It returns false for
// interaction types that are not routed, such as pings.
func NewEvent(i *discordgo.Interaction) (Event, bool) {
	ev := Event{
		GuildID:        i.GuildID,
		ChannelID:      i.ChannelID,
		AppPermissions: i.AppPermissions,
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		ev.Class = definition.ClassCommand
		ev.Identifier = i.ApplicationCommandData().Name
	case discordgo.InteractionApplicationCommandAutocomplete:
		ev.Class = definition.ClassCommand
		ev.Identifier = i.ApplicationCommandData().Name
		ev.Autocomplete = true
	case discordgo.InteractionMessageComponent:
		ev.Class = definition.ClassComponent
		ev.Identifier, ev.Args = definition.SplitCustomID(i.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		ev.Class = definition.ClassComponent
		ev.Identifier, ev.Args = definition.SplitCustomID(i.ModalSubmitData().CustomID)
	default:
		return Event{}, false
	}

	switch {
	case i.Member != nil && i.Member.User != nil:
		ev.UserID = i.Member.User.ID
		ev.MemberPermissions = i.Member.Permissions
	case i.User != nil:
		ev.UserID = i.User.ID
	}

	if i.Message != nil && i.Message.Interaction != nil && i.Message.Interaction.User != nil {
		ev.OwnerID = i.Message.Interaction.User.ID
	}

	return ev, ev.Identifier != ""
}
