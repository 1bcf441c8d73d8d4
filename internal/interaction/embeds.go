package interaction

import "github.com/bwmarrin/discordgo"

// Embed colors for responses.
const (
	ColorSuccess = 0x08C404
	ColorInfo    = 0x5865F2
	ColorWarning = 0xFFFF00
	ColorError   = 0xE74C3C
)

// EmbedResponse builds a channel message response carrying a single embed.
func EmbedResponse(title, description string, color int, ephemeral bool) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       title,
				Description: description,
				Color:       color,
			},
		},
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

// Notice builds an ephemeral warning embed, used for refusals.
func Notice(title, description string) *discordgo.InteractionResponse {
	return EmbedResponse(title, description, ColorWarning, true)
}

// Failure builds an ephemeral error embed.
func Failure(description string) *discordgo.InteractionResponse {
	return EmbedResponse("Error", description, ColorError, true)
}

// DisableComponents returns a copy of rows with every button and select menu disabled.
func DisableComponents(rows []discordgo.MessageComponent) []discordgo.MessageComponent {
	disabled := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		actions, ok := row.(discordgo.ActionsRow)
		if !ok {
			if ptr, isPtr := row.(*discordgo.ActionsRow); isPtr && ptr != nil {
				actions, ok = *ptr, true
			}
		}
		if !ok {
			disabled = append(disabled, row)
			continue
		}

		components := make([]discordgo.MessageComponent, 0, len(actions.Components))
		for _, c := range actions.Components {
			components = append(components, disableComponent(c))
		}
		disabled = append(disabled, discordgo.ActionsRow{Components: components})
	}
	return disabled
}

func disableComponent(c discordgo.MessageComponent) discordgo.MessageComponent {
	switch v := c.(type) {
	case discordgo.Button:
		v.Disabled = true
		return v
	case *discordgo.Button:
		b := *v
		b.Disabled = true
		return b
	case discordgo.SelectMenu:
		v.Disabled = true
		return v
	case *discordgo.SelectMenu:
		m := *v
		m.Disabled = true
		return m
	default:
		return c
	}
}
