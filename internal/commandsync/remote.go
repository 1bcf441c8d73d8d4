// Package commandsync reconciles locally defined slash commands with the
// commands registered on Discord.
package commandsync

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/definition"
)

// Remote abstracts the discordgo.Session methods used for synchronization,
// enabling test doubles.
type Remote interface {
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandEdit(appID, guildID, cmdID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

var _ Remote = (*discordgo.Session)(nil)

// Scope is where commands are registered: globally or in a single guild.
type Scope struct {
	GuildID string
}

// GlobalScope registers commands for every guild and DM.
var GlobalScope = Scope{}

// IsGlobal reports whether the scope is global.
func (s Scope) IsGlobal() bool {
	return s.GuildID == ""
}

// String returns "global" or "guild:<id>".
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "guild:" + s.GuildID
}

// Fetcher reads the remote command catalogue.
type Fetcher struct {
	remote Remote
	appID  string
}

// NewFetcher creates a Fetcher for the application appID.
func NewFetcher(remote Remote, appID string) *Fetcher {
	return &Fetcher{remote: remote, appID: appID}
}

// Fetch lists the commands registered in scope.
func (f *Fetcher) Fetch(ctx context.Context, scope Scope) ([]*discordgo.ApplicationCommand, error) {
	cmds, err := f.remote.ApplicationCommands(f.appID, scope.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s commands: %w", scope, err)
	}
	return cmds, nil
}

// Defaults applied when a command leaves a field unset.
var (
	DefaultContexts = []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	DefaultIntegrationTypes = []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationGuildInstall,
	}
)

// Build converts a command definition into the payload registered in scope.
// Guild commands carry no context or installation scope.
func Build(def *definition.Definition, scope Scope) *discordgo.ApplicationCommand {
	nsfw := def.NSFWOnly
	cmd := &discordgo.ApplicationCommand{
		Type:                     discordgo.ChatApplicationCommand,
		Name:                     def.Name,
		Description:              def.Description,
		Options:                  def.Options,
		DefaultMemberPermissions: def.DefaultMemberPermissions,
		NSFW:                     &nsfw,
	}

	if scope.IsGlobal() {
		contexts := slices.Clone(def.Contexts)
		if len(contexts) == 0 {
			contexts = slices.Clone(DefaultContexts)
		}
		integrationTypes := slices.Clone(def.IntegrationTypes)
		if len(integrationTypes) == 0 {
			integrationTypes = slices.Clone(DefaultIntegrationTypes)
		}
		cmd.Contexts = &contexts
		cmd.IntegrationTypes = &integrationTypes
	}

	return cmd
}
