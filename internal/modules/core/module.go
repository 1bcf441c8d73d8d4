// Package core provides the built-in operator and diagnostic commands.
package core

import (
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/bot"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/modules/core/presentation"
)

const (
	pingCooldown   = 5 * time.Second
	resyncCooldown = 30 * time.Second
	resyncTimeout  = time.Minute
)

func init() {
	bot.Register(&CoreModule{})
}

// CoreModule provides /ping, /stats, /maintenance and /resync.
type CoreModule struct {
	pingHandler        *presentation.PingHandler
	statsHandler       *presentation.StatsHandler
	maintenanceHandler *presentation.MaintenanceHandler
	resyncHandler      *presentation.ResyncHandler
}

// Name returns the module name.
func (m *CoreModule) Name() string {
	return "core"
}

// Definitions returns the commands and components of this module.
func (m *CoreModule) Definitions() []*definition.Definition {
	return []*definition.Definition{
		{
			Name:        "ping",
			Kind:        definition.KindCommand,
			Description: "Replies with Pong!",
			Cooldown:    pingCooldown,
			Handler:     m.pingHandler.Handle,
		},
		{
			Name:     presentation.PingAgainComponent,
			Kind:     definition.KindButton,
			Cooldown: pingCooldown,
			Handler:  m.pingHandler.HandleAgain,
		},
		{
			Name:        "stats",
			Kind:        definition.KindCommand,
			Description: "Shows engine statistics",
			DevOnly:     true,
			Handler:     m.statsHandler.Handle,
		},
		{
			Name:        "maintenance",
			Kind:        definition.KindCommand,
			Description: "Turns maintenance mode on or off",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        presentation.MaintenanceOption,
					Description: "Whether maintenance mode is on",
					Required:    true,
				},
			},
			DevOnly:  true,
			Cooldown: -1,
			Handler:  m.maintenanceHandler.Handle,
		},
		{
			Name:        "resync",
			Kind:        definition.KindCommand,
			Description: "Synchronizes application commands with Discord",
			DevOnly:     true,
			Cooldown:    resyncCooldown,
			Handler:     m.resyncHandler.Handle,
		},
	}
}

// EventHandlers returns the event handlers for this module.
func (m *CoreModule) EventHandlers() []bot.EventHandler {
	return []bot.EventHandler{
		presentation.ReadyHandler{}.HandleReady,
	}
}

// Init initializes the module.
func (m *CoreModule) Init(deps bot.ModuleDependencies) error {
	if deps.Controls == nil || deps.Operators == nil || deps.Collector == nil {
		return errors.New("core module is missing a dependency")
	}

	var latency func() time.Duration
	if deps.Session != nil {
		latency = deps.Session.HeartbeatLatency
	}

	m.pingHandler = presentation.NewPingHandler(latency)
	m.statsHandler = presentation.NewStatsHandler(deps.Controls)
	m.maintenanceHandler = presentation.NewMaintenanceHandler(deps.Operators)
	m.resyncHandler = presentation.NewResyncHandler(deps.Controls, deps.Collector, resyncTimeout)
	return nil
}

// Shutdown cleans up module resources.
func (m *CoreModule) Shutdown() error {
	return nil
}
