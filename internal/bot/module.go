package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/cache"
	"github.com/sglre6355/gatebot/internal/commandsync"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/faults"
	"github.com/sglre6355/gatebot/internal/router"
)

// EventHandler is a generic handler for any Discord event.
// It should be a function matching one of discordgo's handler signatures,
// e.g., func(s *discordgo.Session, m *discordgo.MessageCreate)
type EventHandler any

// Stats is a point-in-time view of the engine's state.
type Stats struct {
	Uptime         time.Duration
	Definitions    int
	Cooldowns      int
	PendingPrompts int
	Maintenance    bool
	// Caches holds the counters of each cache by name.
	Caches map[string]cache.Stats
	// OpenFaults counts fault records not yet resolved.
	OpenFaults int
	Usage      faults.Usage
}

// Controls exposes engine operations to modules.
type Controls interface {
	// Resync reconciles the registered commands with the loaded definitions.
	Resync(ctx context.Context, dryRun bool) (*commandsync.Report, error)
	Stats() Stats
}

// ModuleDependencies provides dependencies that modules may need during initialization.
type ModuleDependencies struct {
	Session   *discordgo.Session
	Operators *router.Operators
	Collector *router.Collector
	Reporter  *faults.Reporter
	Controls  Controls
}

// Module defines the interface that all bot modules must implement.
type Module interface {
	// Name returns the unique identifier for this module.
	Name() string

	// Definitions returns the commands and components this module serves.
	// Called after Init.
	Definitions() []*definition.Definition

	// EventHandlers returns event handlers for this module.
	// Each handler should match a discordgo handler signature.
	EventHandlers() []EventHandler

	// Init initializes the module with the provided dependencies.
	Init(deps ModuleDependencies) error

	// Shutdown gracefully shuts down the module.
	Shutdown() error
}

// ConfigurableModule is an optional interface for modules that need configuration.
// Modules implementing this interface will have LoadConfig called before Init.
type ConfigurableModule interface {
	// LoadConfig loads and validates module-specific configuration.
	// Called before Init() and before Discord connection is established.
	// Should return an error if required configuration is missing or invalid.
	LoadConfig() error
}
