// Package definition describes the commands and message components the bot
// serves, and loads them into a registry.
package definition

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/interaction"
)

// Kind is the type of interaction a Definition answers.
type Kind int

const (
	KindCommand Kind = iota
	KindButton
	KindSelect
	KindModal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindButton:
		return "button"
	case KindSelect:
		return "select"
	case KindModal:
		return "modal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Class returns the namespace the kind's identifiers live in.
func (k Kind) Class() Class {
	if k == KindCommand {
		return ClassCommand
	}
	return ClassComponent
}

// Class is an identifier namespace. Identifiers are unique within a class.
type Class int

const (
	ClassCommand Class = iota
	ClassComponent
)

// String returns the class name.
func (c Class) String() string {
	if c == ClassCommand {
		return "command"
	}
	return "component"
}

// CustomIDSeparator splits a component custom ID into its identifier and arguments.
const CustomIDSeparator = ":"

// Handler handles an interaction that passed every gate.
type Handler func(
	ctx context.Context,
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r interaction.Responder,
) error

// AutocompleteHandler answers autocomplete requests for a command's options.
type AutocompleteHandler func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error

// Definition declares a command or message component together with the
// constraints enforced before its handler runs.
type Definition struct {
	// Name is the command name, or the route part of a component custom ID.
	Name string
	Kind Kind

	// Command metadata. Ignored for components.
	Description              string
	Options                  []*discordgo.ApplicationCommandOption
	Contexts                 []discordgo.InteractionContextType
	IntegrationTypes         []discordgo.ApplicationIntegrationType
	DefaultMemberPermissions *int64

	DevOnly  bool
	TestMode bool
	NSFWOnly bool
	// Cooldown between invocations per user. Zero selects the router default.
	Cooldown time.Duration

	// CallerPermissions must all be held by the invoking member.
	CallerPermissions int64
	// AgentPermissions must all be held by the bot in the invoking channel.
	AgentPermissions int64

	Handler      Handler
	Autocomplete AutocompleteHandler
}

// Class returns the identifier namespace of the definition.
func (d *Definition) Class() Class {
	return d.Kind.Class()
}

// Key returns a registry-wide unique key of the form "class:name".
func (d *Definition) Key() string {
	return Key(d.Class(), d.Name)
}

// Key builds the registry key for a class and identifier.
func Key(class Class, name string) string {
	return class.String() + ":" + name
}

var commandNamePattern = regexp.MustCompile(`^[-_\p{L}\p{N}]{1,32}$`)

const maxCustomIDLength = 100

// Validate reports why the definition cannot be served, if at all.
func (d *Definition) Validate() error {
	if d == nil {
		return ErrNilDefinition
	}
	if d.Name == "" {
		return ErrMissingIdentifier
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s", ErrMissingHandler, d.Name)
	}

	switch d.Kind {
	case KindCommand:
		if !commandNamePattern.MatchString(d.Name) || strings.ToLower(d.Name) != d.Name {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, d.Name)
		}
		if d.Description == "" {
			return fmt.Errorf("%w: %s", ErrMissingDescription, d.Name)
		}
	case KindButton, KindSelect, KindModal:
		if strings.Contains(d.Name, CustomIDSeparator) || len(d.Name) > maxCustomIDLength {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, d.Name)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(d.Kind))
	}

	return nil
}

// CustomID builds a component custom ID routed to the named definition.
func CustomID(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + CustomIDSeparator + strings.Join(args, CustomIDSeparator)
}

// SplitCustomID separates a custom ID into its route identifier and argument string.
func SplitCustomID(customID string) (name, args string) {
	name, args, _ = strings.Cut(customID, CustomIDSeparator)
	return name, args
}
