package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sglre6355/gatebot/internal/cooldown"
	"github.com/sglre6355/gatebot/internal/definition"
)

// Gate names.
const (
	GateMaintenance = "maintenance"
	GateCooldown    = "cooldown"
	GateDevOnly     = "dev_only"
	GateTestMode    = "test_mode"
	GateNSFW        = "nsfw"
	GateCaller      = "caller_permissions"
	GateAgent       = "agent_permissions"
	GateOwnership   = "ownership"
)

// Outcome is the result of a gate check.
type Outcome struct {
	Allowed bool
	// Gate, Title and Message describe a refusal.
	Gate    string
	Title   string
	Message string
}

// Allow lets the request through.
func Allow() Outcome {
	return Outcome{Allowed: true}
}

// Deny refuses the request with a message for the caller.
func Deny(gate, title, message string) Outcome {
	return Outcome{Gate: gate, Title: title, Message: message}
}

// Request is what a gate inspects.
type Request struct {
	Event      Event
	Definition *definition.Definition
}

// Gate decides whether a request may reach its handler.
type Gate interface {
	Check(ctx context.Context, req *Request) Outcome
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, req *Request) Outcome

// Check implements Gate.
func (f GateFunc) Check(ctx context.Context, req *Request) Outcome {
	return f(ctx, req)
}

// MaintenanceGate refuses everyone but operators while maintenance mode is on.
func MaintenanceGate(ops *Operators) Gate {
	return GateFunc(func(_ context.Context, req *Request) Outcome {
		if ops.Maintenance() && !ops.IsOperator(req.Event.UserID) {
			return Deny(GateMaintenance, "Maintenance",
				"The bot is under maintenance. Please try again later.")
		}
		return Allow()
	})
}

// CooldownGate enforces the per-user cooldown of each definition and starts a
// new window when the request passes. A zero definition cooldown selects
// fallback; a negative one disables the gate.
func CooldownGate(tracker *cooldown.Tracker, fallback time.Duration, now func() time.Time) Gate {
	if now == nil {
		now = time.Now
	}
	return GateFunc(func(_ context.Context, req *Request) Outcome {
		d := req.Definition.Cooldown
		if d == 0 {
			d = fallback
		}
		if d <= 0 {
			return Allow()
		}

		remaining, ok := tracker.Acquire(req.Event.UserID, req.Definition.Key(), d)
		if ok {
			return Allow()
		}
		ready := now().Add(remaining)
		ts := ready.Unix()
		if ready.Nanosecond() > 0 {
			ts++
		}
		return Deny(GateCooldown, "Cooldown", fmt.Sprintf("You can use this again <t:%d:R>.", ts))
	})
}

// NSFWChecker reports whether a channel is age-restricted.
type NSFWChecker interface {
	IsNSFW(ctx context.Context, channelID string) (bool, error)
}

// AudienceGate restricts devOnly definitions to operators, testMode
// definitions to the test guild and nsfwOnly definitions to age-restricted
// guild channels.
func AudienceGate(ops *Operators, channels NSFWChecker) Gate {
	return GateFunc(func(ctx context.Context, req *Request) Outcome {
		def, ev := req.Definition, req.Event

		if def.DevOnly && !ops.IsOperator(ev.UserID) {
			return Deny(GateDevOnly, "Restricted", "This is only available to bot operators.")
		}

		if def.TestMode && (ops.TestGuildID() == "" || ev.GuildID != ops.TestGuildID()) {
			return Deny(GateTestMode, "Restricted", "This is only available in the test server.")
		}

		if def.NSFWOnly {
			if !ev.InGuild() || channels == nil {
				return Deny(GateNSFW, "Age-restricted", "This can only be used in an age-restricted channel.")
			}
			nsfw, err := channels.IsNSFW(ctx, ev.ChannelID)
			if err != nil {
				slog.Warn("failed to check channel age restriction", "channel_id", ev.ChannelID, "error", err)
				return Deny(GateNSFW, "Age-restricted", "Could not verify this channel. Please try again later.")
			}
			if !nsfw {
				return Deny(GateNSFW, "Age-restricted", "This can only be used in an age-restricted channel.")
			}
		}

		return Allow()
	})
}

// PermissionGate checks the permissions the caller and the bot must hold.
// Caller permissions only apply in guilds.
func PermissionGate() Gate {
	return GateFunc(func(_ context.Context, req *Request) Outcome {
		def, ev := req.Definition, req.Event

		if def.CallerPermissions != 0 && ev.InGuild() {
			if missing := definition.MissingPermissions(ev.MemberPermissions, def.CallerPermissions); missing != 0 {
				return Deny(GateCaller, "Missing permissions",
					"You need the following permissions: "+strings.Join(definition.PermissionNames(missing), ", ")+".")
			}
		}

		if def.AgentPermissions != 0 {
			if missing := definition.MissingPermissions(ev.AppPermissions, def.AgentPermissions); missing != 0 {
				return Deny(GateAgent, "Missing permissions",
					"I need the following permissions here: "+strings.Join(definition.PermissionNames(missing), ", ")+".")
			}
		}

		return Allow()
	})
}

// OwnershipGate lets only the user who triggered the original invocation
// operate the components attached to its reply.
func OwnershipGate() Gate {
	return GateFunc(func(_ context.Context, req *Request) Outcome {
		ev := req.Event
		if ev.Class != definition.ClassComponent || ev.OwnerID == "" || ev.OwnerID == ev.UserID {
			return Allow()
		}
		return Deny(GateOwnership, "Not yours", "Only the user who started this can use these controls.")
	})
}
