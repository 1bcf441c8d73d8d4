package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/cache"
	"github.com/sglre6355/gatebot/internal/cooldown"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/faults"
	"github.com/sglre6355/gatebot/internal/interaction"
	"github.com/sglre6355/gatebot/internal/metrics"
)

// DefaultCooldown applies to definitions that do not declare one.
const DefaultCooldown = 3 * time.Second

// ErrHandlerPanicked is reported when a handler panics.
var ErrHandlerPanicked = errors.New("handler panicked")

// Options configures a Router.
type Options struct {
	Registry  *definition.Registry
	Tracker   *cooldown.Tracker
	Operators *Operators
	// Channels answers the age-restriction check. When nil, nsfwOnly
	// definitions are refused everywhere.
	Channels NSFWChecker
	Reporter *faults.Reporter
	Metrics  *metrics.Metrics

	DefaultCooldown time.Duration
	// Memo sizing for resolved definitions.
	CacheCapacity      int
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	// BaseContext is the parent of every handler context. Cancelling it
	// signals handlers to stop.
	BaseContext context.Context
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Router resolves interactions to definitions, runs the gate chain and
// invokes handlers. It is safe for concurrent use.
type Router struct {
	registry *definition.Registry
	memo     *cache.Cache[string, *definition.Definition]
	gates    []Gate
	reporter *faults.Reporter
	metrics  *metrics.Metrics
	baseCtx  context.Context
}

// New creates a Router with the gate chain maintenance, cooldown, audience,
// permissions, ownership.
func New(opts Options) (*Router, error) {
	if opts.Registry == nil {
		return nil, errors.New("router requires a definition registry")
	}
	if opts.Tracker == nil {
		return nil, errors.New("router requires a cooldown tracker")
	}
	if opts.Operators == nil {
		opts.Operators = NewOperators(nil, 0, false)
	}
	if opts.DefaultCooldown == 0 {
		opts.DefaultCooldown = DefaultCooldown
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}

	memo, err := cache.New(cache.Options[string, *definition.Definition]{
		Name:            "definitions",
		Capacity:        opts.CacheCapacity,
		DefaultTTL:      opts.CacheTTL,
		CleanupInterval: opts.CacheSweepInterval,
		Policy:          cache.LRU,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create definition cache: %w", err)
	}

	return &Router{
		registry: opts.Registry,
		memo:     memo,
		gates: []Gate{
			MaintenanceGate(opts.Operators),
			CooldownGate(opts.Tracker, opts.DefaultCooldown, opts.Now),
			AudienceGate(opts.Operators, opts.Channels),
			PermissionGate(),
			OwnershipGate(),
		},
		reporter: opts.Reporter,
		metrics:  opts.Metrics,
		baseCtx:  opts.BaseContext,
	}, nil
}

// Resolve returns the definition for an identifier, populating the memo on
// first use.
func (r *Router) Resolve(class definition.Class, name string) (*definition.Definition, bool) {
	key := definition.Key(class, name)
	if def, ok := r.memo.Get(key); ok {
		return def, true
	}

	def, ok := r.registry.Lookup(class, name)
	if !ok {
		return nil, false
	}
	r.memo.Set(key, def)
	return def, true
}

// Handle is the discordgo interaction handler.
func (r *Router) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	r.Dispatch(r.baseCtx, s, i, interaction.NewDiscordResponder(s, i.Interaction))
}

// Dispatch routes a single interaction and returns its outcome, one of the
// metrics.Outcome values, or "" if the interaction is not routed.
func (r *Router) Dispatch(
	ctx context.Context,
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	resp interaction.Responder,
) string {
	ev, ok := NewEvent(i.Interaction)
	if !ok {
		return ""
	}

	def, ok := r.Resolve(ev.Class, ev.Identifier)
	if !ok {
		slog.Warn("found no definition for interaction", "class", ev.Class.String(), "identifier", ev.Identifier)
		r.count(ev.Class.String(), metrics.OutcomeNotFound)
		if !ev.Autocomplete {
			r.respond(resp, interaction.Notice("Unknown Interaction", "This interaction is not recognized."))
		}
		return metrics.OutcomeNotFound
	}
	kind := def.Kind.String()

	if ev.Autocomplete {
		return r.autocomplete(ctx, s, i, def)
	}

	req := &Request{Event: ev, Definition: def}
	for _, gate := range r.gates {
		outcome := gate.Check(ctx, req)
		if outcome.Allowed {
			continue
		}

		slog.Debug("refused interaction",
			"gate", outcome.Gate,
			"identifier", def.Name,
			"user_id", ev.UserID,
			"guild_id", ev.GuildID,
		)
		if r.metrics != nil {
			r.metrics.GateDenials.WithLabelValues(outcome.Gate).Inc()
		}
		r.count(kind, metrics.OutcomeDenied)
		r.respond(resp, interaction.Notice(outcome.Title, outcome.Message))
		return metrics.OutcomeDenied
	}

	start := time.Now()
	err := r.invoke(ctx, s, i, def, resp)
	if r.metrics != nil {
		r.metrics.HandlerDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		r.count(kind, metrics.OutcomeFailed)
		r.fail(resp)
		return metrics.OutcomeFailed
	}

	r.count(kind, metrics.OutcomeHandled)
	return metrics.OutcomeHandled
}

// invoke runs the handler, converting a panic into an error. Failures are
// reported before returning.
func (r *Router) invoke(
	ctx context.Context,
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	def *definition.Definition,
	resp interaction.Responder,
) (err error) {
	origin := faults.HandlerOrigin(def.Name)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("handler panicked", "identifier", def.Name, "panic", p)
			if r.reporter != nil {
				r.reporter.ReportPanic(ctx, origin, p, debug.Stack())
			}
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, p)
		}
	}()

	if err := def.Handler(ctx, s, i, resp); err != nil {
		slog.Error("failed to handle interaction", "identifier", def.Name, "kind", def.Kind.String(), "error", err)
		if r.reporter != nil {
			r.reporter.Report(ctx, err, origin)
		}
		return err
	}
	return nil
}

func (r *Router) autocomplete(
	ctx context.Context,
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	def *definition.Definition,
) (outcome string) {
	if def.Autocomplete == nil {
		return metrics.OutcomeNotFound
	}

	origin := faults.HandlerOrigin(def.Name)
	defer func() {
		if p := recover(); p != nil {
			if r.reporter != nil {
				r.reporter.ReportPanic(ctx, origin, p, debug.Stack())
			}
			outcome = metrics.OutcomeFailed
		}
	}()

	if err := def.Autocomplete(ctx, s, i); err != nil {
		slog.Error("failed to answer autocomplete", "identifier", def.Name, "error", err)
		if r.reporter != nil {
			r.reporter.Report(ctx, err, origin)
		}
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeHandled
}

// fail tells the caller that something went wrong. If the handler already
// acknowledged the interaction the original response is replaced instead.
func (r *Router) fail(resp interaction.Responder) {
	failure := interaction.Failure("An error occurred while processing your request.")
	if err := resp.Respond(failure); err == nil {
		return
	}

	embeds := failure.Data.Embeds
	if err := resp.Edit(&discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		slog.Debug("failed to deliver failure message", "error", err)
	}
}

func (r *Router) respond(resp interaction.Responder, response *discordgo.InteractionResponse) {
	if err := resp.Respond(response); err != nil {
		slog.Error("failed to send response", "error", err)
	}
}

func (r *Router) count(kind, outcome string) {
	if r.metrics != nil {
		r.metrics.Interactions.WithLabelValues(kind, outcome).Inc()
	}
}

// MemoStats returns the definition memo counters.
func (r *Router) MemoStats() cache.Stats {
	return r.memo.Stats()
}

// Close releases the definition memo.
func (r *Router) Close() {
	r.memo.Close()
}
