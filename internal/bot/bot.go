package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/cache"
	"github.com/sglre6355/gatebot/internal/commandsync"
	"github.com/sglre6355/gatebot/internal/cooldown"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/faults"
	"github.com/sglre6355/gatebot/internal/metrics"
	"github.com/sglre6355/gatebot/internal/router"
)

// Bot manages the Discord bot lifecycle and module coordination.
type Bot struct {
	config  *Config
	metrics *metrics.Metrics
	session *discordgo.Session
	remote  commandsync.Remote
	modules []Module
	// started holds the connection time in Unix nanoseconds, zero before Start.
	started atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	operators *router.Operators
	tracker   *cooldown.Tracker
	channels  *router.ChannelInfo
	nsfw      router.NSFWChecker
	probe     faults.ResourceProbe
	reporter  *faults.Reporter
	collector *router.Collector

	registry *definition.Registry
	router   *router.Router
}

// NewBot creates a Bot and the engine components it owns. No connection is
// made until Start. m may be nil to disable metrics.
func NewBot(cfg *Config, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	b := &Bot{
		config:    cfg,
		metrics:   m,
		session:   session,
		remote:    session,
		modules:   make([]Module, 0),
		operators: router.NewOperators(cfg.OperatorIDs, cfg.TestGuildID, cfg.Maintenance),
		probe:     faults.NewRuntimeProbe(),
		collector: router.NewCollector(0),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	if err := b.buildComponents(); err != nil {
		b.closeComponents()
		return nil, err
	}

	return b, nil
}

func (b *Bot) buildComponents() error {
	var err error

	b.tracker, err = cooldown.New(cooldown.Options{
		Capacity:      b.config.CooldownCapacity,
		SweepInterval: b.config.CooldownSweepInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create cooldown tracker: %w", err)
	}

	b.channels, err = router.NewChannelInfo(b.session, router.ChannelInfoOptions{
		State:         b.session.State,
		Capacity:      b.config.CacheCapacity,
		TTL:           b.config.CacheTTL,
		SweepInterval: b.config.CacheSweepInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create channel cache: %w", err)
	}
	b.nsfw = b.channels

	sinks := []faults.Sink{faults.LogSink{}}
	if b.config.ErrorChannelID != 0 {
		sinks = append(sinks, faults.NewChannelSink(b.session, b.config.ErrorChannelID.String()))
	}
	b.reporter, err = faults.NewReporter(faults.ReporterOptions{
		Classifier: faults.NewClassifier(faults.ClassifierOptions{
			Probe:               b.probe,
			MemoryThresholdMB:   b.config.MemoryThresholdMB,
			CPUThresholdPercent: b.config.CPUThresholdPercent,
			Window:              b.config.ErrorReportWindow,
		}),
		Sinks:   sinks,
		Ceiling: b.config.ErrorReportCeiling,
		Metrics: b.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create fault reporter: %w", err)
	}

	if b.metrics != nil {
		b.metrics.ObserveCache("channels", b.channels.Stats)
		b.metrics.ObserveCache("faults", b.reporter.Stats)
		b.metrics.ObserveGauge("cooldowns_active", "Number of tracked cooldown windows.",
			func() float64 { return float64(b.tracker.Len()) })
		b.metrics.ObserveGauge("prompts_pending", "Number of prompts awaiting a reply.",
			func() float64 { return float64(b.collector.Pending()) })
	}

	return nil
}

// LoadModules loads modules from the global registry.
func (b *Bot) LoadModules() {
	b.modules = Modules()
}

// Session returns the Discord session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Reporter returns the fault reporter.
func (b *Bot) Reporter() *faults.Reporter {
	return b.reporter
}

// Start initializes modules and definitions, connects to Discord, and
// reconciles the registered commands.
func (b *Bot) Start() error {
	if err := b.Prepare(); err != nil {
		return err
	}

	// Register interaction handler
	b.session.AddHandler(b.handleInteraction)

	// Register module event handlers
	b.registerEventHandlers()

	// Open connection
	b.started.Store(time.Now().UnixNano())
	if err := b.session.Open(); err != nil {
		b.started.Store(0)
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	if b.config.SyncOnStart {
		// Failures are reported by sync; the bot keeps serving.
		if _, err := b.Resync(b.ctx, false); err != nil {
			slog.Error("failed to sync commands", "error", err)
		}
	}

	slog.Info("started bot",
		"user_id", b.session.State.User.ID,
		"username", b.session.State.User.Username,
		"definitions", b.registry.Len(),
		"maintenance", b.operators.Maintenance(),
	)

	return nil
}

// Prepare initializes modules, loads their definitions and builds the
// router. It does not touch the network and is called by Start.
func (b *Bot) Prepare() error {
	if err := b.initModules(); err != nil {
		return fmt.Errorf("failed to initialize modules: %w", err)
	}

	if err := b.loadDefinitions(b.ctx); err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}

	r, err := router.New(router.Options{
		Registry:           b.registry,
		Tracker:            b.tracker,
		Operators:          b.operators,
		Channels:           b.nsfw,
		Reporter:           b.reporter,
		Metrics:            b.metrics,
		DefaultCooldown:    b.config.DefaultCooldown,
		CacheCapacity:      b.config.CacheCapacity,
		CacheTTL:           b.config.CacheTTL,
		CacheSweepInterval: b.config.CacheSweepInterval,
		BaseContext:        b.ctx,
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	b.router = r

	if b.metrics != nil {
		b.metrics.ObserveCache("definitions", r.MemoStats)
	}

	return nil
}

// Stop gracefully shuts down the bot.
func (b *Bot) Stop() error {
	b.cancel()

	// Shutdown modules
	for _, mod := range b.modules {
		if err := mod.Shutdown(); err != nil {
			slog.Warn("failed to shutdown module", "module", mod.Name(), "error", err)
		}
	}

	// Close Discord session
	err := b.session.Close()

	b.closeComponents()

	return err
}

func (b *Bot) closeComponents() {
	if b.router != nil {
		b.router.Close()
	}
	if b.channels != nil {
		b.channels.Close()
	}
	if b.tracker != nil {
		b.tracker.Close()
	}
	if b.reporter != nil {
		b.reporter.Close()
	}
	b.cancel()
}

// initModules initializes all loaded modules.
func (b *Bot) initModules() error {
	deps := ModuleDependencies{
		Session:   b.session,
		Operators: b.operators,
		Collector: b.collector,
		Reporter:  b.reporter,
		Controls:  b,
	}

	for _, mod := range b.modules {
		if cm, ok := mod.(ConfigurableModule); ok {
			if err := cm.LoadConfig(); err != nil {
				return fmt.Errorf("failed to load %s module config: %w", mod.Name(), err)
			}
		}
		if err := mod.Init(deps); err != nil {
			return fmt.Errorf("failed to initialize %s module: %w", mod.Name(), err)
		}
		slog.Debug("initialized module", "module", mod.Name())
	}

	moduleNames := make([]string, len(b.modules))
	for i, mod := range b.modules {
		moduleNames[i] = mod.Name()
	}
	slog.Info("initialized modules", "modules", moduleNames)

	return nil
}

// sources returns one definition source per module, after the built-in
// prompt button.
func (b *Bot) sources() []definition.Source {
	sources := []definition.Source{
		definition.StaticSource("prompts", b.collector.Definition()),
	}
	for _, mod := range b.modules {
		sources = append(sources, definition.Source{
			Name: mod.Name(),
			Load: func() ([]*definition.Definition, error) {
				return mod.Definitions(), nil
			},
		})
	}
	return sources
}

// loadDefinitions builds the definition registry from the loaded modules.
// Rejected definitions are reported but do not stop the bot.
func (b *Bot) loadDefinitions(ctx context.Context) error {
	loader := definition.NewLoader(definition.LoaderOptions{
		Exceptions: b.config.ExcludedDefinitions,
	})

	result, err := loader.Load(ctx, b.sources())
	if err != nil {
		return err
	}

	for _, rej := range result.Rejected {
		b.reporter.Report(ctx, fmt.Errorf("definition %q from %s: %w", rej.Name, rej.Source, rej.Err), faults.OriginLoad)
	}
	for _, name := range result.FailedSources {
		b.reporter.Report(ctx, fmt.Errorf("definition source %s failed", name), faults.OriginLoad)
	}

	b.registry = result.Registry
	return nil
}

// registerEventHandlers registers all module event handlers with the session.
func (b *Bot) registerEventHandlers() {
	for _, mod := range b.modules {
		for _, handler := range mod.EventHandlers() {
			b.session.AddHandler(b.guarded(handler))
		}
	}
}

// handleInteraction routes an interaction. discordgo calls it on its own
// goroutine, so a panic escaping the router is a process fault.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer b.reporter.Guard(b.teardown)
	b.router.Handle(s, i)
}

// guarded wraps an event handler so that a panic is handled like one in
// handleInteraction. The wrapper keeps the handler's signature, which
// discordgo uses to pick the event type.
func (b *Bot) guarded(handler EventHandler) EventHandler {
	fn := reflect.ValueOf(handler)
	if fn.Kind() != reflect.Func {
		return handler
	}
	return reflect.MakeFunc(fn.Type(), func(args []reflect.Value) []reflect.Value {
		defer b.reporter.Guard(b.teardown)
		return fn.Call(args)
	}).Interface()
}

// teardown stops the bot after an unrecoverable fault.
func (b *Bot) teardown() {
	if err := b.Stop(); err != nil {
		slog.Error("failed to shutdown", "error", err)
	}
}

// applicationID returns the configured application ID, falling back to the
// bot user, which shares its ID with the application.
func (b *Bot) applicationID(ctx context.Context) (string, error) {
	if b.config.ApplicationID != 0 {
		return b.config.ApplicationID.String(), nil
	}
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID, nil
	}

	user, err := b.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to resolve application ID: %w", err)
	}
	return user.ID, nil
}

// Resync reconciles the registered commands with the loaded definitions.
func (b *Bot) Resync(ctx context.Context, dryRun bool) (*commandsync.Report, error) {
	if b.registry == nil {
		return nil, errors.New("definitions are not loaded")
	}

	appID, err := b.applicationID(ctx)
	if err != nil {
		return nil, err
	}

	testGuild := ""
	if b.config.TestGuildID != 0 {
		testGuild = b.config.TestGuildID.String()
	}

	syncer, err := commandsync.NewSyncer(b.remote, commandsync.Options{
		ApplicationID: appID,
		TestGuildID:   testGuild,
		Rate:          b.config.SyncRate,
		DryRun:        dryRun,
		Metrics:       b.metrics,
	})
	if err != nil {
		return nil, err
	}

	return b.sync(ctx, syncer)
}

func (b *Bot) sync(ctx context.Context, syncer *commandsync.Syncer) (report *commandsync.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			b.reporter.ReportPanic(ctx, faults.OriginSync, p, debug.Stack())
			err = fmt.Errorf("command sync panicked: %v", p)
		}
	}()

	report, err = syncer.Sync(ctx, b.registry.Commands())
	if report != nil {
		for _, f := range report.Failures {
			b.reporter.Report(ctx, f, faults.OriginSync)
		}
	}
	if err != nil && (report == nil || len(report.Failures) == 0) {
		b.reporter.Report(ctx, err, faults.OriginSync)
	}
	return report, err
}

// Stats implements Controls.
func (b *Bot) Stats() Stats {
	stats := Stats{
		Cooldowns:      b.tracker.Len(),
		PendingPrompts: b.collector.Pending(),
		Maintenance:    b.operators.Maintenance(),
		Caches: map[string]cache.Stats{
			"channels": b.channels.Stats(),
			"faults":   b.reporter.Stats(),
		},
		Usage: b.probe.Sample(),
	}
	if started := b.started.Load(); started != 0 {
		stats.Uptime = time.Since(time.Unix(0, started))
	}
	if b.registry != nil {
		stats.Definitions = b.registry.Len()
	}
	if b.router != nil {
		stats.Caches["definitions"] = b.router.MemoStats()
	}
	for _, rec := range b.reporter.Records() {
		if !rec.Resolved {
			stats.OpenFaults++
		}
	}
	return stats
}
