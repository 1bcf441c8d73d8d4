package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sglre6355/gatebot/internal/cooldown"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/faults"
	"github.com/sglre6355/gatebot/internal/interaction"
	"github.com/sglre6355/gatebot/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operatorID = "1001"
	userID     = "2002"
	guildID    = "3003"
	testGuild  = "4004"
)

type recordingSink struct {
	mu      sync.Mutex
	records []faults.Record
}

func (s *recordingSink) Send(_ context.Context, rec faults.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

type stubChannels map[string]bool

func (s stubChannels) IsNSFW(_ context.Context, channelID string) (bool, error) {
	nsfw, ok := s[channelID]
	if !ok {
		return false, errors.New("unknown channel")
	}
	return nsfw, nil
}

type fixture struct {
	router    *Router
	registry  *definition.Registry
	operators *Operators
	metrics   *metrics.Metrics
	sink      *recordingSink
	reporter  *faults.Reporter
}

func newFixture(t *testing.T, defs ...*definition.Definition) *fixture {
	t.Helper()

	registry := definition.NewRegistry()
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	tracker, err := cooldown.New(cooldown.Options{SweepInterval: -1})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	sink := &recordingSink{}
	reporter, err := faults.NewReporter(faults.ReporterOptions{Sinks: []faults.Sink{sink}})
	require.NoError(t, err)
	t.Cleanup(reporter.Close)

	operators := NewOperators(
		[]snowflake.ID{1001},
		snowflake.ID(4004),
		false,
	)
	m := metrics.NewIsolated()

	r, err := New(Options{
		Registry:  registry,
		Tracker:   tracker,
		Operators: operators,
		Channels:  stubChannels{"nsfw-channel": true, "sfw-channel": false},
		Reporter:  reporter,
		Metrics:   m,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return &fixture{router: r, registry: registry, operators: operators, metrics: m, sink: sink, reporter: reporter}
}

func (f *fixture) dispatch(i *discordgo.InteractionCreate) (string, *interaction.MockResponder) {
	resp := &interaction.MockResponder{}
	return f.router.Dispatch(context.Background(), nil, i, resp), resp
}

func okHandler(context.Context, *discordgo.Session, *discordgo.InteractionCreate, interaction.Responder) error {
	return nil
}

func slash(name string) *definition.Definition {
	return &definition.Definition{Name: name, Kind: definition.KindCommand, Description: name, Cooldown: -1, Handler: okHandler}
}

func commandEvent(name, user, guild string, perms int64) *discordgo.InteractionCreate {
	i := &discordgo.Interaction{
		Type:           discordgo.InteractionApplicationCommand,
		Data:           discordgo.ApplicationCommandInteractionData{Name: name},
		GuildID:        guild,
		ChannelID:      "sfw-channel",
		AppPermissions: discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks,
	}
	if guild == "" {
		i.User = &discordgo.User{ID: user}
	} else {
		i.Member = &discordgo.Member{User: &discordgo.User{ID: user}, Permissions: perms}
	}
	return &discordgo.InteractionCreate{Interaction: i}
}

func componentEvent(customID, user, owner string) *discordgo.InteractionCreate {
	i := &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID, ComponentType: discordgo.ButtonComponent},
		GuildID:   guildID,
		ChannelID: "sfw-channel",
		Member:    &discordgo.Member{User: &discordgo.User{ID: user}},
	}
	if owner != "" {
		i.Message = &discordgo.Message{Interaction: &discordgo.MessageInteraction{User: &discordgo.User{ID: owner}}}
	}
	return &discordgo.InteractionCreate{Interaction: i}
}

func description(t *testing.T, resp *interaction.MockResponder) string {
	t.Helper()
	last := resp.Last()
	require.NotNil(t, last)
	require.NotEmpty(t, last.Data.Embeds)
	return last.Data.Embeds[0].Description
}

func TestRouter_CooldownGateRunsBeforePermissionGate(t *testing.T) {
	def := slash("purge")
	def.Cooldown = time.Minute
	def.CallerPermissions = discordgo.PermissionManageMessages
	f := newFixture(t, def)

	outcome, resp := f.dispatch(commandEvent("purge", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeDenied, outcome)
	assert.Contains(t, description(t, resp), "Manage Messages")

	outcome, resp = f.dispatch(commandEvent("purge", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeDenied, outcome)
	assert.Contains(t, description(t, resp), "You can use this again")
	assert.NotContains(t, description(t, resp), "Manage Messages")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateDenials.WithLabelValues(GateCooldown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateDenials.WithLabelValues(GateCaller)))
}

func TestRouter_DefaultCooldownApplies(t *testing.T) {
	def := slash("ping")
	def.Cooldown = 0
	f := newFixture(t, def)

	outcome, _ := f.dispatch(commandEvent("ping", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeHandled, outcome)

	outcome, resp := f.dispatch(commandEvent("ping", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeDenied, outcome)
	assert.Equal(t, "Cooldown", resp.Last().Data.Embeds[0].Title)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Last().Data.Flags)

	outcome, _ = f.dispatch(commandEvent("ping", "someone-else", guildID, 0))
	assert.Equal(t, metrics.OutcomeHandled, outcome, "cooldowns are per user")
}

func TestRouter_UnknownIdentifier(t *testing.T) {
	f := newFixture(t)

	outcome, resp := f.dispatch(commandEvent("missing", userID, guildID, 0))

	assert.Equal(t, metrics.OutcomeNotFound, outcome)
	assert.Equal(t, 1, resp.Count())
	assert.Contains(t, description(t, resp), "not recognized")
}

func TestRouter_IgnoresPing(t *testing.T) {
	f := newFixture(t)
	outcome, resp := f.dispatch(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	assert.Empty(t, outcome)
	assert.Zero(t, resp.Count())
}

func TestRouter_HandlerErrorIsReported(t *testing.T) {
	def := slash("stats")
	def.Handler = func(context.Context, *discordgo.Session, *discordgo.InteractionCreate, interaction.Responder) error {
		return errors.New("database unavailable")
	}
	f := newFixture(t, def)

	outcome, resp := f.dispatch(commandEvent("stats", userID, guildID, 0))

	assert.Equal(t, metrics.OutcomeFailed, outcome)
	assert.Equal(t, "Error", resp.Last().Data.Embeds[0].Title)
	assert.NotContains(t, description(t, resp), "database unavailable")

	records := f.reporter.Records()
	require.Len(t, records, 1)
	assert.Equal(t, faults.HandlerOrigin("stats"), records[0].Origin)
	assert.Len(t, f.sink.records, 1)
}

func TestRouter_HandlerPanicIsRecovered(t *testing.T) {
	def := slash("boom")
	def.Handler = func(context.Context, *discordgo.Session, *discordgo.InteractionCreate, interaction.Responder) error {
		var m map[string]int
		m["x"]++
		return nil
	}
	f := newFixture(t, def)

	var outcome string
	require.NotPanics(t, func() {
		outcome, _ = f.dispatch(commandEvent("boom", userID, guildID, 0))
	})

	assert.Equal(t, metrics.OutcomeFailed, outcome)
	records := f.reporter.Records()
	require.Len(t, records, 1)
	assert.Equal(t, faults.SeverityHigh, records[0].Severity)
	assert.NotEmpty(t, records[0].Stack)
}

func TestRouter_FailureReplacesAcknowledgedResponse(t *testing.T) {
	def := slash("slow")
	def.Handler = func(_ context.Context, _ *discordgo.Session, _ *discordgo.InteractionCreate, r interaction.Responder) error {
		if err := r.Respond(&discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}); err != nil {
			return err
		}
		return errors.New("upstream timeout")
	}
	f := newFixture(t, def)

	resp := &acknowledgingResponder{}
	outcome := f.router.Dispatch(context.Background(), nil, commandEvent("slow", userID, guildID, 0), resp)

	assert.Equal(t, metrics.OutcomeFailed, outcome)
	require.NotNil(t, resp.LastEdit)
	require.NotNil(t, resp.LastEdit.Embeds)
	assert.Equal(t, "Error", (*resp.LastEdit.Embeds)[0].Title)
}

// acknowledgingResponder rejects every response after the first, like
// Discord does for an already acknowledged interaction.
type acknowledgingResponder struct {
	interaction.MockResponder
}

func (r *acknowledgingResponder) Respond(response *discordgo.InteractionResponse) error {
	if r.Count() > 0 {
		return errors.New("interaction has already been acknowledged")
	}
	return r.MockResponder.Respond(response)
}

func TestRouter_MaintenanceGate(t *testing.T) {
	f := newFixture(t, slash("ping"))
	f.operators.SetMaintenance(true)

	outcome, resp := f.dispatch(commandEvent("ping", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeDenied, outcome)
	assert.Equal(t, "Maintenance", resp.Last().Data.Embeds[0].Title)

	outcome, _ = f.dispatch(commandEvent("ping", operatorID, guildID, 0))
	assert.Equal(t, metrics.OutcomeHandled, outcome)

	f.operators.SetMaintenance(false)
	outcome, _ = f.dispatch(commandEvent("ping", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeHandled, outcome)
}

func TestRouter_AudienceGates(t *testing.T) {
	dev := slash("eval")
	dev.DevOnly = true
	test := slash("experimental")
	test.TestMode = true
	nsfw := slash("spicy")
	nsfw.NSFWOnly = true
	f := newFixture(t, dev, test, nsfw)

	tests := []struct {
		name    string
		event   *discordgo.InteractionCreate
		outcome string
		gate    string
	}{
		{name: "dev only refuses users", event: commandEvent("eval", userID, guildID, 0), outcome: metrics.OutcomeDenied, gate: GateDevOnly},
		{name: "dev only admits operators", event: commandEvent("eval", operatorID, guildID, 0), outcome: metrics.OutcomeHandled},
		{name: "test mode outside test guild", event: commandEvent("experimental", userID, guildID, 0), outcome: metrics.OutcomeDenied, gate: GateTestMode},
		{name: "test mode in test guild", event: commandEvent("experimental", userID, testGuild, 0), outcome: metrics.OutcomeHandled},
		{name: "nsfw in dm", event: commandEvent("spicy", userID, "", 0), outcome: metrics.OutcomeDenied, gate: GateNSFW},
		{name: "nsfw in regular channel", event: commandEvent("spicy", userID, guildID, 0), outcome: metrics.OutcomeDenied, gate: GateNSFW},
		{name: "nsfw in age-restricted channel", event: func() *discordgo.InteractionCreate {
			i := commandEvent("spicy", userID, guildID, 0)
			i.ChannelID = "nsfw-channel"
			return i
		}(), outcome: metrics.OutcomeHandled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := 0.0
			if tt.gate != "" {
				before = testutil.ToFloat64(f.metrics.GateDenials.WithLabelValues(tt.gate))
			}

			outcome, _ := f.dispatch(tt.event)
			assert.Equal(t, tt.outcome, outcome)

			if tt.gate != "" {
				assert.Equal(t, before+1, testutil.ToFloat64(f.metrics.GateDenials.WithLabelValues(tt.gate)))
			}
		})
	}
}

func TestRouter_PermissionGates(t *testing.T) {
	def := slash("embed")
	def.AgentPermissions = discordgo.PermissionAttachFiles
	f := newFixture(t, def)

	outcome, resp := f.dispatch(commandEvent("embed", userID, guildID, 0))
	assert.Equal(t, metrics.OutcomeDenied, outcome)
	assert.Contains(t, description(t, resp), "Attach Files")

	admin := slash("admin")
	admin.CallerPermissions = discordgo.PermissionBanMembers
	f = newFixture(t, admin)

	outcome, _ = f.dispatch(commandEvent("admin", userID, guildID, discordgo.PermissionAdministrator))
	assert.Equal(t, metrics.OutcomeHandled, outcome)

	outcome, _ = f.dispatch(commandEvent("admin", userID, "", 0))
	assert.Equal(t, metrics.OutcomeHandled, outcome, "caller permissions do not apply in DMs")
}

func TestRouter_ComponentRoutingAndOwnership(t *testing.T) {
	var gotArgs string
	button := &definition.Definition{
		Name:     "ping-again",
		Kind:     definition.KindButton,
		Cooldown: -1,
		Handler: func(_ context.Context, _ *discordgo.Session, i *discordgo.InteractionCreate, _ interaction.Responder) error {
			_, gotArgs = definition.SplitCustomID(i.MessageComponentData().CustomID)
			return nil
		},
	}
	f := newFixture(t, button)

	outcome, resp := f.dispatch(componentEvent("ping-again:42", "intruder", userID))
	assert.Equal(t, metrics.OutcomeDenied, outcome)
	assert.Equal(t, "Not yours", resp.Last().Data.Embeds[0].Title)

	outcome, _ = f.dispatch(componentEvent("ping-again:42", userID, userID))
	assert.Equal(t, metrics.OutcomeHandled, outcome)
	assert.Equal(t, "42", gotArgs)

	outcome, _ = f.dispatch(componentEvent("ping-again", "anyone", ""))
	assert.Equal(t, metrics.OutcomeHandled, outcome, "components without an owner are open")
}

func TestRouter_CommandAndComponentNamespacesAreSeparate(t *testing.T) {
	f := newFixture(t, slash("ping"))

	outcome, _ := f.dispatch(componentEvent("ping", userID, ""))
	assert.Equal(t, metrics.OutcomeNotFound, outcome)
}

func TestRouter_AutocompleteBypassesGates(t *testing.T) {
	called := false
	def := slash("search")
	def.DevOnly = true
	def.Autocomplete = func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
		called = true
		return nil
	}
	f := newFixture(t, def)
	f.operators.SetMaintenance(true)

	event := commandEvent("search", userID, guildID, 0)
	event.Type = discordgo.InteractionApplicationCommandAutocomplete

	outcome, resp := f.dispatch(event)
	assert.Equal(t, metrics.OutcomeHandled, outcome)
	assert.True(t, called)
	assert.Zero(t, resp.Count())
}

func TestRouter_ResolveMemoizesDefinitions(t *testing.T) {
	f := newFixture(t, slash("ping"))

	_, ok := f.router.Resolve(definition.ClassCommand, "ping")
	require.True(t, ok)
	_, ok = f.router.Resolve(definition.ClassCommand, "ping")
	require.True(t, ok)
	_, ok = f.router.Resolve(definition.ClassCommand, "missing")
	require.False(t, ok)

	stats := f.router.MemoStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestRouter_CountsOutcomes(t *testing.T) {
	f := newFixture(t, slash("ping"))

	f.dispatch(commandEvent("ping", userID, guildID, 0))
	f.dispatch(commandEvent("missing", userID, guildID, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Interactions.WithLabelValues("command", metrics.OutcomeHandled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Interactions.WithLabelValues("command", metrics.OutcomeNotFound)))
}

func TestNew_RequiresRegistryAndTracker(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Registry: definition.NewRegistry()})
	require.Error(t, err)
}
