package presentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/interaction"
	"github.com/sglre6355/gatebot/internal/modules/core/application"
	"github.com/sglre6355/gatebot/internal/modules/core/domain"
	"github.com/sglre6355/gatebot/internal/router"
)

// PingAgainComponent routes the button attached to /ping replies.
const PingAgainComponent = "ping-again"

// Resync prompt actions.
const (
	ActionApply  = "apply"
	ActionCancel = "cancel"
)

// PingHandler handles the /ping command and its ping-again button.
type PingHandler struct {
	interactor *application.PingInteractor
}

// NewPingHandler creates a new PingHandler.
func NewPingHandler(latency func() time.Duration) *PingHandler {
	return &PingHandler{
		interactor: application.NewPingInteractor(latency),
	}
}

// Handle processes the ping command and sends the response.
func (h *PingHandler) Handle(
	_ context.Context,
	_ *discordgo.Session,
	_ *discordgo.InteractionCreate,
	r interaction.Responder,
) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: h.pingData(),
	})
}

// HandleAgain refreshes the ping reply in place.
func (h *PingHandler) HandleAgain(
	_ context.Context,
	_ *discordgo.Session,
	_ *discordgo.InteractionCreate,
	r interaction.Responder,
) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: h.pingData(),
	})
}

func (h *PingHandler) pingData() *discordgo.InteractionResponseData {
	result := h.interactor.Execute()

	return &discordgo.InteractionResponseData{
		Content: result.Message,
		Embeds: []*discordgo.MessageEmbed{
			{
				Description: "Gateway latency: " + result.LatencyText(),
				Color:       interaction.ColorInfo,
				Timestamp:   result.Timestamp.Format(time.RFC3339),
			},
		},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Ping again",
						Style:    discordgo.SecondaryButton,
						CustomID: definition.CustomID(PingAgainComponent),
					},
				},
			},
		},
	}
}

// StatsHandler handles the /stats command.
type StatsHandler struct {
	interactor *application.StatsInteractor
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(source application.StatsSource) *StatsHandler {
	return &StatsHandler{
		interactor: application.NewStatsInteractor(source),
	}
}

// Handle replies with the engine statistics.
func (h *StatsHandler) Handle(
	_ context.Context,
	_ *discordgo.Session,
	_ *discordgo.InteractionCreate,
	r interaction.Responder,
) error {
	stats := h.interactor.Execute()

	fields := []*discordgo.MessageEmbedField{
		{Name: "Uptime", Value: domain.FormatUptime(stats.Uptime), Inline: true},
		{Name: "Definitions", Value: fmt.Sprint(stats.Definitions), Inline: true},
		{Name: "Maintenance", Value: onOff(stats.Maintenance), Inline: true},
		{Name: "Active cooldowns", Value: fmt.Sprint(stats.Cooldowns), Inline: true},
		{Name: "Pending prompts", Value: fmt.Sprint(stats.PendingPrompts), Inline: true},
		{Name: "Open faults", Value: fmt.Sprint(stats.OpenFaults), Inline: true},
		{Name: "Heap", Value: fmt.Sprintf("%.1f MB", stats.Usage.HeapMB), Inline: true},
		{Name: "CPU", Value: fmt.Sprintf("%.1f%%", stats.Usage.CPUPercent), Inline: true},
		{Name: "Goroutines", Value: fmt.Sprint(stats.Usage.Goroutines), Inline: true},
	}
	for _, name := range slices.Sorted(maps.Keys(stats.Caches)) {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Cache: " + name,
			Value: domain.FormatCache(stats.Caches[name]),
		})
	}

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:  "Engine statistics",
					Color:  interaction.ColorInfo,
					Fields: fields,
				},
			},
		},
	})
}

// MaintenanceHandler handles the /maintenance command.
type MaintenanceHandler struct {
	interactor *application.MaintenanceInteractor
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(mode application.MaintenanceSwitch) *MaintenanceHandler {
	return &MaintenanceHandler{
		interactor: application.NewMaintenanceInteractor(mode),
	}
}

// MaintenanceOption is the boolean option of /maintenance.
const MaintenanceOption = "enabled"

// Handle switches maintenance mode.
func (h *MaintenanceHandler) Handle(
	_ context.Context,
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r interaction.Responder,
) error {
	on := false
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == MaintenanceOption {
			on = opt.BoolValue()
		}
	}

	result := h.interactor.Execute(on)
	slog.Info("set maintenance mode", "enabled", result.Enabled, "changed", result.Changed, "user_id", callerID(i))

	title := "Maintenance mode " + onOff(result.Enabled)
	description := "Only operators can use the bot until maintenance mode is turned off."
	if !result.Enabled {
		description = "Everyone can use the bot again."
	}
	if !result.Changed {
		description = "Nothing changed. " + description
	}

	return r.Respond(interaction.EmbedResponse(title, description, interaction.ColorSuccess, true))
}

// ResyncHandler handles the /resync command. It shows the pending changes
// and applies them once the caller confirms.
type ResyncHandler struct {
	interactor *application.ResyncInteractor
	collector  *router.Collector
	timeout    time.Duration
}

// NewResyncHandler creates a new ResyncHandler. Unanswered confirmations
// expire after timeout.
func NewResyncHandler(resyncer application.Resyncer, collector *router.Collector, timeout time.Duration) *ResyncHandler {
	return &ResyncHandler{
		interactor: application.NewResyncInteractor(resyncer),
		collector:  collector,
		timeout:    timeout,
	}
}

// Handle plans a synchronization and waits for confirmation. Planning
// fetches the registered commands, so the reply is deferred first.
func (h *ResyncHandler) Handle(
	ctx context.Context,
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r interaction.Responder,
) error {
	if err := r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		return err
	}

	plan, err := h.interactor.Plan(ctx)
	if err != nil {
		return fmt.Errorf("failed to plan command sync: %w", err)
	}

	pending := domain.PendingChanges(plan.Diffs)
	if pending == 0 {
		embeds := []*discordgo.MessageEmbed{
			{
				Title:       "Commands are up to date",
				Description: "The registered commands already match the loaded definitions.",
				Color:       interaction.ColorSuccess,
			},
		}
		return r.Edit(&discordgo.WebhookEdit{Embeds: &embeds})
	}

	prompt := h.collector.Open(callerID(i))
	buttons := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Apply", Style: discordgo.PrimaryButton, CustomID: prompt.CustomID(ActionApply)},
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: prompt.CustomID(ActionCancel)},
			},
		},
	}

	embeds := []*discordgo.MessageEmbed{
		{
			Title:       fmt.Sprintf("%d pending command changes", pending),
			Description: domain.DescribeDiffs(plan.Diffs),
			Color:       interaction.ColorInfo,
		},
	}
	if err := r.Edit(&discordgo.WebhookEdit{Embeds: &embeds, Components: &buttons}); err != nil {
		return err
	}

	reply, err := h.collector.Await(ctx, prompt, h.timeout)
	if errors.Is(err, router.ErrPromptTimeout) {
		disabled := interaction.DisableComponents(buttons)
		return r.Edit(&discordgo.WebhookEdit{Components: &disabled})
	}
	if err != nil {
		return err
	}

	if reply.Action != ActionApply {
		return reply.Responder.Respond(&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{
					{Title: "Resync cancelled", Color: interaction.ColorWarning},
				},
				Components: []discordgo.MessageComponent{},
			},
		})
	}

	if err := reply.Responder.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		return err
	}

	// Sync failures reach the fault reporter through the engine; the caller
	// only gets the summary.
	report, err := h.interactor.Apply(ctx)
	embed := &discordgo.MessageEmbed{Title: "Commands synchronized", Color: interaction.ColorSuccess}
	switch {
	case report != nil:
		embed.Description = domain.DescribeReport(report)
		if len(report.Failures) > 0 {
			embed.Color = interaction.ColorWarning
		}
	case err != nil:
		embed.Title = "Resync failed"
		embed.Description = err.Error()
		embed.Color = interaction.ColorError
	}

	summary := []*discordgo.MessageEmbed{embed}
	components := []discordgo.MessageComponent{}
	return reply.Responder.Edit(&discordgo.WebhookEdit{Embeds: &summary, Components: &components})
}

// ReadyHandler logs gateway sessions.
type ReadyHandler struct{}

// HandleReady is the discordgo event handler for Ready events.
func (ReadyHandler) HandleReady(_ *discordgo.Session, r *discordgo.Ready) {
	slog.Info("connected to gateway",
		"session_id", r.SessionID,
		"guilds", len(r.Guilds),
	)
}

func callerID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	default:
		return ""
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
