package commandsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrMissingApplicationID is returned when the syncer has no application to
// register commands for.
var ErrMissingApplicationID = errors.New("application ID is required")

// DefaultRate is the default number of remote mutations per second.
const DefaultRate = 5

// Mutation operations.
const (
	OperationFetch  = "fetch"
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Options configures a Syncer.
type Options struct {
	ApplicationID string
	// TestGuildID receives test-mode commands. When empty, test-mode
	// commands are not registered anywhere.
	TestGuildID string
	// Rate limits remote mutations per second.
	Rate float64
	// DryRun computes and reports changes without applying them.
	DryRun  bool
	Metrics *metrics.Metrics
}

// Failure is a mutation that could not be applied.
type Failure struct {
	Scope     Scope
	Operation string
	Name      string
	ID        string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s command %q (%s): %v", f.Operation, f.Scope, f.Name, f.ID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarizes a synchronization pass.
type Report struct {
	Diffs    []Diff
	Created  []string
	Updated  []string
	Deleted  []string
	Failures []Failure
	DryRun   bool
}

// Changed reports whether any mutation was applied or planned.
func (r *Report) Changed() bool {
	for _, d := range r.Diffs {
		if !d.Empty() {
			return true
		}
	}
	return false
}

// Syncer reconciles local command definitions with the remote catalogue.
type Syncer struct {
	remote  Remote
	fetcher *Fetcher
	opts    Options
	limiter *rate.Limiter
}

// NewSyncer creates a Syncer.
func NewSyncer(remote Remote, opts Options) (*Syncer, error) {
	if opts.ApplicationID == "" {
		return nil, ErrMissingApplicationID
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}

	return &Syncer{
		remote:  remote,
		fetcher: NewFetcher(remote, opts.ApplicationID),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), 1),
	}, nil
}

// Plan computes the diffs for every scope without applying them.
func (s *Syncer) Plan(ctx context.Context, defs []*definition.Definition) ([]Diff, error) {
	diffs, failures := s.plan(ctx, defs)
	return diffs, joinFailures(failures)
}

func (s *Syncer) plan(ctx context.Context, defs []*definition.Definition) ([]Diff, []Failure) {
	var (
		diffs    []Diff
		failures []Failure
	)

	for _, group := range s.partition(defs) {
		remote, err := s.fetcher.Fetch(ctx, group.scope)
		if err != nil {
			s.count(OperationFetch, err)
			failures = append(failures, Failure{Scope: group.scope, Operation: OperationFetch, Err: err})
			continue
		}
		diffs = append(diffs, Compute(group.defs, remote, group.scope))
	}

	return diffs, failures
}

// Sync makes the remote catalogue match defs. Commands marked TestMode go to
// the test guild and every other command is registered globally.
// A failed mutation is recorded in the report and does not stop the others.
// The returned error is non-nil when a catalogue could not be fetched or ctx
// was cancelled.
func (s *Syncer) Sync(ctx context.Context, defs []*definition.Definition) (*Report, error) {
	start := time.Now()
	report := &Report{DryRun: s.opts.DryRun}

	diffs, fetchFailures := s.plan(ctx, defs)
	report.Diffs = diffs
	report.Failures = append(report.Failures, fetchFailures...)

	if !s.opts.DryRun {
		for _, diff := range diffs {
			if err := s.apply(ctx, diff, report); err != nil {
				return report, err
			}
		}
	}

	slog.Info("synchronized application commands",
		"created", len(report.Created),
		"updated", len(report.Updated),
		"deleted", len(report.Deleted),
		"failed", len(report.Failures),
		"dry_run", s.opts.DryRun,
		"duration", time.Since(start),
	)

	return report, joinFailures(fetchFailures)
}

type scopedDefinitions struct {
	scope Scope
	defs  []*definition.Definition
}

// partition groups command definitions by the scope they are registered in.
// Every configured scope is present, even when empty, so stale remote
// commands get removed.
func (s *Syncer) partition(defs []*definition.Definition) []scopedDefinitions {
	global := scopedDefinitions{scope: GlobalScope}
	test := scopedDefinitions{scope: Scope{GuildID: s.opts.TestGuildID}}

	for _, def := range defs {
		if def == nil || def.Kind != definition.KindCommand {
			continue
		}
		if !def.TestMode {
			global.defs = append(global.defs, def)
			continue
		}
		if s.opts.TestGuildID == "" {
			slog.Warn("test-mode command not registered, no test guild configured", "name", def.Name)
			continue
		}
		test.defs = append(test.defs, def)
	}

	if s.opts.TestGuildID == "" {
		return []scopedDefinitions{global}
	}
	return []scopedDefinitions{global, test}
}

func (s *Syncer) apply(ctx context.Context, diff Diff, report *Report) error {
	appID := s.opts.ApplicationID
	guildID := diff.Scope.GuildID

	for _, d := range diff.Delete {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		err := s.remote.ApplicationCommandDelete(appID, guildID, d.ID, discordgo.WithContext(ctx))
		if s.record(report, diff.Scope, OperationDelete, d.Name, d.ID, err) {
			report.Deleted = append(report.Deleted, d.Name)
		}
	}

	for _, u := range diff.Update {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := s.remote.ApplicationCommandEdit(appID, guildID, u.ID, u.Command, discordgo.WithContext(ctx))
		if s.record(report, diff.Scope, OperationUpdate, u.Name, u.ID, err) {
			slog.Debug("updated command", "scope", diff.Scope.String(), "name", u.Name, "fields", u.Fields)
			report.Updated = append(report.Updated, u.Name)
		}
	}

	for _, c := range diff.Create {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		created, err := s.remote.ApplicationCommandCreate(appID, guildID, c.Command, discordgo.WithContext(ctx))
		id := ""
		if created != nil {
			id = created.ID
		}
		if s.record(report, diff.Scope, OperationCreate, c.Name, id, err) {
			report.Created = append(report.Created, c.Name)
		}
	}

	return nil
}

// record logs the result of a mutation and reports whether it succeeded.
func (s *Syncer) record(report *Report, scope Scope, op, name, id string, err error) bool {
	s.count(op, err)
	if err != nil {
		slog.Error("failed to apply command mutation",
			"scope", scope.String(),
			"operation", op,
			"name", name,
			"id", id,
			"error", err,
		)
		report.Failures = append(report.Failures, Failure{Scope: scope, Operation: op, Name: name, ID: id, Err: err})
		return false
	}
	return true
}

func (s *Syncer) count(op string, err error) {
	if s.opts.Metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.opts.Metrics.SyncMutations.WithLabelValues(op, result).Inc()
}

func joinFailures(failures []Failure) error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
