package definition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default retry policy for sources that fail to load.
const (
	DefaultLoadAttempts   = 3
	DefaultLoadRetryDelay = 500 * time.Millisecond
)

// Source yields definitions. Modules register sources instead of the bot
// discovering definition files at runtime.
type Source struct {
	Name string
	Load func() ([]*Definition, error)
}

// StaticSource returns a Source that always yields defs.
func StaticSource(name string, defs ...*Definition) Source {
	return Source{
		Name: name,
		Load: func() ([]*Definition, error) { return defs, nil },
	}
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Attempts is the number of times a failing source is tried.
	Attempts int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// Exceptions lists identifiers to leave out of the result.
	Exceptions []string
}

// Rejection records a definition that failed validation or collided.
type Rejection struct {
	Source string
	Name   string
	Err    error
}

// Result is the outcome of a load pass.
type Result struct {
	// Definitions holds accepted definitions in load order.
	Definitions []*Definition
	// Registry indexes Definitions.
	Registry *Registry

	Rejected      []Rejection
	Skipped       []string
	FailedSources []string
}

// Loader validates definitions from a set of sources.
type Loader struct {
	attempts   int
	retryDelay time.Duration
	exceptions []string
}

// NewLoader creates a Loader.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultLoadAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultLoadRetryDelay
	}
	return &Loader{
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		exceptions: opts.Exceptions,
	}
}

// Load reads every source and returns the accepted definitions.
// Malformed definitions and failing sources are logged and skipped; the
// returned error is non-nil only if ctx is cancelled.
// When two definitions share an identifier within a class, the first one
// loaded wins and the later one is rejected with ErrDuplicateIdentifier.
func (l *Loader) Load(ctx context.Context, sources []Source) (*Result, error) {
	result := &Result{Registry: NewRegistry()}
	origins := make(map[string]string)

	for _, src := range sources {
		defs, err := l.loadSource(ctx, src)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Error("failed to load definition source", "source", src.Name, "attempts", l.attempts, "error", err)
			result.FailedSources = append(result.FailedSources, src.Name)
			continue
		}

		for _, def := range defs {
			l.accept(result, origins, src.Name, def)
		}
	}

	slog.Info("loaded definitions",
		"accepted", len(result.Definitions),
		"rejected", len(result.Rejected),
		"skipped", len(result.Skipped),
		"failed_sources", len(result.FailedSources),
	)

	return result, nil
}

func (l *Loader) accept(result *Result, origins map[string]string, source string, def *Definition) {
	if err := def.Validate(); err != nil {
		name := ""
		if def != nil {
			name = def.Name
		}
		slog.Warn("rejected definition", "source", source, "name", name, "error", err)
		result.Rejected = append(result.Rejected, Rejection{Source: source, Name: name, Err: err})
		return
	}

	if slices.Contains(l.exceptions, def.Name) {
		slog.Info("skipped excluded definition", "source", source, "name", def.Name)
		result.Skipped = append(result.Skipped, def.Name)
		return
	}

	if err := result.Registry.Register(def); err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			slog.Warn("ignored duplicate definition, keeping the first one loaded",
				"name", def.Name,
				"class", def.Class().String(),
				"kept_source", origins[def.Key()],
				"ignored_source", source,
			)
		}
		result.Rejected = append(result.Rejected, Rejection{Source: source, Name: def.Name, Err: err})
		return
	}

	origins[def.Key()] = source
	result.Definitions = append(result.Definitions, def)
}

func (l *Loader) loadSource(ctx context.Context, src Source) ([]*Definition, error) {
	if src.Load == nil {
		return nil, fmt.Errorf("source %s has no loader", src.Name)
	}

	return backoff.Retry(ctx,
		func() (defs []*Definition, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("source %s panicked: %v", src.Name, r)
				}
			}()
			return src.Load()
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(l.retryDelay)),
		backoff.WithMaxTries(uint(l.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("retrying definition source", "source", src.Name, "retry_in", next, "error", err)
		}),
	)
}
