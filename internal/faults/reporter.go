package faults

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"

	"github.com/sglre6355/gatebot/internal/cache"
	"github.com/sglre6355/gatebot/internal/metrics"
)

// Reporter defaults.
const (
	DefaultCapacity = 500
	DefaultCeiling  = 5
)

// Sink receives forwarded fault records.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	Classifier *Classifier
	Sinks      []Sink
	// Capacity bounds the number of distinct records kept. The least
	// recently seen record is dropped first.
	Capacity int
	// Ceiling is the number of occurrences of a hash forwarded per
	// classification window. Later occurrences are only counted.
	Ceiling int
	Metrics *metrics.Metrics
	// Exit terminates the process after a guarded panic. Defaults to os.Exit.
	Exit func(code int)
}

// Reporter groups faults into records and forwards them to sinks.
// It is safe for concurrent use and never panics.
type Reporter struct {
	classifier *Classifier
	sinks      []Sink
	ceiling    int
	metrics    *metrics.Metrics
	exit       func(int)

	mu      sync.Mutex
	records *cache.Cache[string, *Record]
}

// NewReporter creates a Reporter.
func NewReporter(opts ReporterOptions) (*Reporter, error) {
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(ClassifierOptions{})
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	records, err := cache.New(cache.Options[string, *Record]{
		Name:     "fault-records",
		Capacity: opts.Capacity,
		Policy:   cache.LRU,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fault record store: %w", err)
	}

	return &Reporter{
		classifier: opts.Classifier,
		sinks:      opts.Sinks,
		ceiling:    opts.Ceiling,
		metrics:    opts.Metrics,
		exit:       opts.Exit,
		records:    records,
	}, nil
}

// Report records err under origin and forwards it unless its hash is over
// the ceiling. It returns the updated record.
func (r *Reporter) Report(ctx context.Context, err error, origin string) Record {
	if err == nil {
		return Record{}
	}
	return r.report(ctx, Fault{Err: err, Origin: origin})
}

// ReportPanic records a value recovered from a panic.
func (r *Reporter) ReportPanic(ctx context.Context, origin string, recovered any, stack []byte) Record {
	var err error
	switch v := recovered.(type) {
	case error:
		err = fmt.Errorf("panic: %w", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}
	return r.report(ctx, Fault{Err: err, Origin: origin, Stack: stack, Panic: true})
}

// Guard recovers a panic on the calling goroutine, reports it as a critical
// process fault, runs teardown and exits. Use it with defer.
func (r *Reporter) Guard(teardown func()) {
	recovered := recover()
	if recovered == nil {
		return
	}

	rec := r.ReportPanic(context.Background(), OriginProcess, recovered, debug.Stack())
	slog.Error("unrecoverable fault, shutting down", "hash", rec.Hash, "error", rec.Message)

	if teardown != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("teardown panicked", "panic", p)
				}
			}()
			teardown()
		}()
	}
	r.exit(1)
}

func (r *Reporter) report(ctx context.Context, f Fault) (rec Record) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("fault reporter panicked", "panic", p, "origin", f.Origin)
		}
	}()

	rec = r.store(r.classifier.Classify(f))
	forward := rec.Recent <= r.ceiling

	if r.metrics != nil {
		r.metrics.FaultReports.WithLabelValues(rec.Severity.String(), strconv.FormatBool(forward)).Inc()
	}

	if !forward {
		slog.Debug("suppressed repeated fault",
			"hash", rec.Hash,
			"origin", rec.Origin,
			"count", rec.Count,
			"recent", rec.Recent,
		)
		return rec
	}

	for _, sink := range r.sinks {
		r.send(ctx, sink, rec)
	}
	return rec
}

func (r *Reporter) store(occurrence Record) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records.Get(occurrence.Hash)
	if !ok {
		stored = &occurrence
		r.records.Set(occurrence.Hash, stored)
		return *stored
	}

	stored.Count++
	stored.Recent = occurrence.Recent
	stored.LastSeen = occurrence.LastSeen
	stored.Severity = max(stored.Severity, occurrence.Severity)
	stored.Recoverable = stored.Recoverable && occurrence.Recoverable
	stored.Resolved = false
	for _, h := range occurrence.Hints {
		if !slices.Contains(stored.Hints, h) {
			stored.Hints = append(stored.Hints, h)
		}
	}
	if stored.Stack == "" {
		stored.Stack = occurrence.Stack
	}

	snapshot := *stored
	snapshot.Hints = slices.Clone(stored.Hints)
	return snapshot
}

func (r *Reporter) send(ctx context.Context, sink Sink, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("fault sink panicked", "hash", rec.Hash, "panic", p)
		}
	}()

	if err := sink.Send(ctx, rec); err != nil {
		slog.Error("failed to forward fault", "hash", rec.Hash, "error", err)
	}
}

// Resolve marks the record with hash as resolved. It reports whether the
// record exists.
func (r *Reporter) Resolve(hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records.Peek(hash)
	if !ok {
		return false
	}
	stored.Resolved = true
	return true
}

// Records returns a snapshot of every record, most recently seen first.
func (r *Reporter) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.records.Keys()
	result := make([]Record, 0, len(keys))
	for _, key := range keys {
		if stored, ok := r.records.Peek(key); ok {
			rec := *stored
			rec.Hints = slices.Clone(stored.Hints)
			result = append(result, rec)
		}
	}
	return result
}

// Stats returns the record store counters.
func (r *Reporter) Stats() cache.Stats {
	return r.records.Stats()
}

// Close releases the record store.
func (r *Reporter) Close() {
	r.records.Close()
}
