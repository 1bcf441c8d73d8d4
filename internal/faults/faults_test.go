package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sglre6355/gatebot/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *countingSink) Send(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *countingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type panickingSink struct{}

func (panickingSink) Send(context.Context, Record) error {
	panic("sink exploded")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newReporter(t *testing.T, opts ReporterOptions) *Reporter {
	t.Helper()
	r, err := NewReporter(opts)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func restError(status, code int) error {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: status, Status: http.StatusText(status)},
		ResponseBody: []byte(fmt.Sprintf(`{"code": %d}`, code)),
		Message:      &discordgo.APIErrorMessage{Code: code, Message: "error"},
	}
}

func TestReporter_RateLimitsRepeatedFaults(t *testing.T) {
	sink := &countingSink{}
	m := metrics.NewIsolated()
	r := newReporter(t, ReporterOptions{Sinks: []Sink{sink}, Ceiling: 5, Metrics: m})

	err := errors.New("database is locked")
	for range 12 {
		r.Report(context.Background(), err, HandlerOrigin("stats"))
	}

	assert.Equal(t, 5, sink.calls())
	records := r.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 12, records[0].Count)
	assert.Equal(t, SeverityHigh, records[0].Severity)

	forwarded := testutil.ToFloat64(m.FaultReports.WithLabelValues("low", "true")) +
		testutil.ToFloat64(m.FaultReports.WithLabelValues("medium", "true"))
	assert.Equal(t, 5.0, forwarded)
}

func TestReporter_ForwardsAgainAfterWindow(t *testing.T) {
	clock := newFakeClock()
	sink := &countingSink{}
	classifier := NewClassifier(ClassifierOptions{Window: time.Minute, Now: clock.Now})
	r := newReporter(t, ReporterOptions{Classifier: classifier, Sinks: []Sink{sink}, Ceiling: 2})

	err := errors.New("timeout")
	for range 4 {
		r.Report(context.Background(), err, OriginSync)
	}
	assert.Equal(t, 2, sink.calls())

	clock.Advance(2 * time.Minute)
	rec := r.Report(context.Background(), err, OriginSync)

	assert.Equal(t, 3, sink.calls())
	assert.Equal(t, 5, rec.Count)
	assert.Equal(t, 1, rec.Recent)
}

func TestReporter_SinkFailuresAreSwallowed(t *testing.T) {
	failing := &countingSink{err: errors.New("channel gone")}
	after := &countingSink{}
	r := newReporter(t, ReporterOptions{Sinks: []Sink{failing, panickingSink{}, after}})

	assert.NotPanics(t, func() {
		r.Report(context.Background(), errors.New("boom"), HandlerOrigin("ping"))
	})
	assert.Equal(t, 1, failing.calls())
	assert.Equal(t, 1, after.calls())
}

func TestReporter_NilErrorIsIgnored(t *testing.T) {
	sink := &countingSink{}
	r := newReporter(t, ReporterOptions{Sinks: []Sink{sink}})

	r.Report(context.Background(), nil, OriginLoad)

	assert.Zero(t, sink.calls())
	assert.Empty(t, r.Records())
}

func TestReporter_EvictsLeastRecentlySeen(t *testing.T) {
	r := newReporter(t, ReporterOptions{Capacity: 2})

	first := r.Report(context.Background(), errors.New("first"), OriginLoad)
	second := r.Report(context.Background(), errors.New("second"), OriginLoad)
	r.Report(context.Background(), errors.New("first"), OriginLoad)
	third := r.Report(context.Background(), errors.New("third"), OriginLoad)

	var hashes []string
	for _, rec := range r.Records() {
		hashes = append(hashes, rec.Hash)
	}
	assert.Equal(t, []string{third.Hash, first.Hash}, hashes)
	assert.NotContains(t, hashes, second.Hash)
}

func TestReporter_Resolve(t *testing.T) {
	r := newReporter(t, ReporterOptions{})

	rec := r.Report(context.Background(), errors.New("flaky"), OriginSync)
	require.True(t, r.Resolve(rec.Hash))
	assert.True(t, r.Records()[0].Resolved)
	assert.False(t, r.Resolve("unknown"))

	r.Report(context.Background(), errors.New("flaky"), OriginSync)
	assert.False(t, r.Records()[0].Resolved, "a new occurrence reopens the record")
}

func TestReporter_ReadsDoNotTouchRecordStore(t *testing.T) {
	r := newReporter(t, ReporterOptions{Capacity: 2})

	first := r.Report(context.Background(), errors.New("first"), OriginSync)
	r.Report(context.Background(), errors.New("second"), OriginSync)
	before := r.Stats()

	require.True(t, r.Resolve(first.Hash))
	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].Message)
	assert.Equal(t, before, r.Stats(), "reads are not counted as cache hits")

	r.Report(context.Background(), errors.New("third"), OriginSync)
	for _, rec := range r.Records() {
		assert.NotEqual(t, first.Hash, rec.Hash, "resolving does not make a record recent")
	}
}

func TestReporter_ReportPanic(t *testing.T) {
	sink := &countingSink{}
	r := newReporter(t, ReporterOptions{Sinks: []Sink{sink}})

	stack := []byte("goroutine 7 [running]:\nmain.handler(...)\n\t/app/main.go:10 +0x1d\n")
	rec := r.ReportPanic(context.Background(), HandlerOrigin("ping"), "nil map write", stack)

	assert.Equal(t, CategoryHandler, rec.Category)
	assert.Equal(t, SeverityHigh, rec.Severity)
	assert.Contains(t, rec.Message, "nil map write")
	assert.Contains(t, rec.Stack, "main.handler")
	require.Equal(t, 1, sink.calls())
}

func TestReporter_GuardReportsTearsDownAndExits(t *testing.T) {
	sink := &countingSink{}
	exitCode := -1
	r := newReporter(t, ReporterOptions{Sinks: []Sink{sink}, Exit: func(code int) { exitCode = code }})

	tornDown := false
	func() {
		defer r.Guard(func() { tornDown = true })
		panic("fatal")
	}()

	assert.True(t, tornDown)
	assert.Equal(t, 1, exitCode)
	require.Equal(t, 1, sink.calls())
	assert.Equal(t, SeverityCritical, sink.records[0].Severity)
	assert.Equal(t, CategoryProcess, sink.records[0].Category)
}

func TestReporter_GuardWithoutPanicDoesNothing(t *testing.T) {
	exited := false
	r := newReporter(t, ReporterOptions{Exit: func(int) { exited = true }})

	func() {
		defer r.Guard(nil)
	}()

	assert.False(t, exited)
}

func TestClassifier_PlatformErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		origin      string
		severity    Severity
		recoverable bool
	}{
		{name: "missing access", err: restError(http.StatusForbidden, 50001), origin: HandlerOrigin("ping"), severity: SeverityHigh},
		{name: "unknown interaction", err: restError(http.StatusNotFound, 10062), origin: HandlerOrigin("ping"), severity: SeverityHigh},
		{name: "non-recoverable at process level", err: restError(http.StatusUnauthorized, 40001), origin: OriginProcess, severity: SeverityCritical},
		{name: "missing permissions", err: restError(http.StatusForbidden, 50013), origin: OriginSync, severity: SeverityLow, recoverable: true},
		{name: "rate limited", err: restError(http.StatusTooManyRequests, 0), origin: OriginSync, severity: SeverityLow, recoverable: true},
		{name: "server error", err: restError(http.StatusBadGateway, 0), origin: OriginSync, severity: SeverityLow, recoverable: true},
		{name: "other client error", err: restError(http.StatusBadRequest, 12345), origin: OriginSync, severity: SeverityMedium, recoverable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewClassifier(ClassifierOptions{}).Classify(Fault{Err: tt.err, Origin: tt.origin})

			assert.Equal(t, CategoryPlatform, rec.Category)
			assert.Equal(t, tt.severity, rec.Severity)
			assert.Equal(t, tt.recoverable, rec.Recoverable)
		})
	}
}

func TestClassifier_Categories(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})

	assert.Equal(t, CategoryNetwork, c.Classify(Fault{Err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), Origin: OriginSync}).Category)
	assert.Equal(t, CategoryHandler, c.Classify(Fault{Err: errors.New("x"), Origin: HandlerOrigin("ping")}).Category)
	assert.Equal(t, CategoryLoad, c.Classify(Fault{Err: errors.New("x"), Origin: OriginLoad}).Category)
	assert.Equal(t, CategoryUnknown, c.Classify(Fault{Err: errors.New("x"), Origin: "elsewhere"}).Category)

	process := c.Classify(Fault{Err: errors.New("x"), Origin: OriginProcess})
	assert.Equal(t, CategoryProcess, process.Category)
	assert.Equal(t, SeverityCritical, process.Severity)
}

func TestClassifier_FrequencyEscalation(t *testing.T) {
	clock := newFakeClock()
	c := NewClassifier(ClassifierOptions{Window: time.Minute, Now: clock.Now})
	fault := Fault{Err: errors.New("slow query"), Origin: OriginSync}

	var severities []Severity
	for range 10 {
		severities = append(severities, c.Classify(fault).Severity)
		clock.Advance(time.Second)
	}

	assert.Equal(t, SeverityLow, severities[3])
	assert.Equal(t, SeverityMedium, severities[4])
	assert.Equal(t, SeverityMedium, severities[8])
	assert.Equal(t, SeverityHigh, severities[9])

	clock.Advance(2 * time.Minute)
	assert.Equal(t, SeverityLow, c.Classify(fault).Severity)
}

func TestClassifier_ResourcePressureIsCritical(t *testing.T) {
	c := NewClassifier(ClassifierOptions{Probe: StaticProbe{HeapMB: 2048}, MemoryThresholdMB: 1024})
	rec := c.Classify(Fault{Err: errors.New("x"), Origin: HandlerOrigin("ping")})
	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.NotEmpty(t, rec.Hints)

	c = NewClassifier(ClassifierOptions{Probe: StaticProbe{CPUPercent: 95}, CPUThresholdPercent: 90})
	assert.Equal(t, SeverityCritical, c.Classify(Fault{Err: errors.New("x")}).Severity)

	c = NewClassifier(ClassifierOptions{Probe: StaticProbe{HeapMB: 10, CPUPercent: 5}})
	assert.Equal(t, SeverityLow, c.Classify(Fault{Err: errors.New("x")}).Severity)
}

func TestHash(t *testing.T) {
	a := Hash("unknown user 1234", nil, HandlerOrigin("ping"))
	b := Hash("unknown user 98765", nil, HandlerOrigin("ping"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	assert.NotEqual(t, a, Hash("unknown user 1234", nil, HandlerOrigin("stats")))
	assert.NotEqual(t, a, Hash("unknown user 1234", []string{"main.run"}, HandlerOrigin("ping")))
}

func TestTopFrames(t *testing.T) {
	stack := []byte(`goroutine 12 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
github.com/sglre6355/gatebot/internal/router.(*Router).invoke.func1()
	/app/internal/router/router.go:120 +0x45
panic({0x6f1a20?, 0xc000012345?})
	/usr/local/go/src/runtime/panic.go:785 +0x132
github.com/sglre6355/gatebot/internal/modules/core.(*Module).ping(...)
	/app/internal/modules/core/ping.go:30
main.main()
	/app/main.go:5 +0x1
`)

	assert.Equal(t, []string{
		"github.com/sglre6355/gatebot/internal/router.(*Router).invoke.func1",
		"github.com/sglre6355/gatebot/internal/modules/core.(*Module).ping",
		"main.main",
	}, topFrames(stack, 3))
	assert.Nil(t, topFrames(nil, 3))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, embed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func TestChannelSink_PostsEmbed(t *testing.T) {
	sender := new(mockSender)
	sender.On("ChannelMessageSendEmbed", "555", mock.MatchedBy(func(e *discordgo.MessageEmbed) bool {
		return e.Title == "[HIGH] platform fault" && e.Description == "missing access"
	})).Return(&discordgo.Message{ID: "1"}, nil)

	sink := NewChannelSink(sender, "555")
	err := sink.Send(context.Background(), Record{
		Hash:     "abc",
		Category: CategoryPlatform,
		Severity: SeverityHigh,
		Message:  "missing access",
		Hints:    []string{"Grant access."},
		Stack:    "main.main",
	})

	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestChannelSink_WrapsErrors(t *testing.T) {
	sender := new(mockSender)
	sender.On("ChannelMessageSendEmbed", "555", mock.Anything).Return(nil, errors.New("forbidden"))

	err := NewChannelSink(sender, "555").Send(context.Background(), Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "555")
}

func TestEmbed_TruncatesLongStack(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}

	embed := Embed(Record{Category: CategoryHandler, Stack: string(long)})
	stack := embed.Fields[len(embed.Fields)-1]

	assert.Equal(t, "Stack", stack.Name)
	assert.LessOrEqual(t, len(stack.Value), maxFieldLength)
}

func TestRuntimeProbe_Sample(t *testing.T) {
	usage := NewRuntimeProbe().Sample()
	assert.Positive(t, usage.HeapMB)
	assert.Positive(t, usage.Goroutines)
	assert.GreaterOrEqual(t, usage.CPUPercent, 0.0)
}
