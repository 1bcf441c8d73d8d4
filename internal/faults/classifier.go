package faults

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Classification defaults.
const (
	DefaultWindow              = time.Minute
	DefaultMemoryThresholdMB   = 1024
	DefaultCPUThresholdPercent = 90

	mediumFrequency = 5
	highFrequency   = 10
	stackFrames     = 3
	maxStackLength  = 4000
)

// Discord JSON error codes that retrying cannot fix.
var nonRecoverableCodes = map[int]string{
	40001: "The bot token is invalid or was revoked.",
	50014: "The bot token is invalid or was revoked.",
	10003: "The channel no longer exists.",
	10004: "The guild no longer exists or the bot was removed.",
	10008: "The message no longer exists.",
	10015: "The webhook no longer exists.",
	10062: "The interaction expired before it was acknowledged.",
	50001: "The bot lacks access to the resource.",
	50035: "The request payload was rejected as malformed.",
	50109: "The request body is not valid JSON.",
	50006: "The message would be empty.",
}

// Discord JSON error codes for transient or permission issues.
var recoverableCodes = map[int]string{
	50013:  "Grant the bot the missing permissions.",
	20028:  "The action is rate limited for this channel, retry later.",
	130000: "Discord is overloaded, retry later.",
}

var digits = regexp.MustCompile(`\d+`)

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	// Probe samples resource usage. Nil disables resource escalation.
	Probe               ResourceProbe
	MemoryThresholdMB   float64
	CPUThresholdPercent float64
	// Window is the sliding window used to measure repeat frequency.
	Window time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Classifier turns errors into records. It is safe for concurrent use.
type Classifier struct {
	opts ClassifierOptions

	mu   sync.Mutex
	seen map[string][]time.Time
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ClassifierOptions) *Classifier {
	if opts.MemoryThresholdMB <= 0 {
		opts.MemoryThresholdMB = DefaultMemoryThresholdMB
	}
	if opts.CPUThresholdPercent <= 0 {
		opts.CPUThresholdPercent = DefaultCPUThresholdPercent
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{opts: opts, seen: make(map[string][]time.Time)}
}

// Window returns the frequency window.
func (c *Classifier) Window() time.Duration {
	return c.opts.Window
}

// Classify builds the record of a single occurrence. Count is 1; Recent
// includes earlier occurrences of the same hash within the window.
func (c *Classifier) Classify(f Fault) Record {
	now := c.opts.Now()
	message := "<nil>"
	if f.Err != nil {
		message = f.Err.Error()
	}

	rec := Record{
		Category:    categoryOf(f.Origin),
		Origin:      f.Origin,
		Message:     message,
		Severity:    SeverityLow,
		Recoverable: true,
		Count:       1,
		FirstSeen:   now,
		LastSeen:    now,
	}
	if len(f.Stack) > 0 {
		rec.Stack = truncate(string(f.Stack), maxStackLength)
	}
	rec.Hash = Hash(message, topFrames(f.Stack, stackFrames), f.Origin)

	c.classifyError(&rec, f.Err)

	if f.Panic {
		rec.Severity = max(rec.Severity, SeverityHigh)
	}
	if rec.Category == CategoryProcess {
		rec.Severity = SeverityCritical
		rec.Recoverable = false
	}

	rec.Recent = c.observe(rec.Hash, now)
	switch {
	case rec.Recent >= highFrequency:
		rec.Severity = max(rec.Severity, SeverityHigh)
	case rec.Recent >= mediumFrequency:
		rec.Severity = max(rec.Severity, SeverityMedium)
	}

	if c.opts.Probe != nil {
		usage := c.opts.Probe.Sample()
		if usage.HeapMB > c.opts.MemoryThresholdMB {
			rec.Severity = SeverityCritical
			rec.Hints = append(rec.Hints, "Heap usage is above the configured threshold.")
		}
		if usage.CPUPercent > c.opts.CPUThresholdPercent {
			rec.Severity = SeverityCritical
			rec.Hints = append(rec.Hints, "CPU usage is above the configured threshold.")
		}
	}

	return rec
}

func (c *Classifier) classifyError(rec *Record, err error) {
	var restErr *discordgo.RESTError
	switch {
	case errors.As(err, &restErr):
		rec.Category = CategoryPlatform
		code, status := 0, 0
		if restErr.Message != nil {
			code = restErr.Message.Code
		}
		if restErr.Response != nil {
			status = restErr.Response.StatusCode
		}

		if hint, ok := nonRecoverableCodes[code]; ok {
			rec.Recoverable = false
			rec.Severity = SeverityHigh
			if rec.Origin == OriginProcess {
				rec.Severity = SeverityCritical
			}
			rec.Hints = append(rec.Hints, hint)
			return
		}
		if hint, ok := recoverableCodes[code]; ok {
			rec.Hints = append(rec.Hints, hint)
			return
		}
		switch {
		case status == http.StatusTooManyRequests:
			rec.Hints = append(rec.Hints, "Requests are being rate limited, slow down.")
		case status >= http.StatusInternalServerError:
			rec.Hints = append(rec.Hints, "Discord returned a server error, retry later.")
		default:
			rec.Severity = SeverityMedium
		}
	case isNetworkError(err):
		rec.Category = CategoryNetwork
		rec.Hints = append(rec.Hints, "Check connectivity to Discord.")
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// observe records an occurrence and returns the number of occurrences of
// hash within the window, including this one.
func (c *Classifier) observe(hash string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.opts.Window)
	times := c.seen[hash]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	c.seen[hash] = kept

	if len(c.seen) > 1024 {
		for h, ts := range c.seen {
			if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
				delete(c.seen, h)
			}
		}
	}

	return len(kept)
}

// Hash groups occurrences by message, call site and origin. Numbers in the
// message are ignored so IDs do not split groups.
func Hash(message string, frames []string, origin string) string {
	h := sha256.New()
	io.WriteString(h, digits.ReplaceAllString(message, "#"))
	for _, f := range frames {
		io.WriteString(h, "\n"+f)
	}
	io.WriteString(h, "\n"+origin)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// topFrames returns the first n function names of a goroutine trace,
// skipping runtime frames.
func topFrames(stack []byte, n int) []string {
	if len(stack) == 0 {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(string(stack), "\n") {
		if line == "" || strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "goroutine ") {
			continue
		}
		fn := line
		if i := strings.LastIndex(fn, "("); i > 0 {
			fn = fn[:i]
		}
		if fn == "panic" || strings.HasPrefix(fn, "runtime.") || strings.HasPrefix(fn, "runtime/debug.") {
			continue
		}
		frames = append(frames, fn)
		if len(frames) == n {
			break
		}
	}
	return frames
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
