package domain

import (
	"fmt"
	"time"
)

// PingResult represents the result of a ping operation.
type PingResult struct {
	Message   string
	Latency   time.Duration
	Timestamp time.Time
}

// NewPingResult creates a new PingResult carrying the gateway latency.
func NewPingResult(latency time.Duration) *PingResult {
	return &PingResult{
		Message:   "Pong!",
		Latency:   latency,
		Timestamp: time.Now(),
	}
}

// LatencyText formats the latency for display.
func (r *PingResult) LatencyText() string {
	if r.Latency <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%dms", r.Latency.Milliseconds())
}
