package domain

import (
	"fmt"
	"time"

	"github.com/sglre6355/gatebot/internal/cache"
)

// HitRatio returns the share of lookups that hit, in percent.
func HitRatio(s cache.Stats) float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(lookups) * 100
}

// FormatCache summarizes cache counters on one line.
func FormatCache(s cache.Stats) string {
	return fmt.Sprintf("%d hits, %d misses (%.1f%%), %d evicted, %d expired",
		s.Hits, s.Misses, HitRatio(s), s.Evictions, s.Expirations)
}

// FormatUptime rounds d to whole seconds.
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return "not connected"
	}
	return d.Truncate(time.Second).String()
}
