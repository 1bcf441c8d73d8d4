// Package faults classifies failures, groups repeats and forwards them to
// reporting sinks without flooding them.
package faults

import (
	"fmt"
	"strings"
	"time"
)

// Category is the broad origin of a fault.
type Category string

const (
	CategoryPlatform Category = "platform"
	CategoryNetwork  Category = "network"
	CategoryHandler  Category = "handler"
	CategoryLoad     Category = "load"
	CategorySync     Category = "sync"
	CategoryProcess  Category = "process"
	CategoryUnknown  Category = "unknown"
)

// Severity orders faults by urgency.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Origin tags.
const (
	OriginLoad    = "load"
	OriginSync    = "sync"
	OriginProcess = "process"

	handlerOriginPrefix = "handler:"
)

// HandlerOrigin returns the origin tag for a failure inside the named handler.
func HandlerOrigin(name string) string {
	return handlerOriginPrefix + name
}

func categoryOf(origin string) Category {
	switch {
	case strings.HasPrefix(origin, handlerOriginPrefix):
		return CategoryHandler
	case origin == OriginLoad:
		return CategoryLoad
	case origin == OriginSync:
		return CategorySync
	case origin == OriginProcess:
		return CategoryProcess
	default:
		return CategoryUnknown
	}
}

// Fault is a single failure to classify.
type Fault struct {
	Err    error
	Origin string
	// Stack is the goroutine trace captured where the fault was recovered, if any.
	Stack []byte
	// Panic marks faults recovered from a panic.
	Panic bool
}

// Record is the grouped state of every occurrence sharing a hash.
type Record struct {
	Hash     string
	Category Category
	Origin   string
	Message  string
	Severity Severity
	// Recoverable is false for platform errors that retrying cannot fix.
	Recoverable bool
	Hints       []string
	Stack       string

	// Count is the total number of occurrences.
	Count int
	// Recent is the number of occurrences within the classification window.
	Recent    int
	FirstSeen time.Time
	LastSeen  time.Time
	Resolved  bool
}
