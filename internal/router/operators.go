package router

import (
	"slices"
	"sync/atomic"

	"github.com/disgoorg/snowflake/v2"
)

// Operators holds the operator configuration consulted by the gates.
// It is safe for concurrent use.
type Operators struct {
	ids         map[string]struct{}
	testGuildID string
	maintenance atomic.Bool
}

// NewOperators creates an Operators set. A zero testGuild means no test
// guild is configured.
func NewOperators(ids []snowflake.ID, testGuild snowflake.ID, maintenance bool) *Operators {
	o := &Operators{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		o.ids[id.String()] = struct{}{}
	}
	if testGuild != 0 {
		o.testGuildID = testGuild.String()
	}
	o.maintenance.Store(maintenance)
	return o
}

// IsOperator reports whether userID is an operator.
func (o *Operators) IsOperator(userID string) bool {
	_, ok := o.ids[userID]
	return ok
}

// IDs returns the operator IDs, sorted.
func (o *Operators) IDs() []string {
	ids := make([]string, 0, len(o.ids))
	for id := range o.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TestGuildID returns the designated test guild, or "" if none.
func (o *Operators) TestGuildID() string {
	return o.testGuildID
}

// Maintenance reports whether maintenance mode is on.
func (o *Operators) Maintenance() bool {
	return o.maintenance.Load()
}

// SetMaintenance switches maintenance mode and returns the previous state.
func (o *Operators) SetMaintenance(on bool) bool {
	return o.maintenance.Swap(on)
}
