package domain

import (
	"fmt"
	"strings"

	"github.com/sglre6355/gatebot/internal/commandsync"
)

// PendingChanges counts the mutations planned across diffs.
func PendingChanges(diffs []commandsync.Diff) int {
	n := 0
	for _, d := range diffs {
		n += len(d.Create) + len(d.Update) + len(d.Delete)
	}
	return n
}

// DescribeDiffs lists the planned mutations, one line per command.
func DescribeDiffs(diffs []commandsync.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		for _, c := range d.Create {
			fmt.Fprintf(&b, "+ `/%s` (%s)\n", c.Name, d.Scope)
		}
		for _, u := range d.Update {
			fmt.Fprintf(&b, "~ `/%s` (%s): %s\n", u.Name, d.Scope, strings.Join(u.Fields, ", "))
		}
		for _, del := range d.Delete {
			fmt.Fprintf(&b, "- `/%s` (%s)\n", del.Name, d.Scope)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// DescribeReport summarizes an applied synchronization.
func DescribeReport(r *commandsync.Report) string {
	summary := fmt.Sprintf("Created %d, updated %d, deleted %d.",
		len(r.Created), len(r.Updated), len(r.Deleted))
	if len(r.Failures) > 0 {
		summary += fmt.Sprintf(" %d failed:", len(r.Failures))
		for _, f := range r.Failures {
			summary += fmt.Sprintf("\n%s `/%s`: %v", f.Operation, f.Name, f.Err)
		}
	}
	return summary
}
