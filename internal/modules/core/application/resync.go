package application

import (
	"context"

	"github.com/sglre6355/gatebot/internal/commandsync"
)

// Resyncer reconciles registered commands.
type Resyncer interface {
	Resync(ctx context.Context, dryRun bool) (*commandsync.Report, error)
}

// ResyncInteractor handles the resync use case.
type ResyncInteractor struct {
	resyncer Resyncer
}

// NewResyncInteractor creates a new ResyncInteractor.
func NewResyncInteractor(resyncer Resyncer) *ResyncInteractor {
	return &ResyncInteractor{resyncer: resyncer}
}

// Plan computes the pending changes without applying them.
func (r *ResyncInteractor) Plan(ctx context.Context) (*commandsync.Report, error) {
	return r.resyncer.Resync(ctx, true)
}

// Apply applies the pending changes.
func (r *ResyncInteractor) Apply(ctx context.Context) (*commandsync.Report, error) {
	return r.resyncer.Resync(ctx, false)
}
