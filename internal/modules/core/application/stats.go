package application

import "github.com/sglre6355/gatebot/internal/bot"

// StatsSource provides engine statistics.
type StatsSource interface {
	Stats() bot.Stats
}

// StatsInteractor handles the stats use case.
type StatsInteractor struct {
	source StatsSource
}

// NewStatsInteractor creates a new StatsInteractor.
func NewStatsInteractor(source StatsSource) *StatsInteractor {
	return &StatsInteractor{source: source}
}

// Execute returns a snapshot of the engine statistics.
func (s *StatsInteractor) Execute() bot.Stats {
	return s.source.Stats()
}
