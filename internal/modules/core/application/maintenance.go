package application

// MaintenanceSwitch toggles maintenance mode.
type MaintenanceSwitch interface {
	Maintenance() bool
	SetMaintenance(on bool) bool
}

// MaintenanceResult describes a maintenance mode change.
type MaintenanceResult struct {
	Enabled bool
	Changed bool
}

// MaintenanceInteractor handles the maintenance use case.
type MaintenanceInteractor struct {
	mode MaintenanceSwitch
}

// NewMaintenanceInteractor creates a new MaintenanceInteractor.
func NewMaintenanceInteractor(mode MaintenanceSwitch) *MaintenanceInteractor {
	return &MaintenanceInteractor{mode: mode}
}

// Execute switches maintenance mode on or off.
func (m *MaintenanceInteractor) Execute(on bool) MaintenanceResult {
	previous := m.mode.SetMaintenance(on)
	return MaintenanceResult{Enabled: on, Changed: previous != on}
}
