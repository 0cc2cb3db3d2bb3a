package catalog

import "time"

// SubjectChanged is published after any admin write to the catalog.
const SubjectChanged = "motolight.catalog.changed"

// Catalog kinds carried in ChangedEvent.
const (
	KindVehicles = "vehicles"
	KindFixtures = "fixtures"
)

// ChangedEvent tells API instances to refresh their catalog copy.
type ChangedEvent struct {
	Kind     string    `json:"kind"`
	Inserted int       `json:"inserted"`
	Deleted  int       `json:"deleted"`
	At       time.Time `json:"at"`
}
