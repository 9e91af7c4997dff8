package domain

import (
	"time"

	"github.com/google/uuid"
)

// NavigationOutcome describes how an intercepted navigation was answered.
type NavigationOutcome string

const (
	// OutcomeNetwork means the network response was returned.
	OutcomeNetwork NavigationOutcome = "network"
	// OutcomeOffline means the network failed and the cached offline page was returned.
	OutcomeOffline NavigationOutcome = "offline"
	// OutcomeMiss means the network failed and the cache had no offline page.
	OutcomeMiss NavigationOutcome = "miss"
)

// NavigationRepository defines the interface for persisting intercepted navigations.
type NavigationRepository interface {
	// InsertNavigation saves a navigation record.
	InsertNavigation(navigation *Navigation) error

	// GetNavigations returns the most recent navigation records, newest first.
	// A limit of zero or less returns every record.
	GetNavigations(limit int) ([]*Navigation, error)
}

// Navigation is the record of one intercepted navigation request.
type Navigation struct {
	ID          uuid.UUID         // Unique identifier, shared with the request ID
	VersionID   uuid.UUID         // Version that handled the navigation
	URL         string            // Requested URL
	Outcome     NavigationOutcome // How the navigation was answered
	Error       string            // Network error, empty for OutcomeNetwork
	RequestedAt time.Time         // When the navigation was intercepted
}
