package domain

import (
	"time"

	"github.com/google/uuid"
)

// VersionState is the lifecycle state of a worker version.
type VersionState string

const (
	// VersionInstalling is set while the install phase is running.
	VersionInstalling VersionState = "installing"
	// VersionInstalled is set once the offline page has been stored.
	VersionInstalled VersionState = "installed"
	// VersionActivated marks the version that intercepts navigations. At most one version is activated.
	VersionActivated VersionState = "activated"
	// VersionRedundant marks a version that failed to install or was replaced.
	VersionRedundant VersionState = "redundant"
)

// VersionRepository defines the interface for persisting worker versions.
type VersionRepository interface {
	// CreateVersion stores a new version.
	CreateVersion(version *Version) error

	// UpdateVersionState sets the state of the version with the given id.
	// It returns an error if the version does not exist.
	UpdateVersionState(id uuid.UUID, state VersionState) error

	// ActivateVersion marks the version as activated and every other activated version as redundant.
	ActivateVersion(id uuid.UUID) error

	// GetActiveVersion returns the activated version.
	// It returns an error if no version is activated.
	GetActiveVersion() (*Version, error)

	// GetVersions returns all the versions ordered by creation time.
	GetVersions() ([]*Version, error)
}

// Version is one configuration of the offline worker.
// Changing the cache name, the offline path or the origin produces a new version that has to be installed.
type Version struct {
	ID          uuid.UUID    // Unique identifier of the version
	CacheName   string       // Name of the cache store holding the offline page
	OfflinePath string       // Path of the offline page, also its cache key
	Origin      string       // Origin the offline path is resolved against
	State       VersionState // Lifecycle state
	CreatedAt   time.Time    // When the version was registered
	UpdatedAt   time.Time    // Last state change
}

// Matches reports whether the version was built from the same configuration.
func (v *Version) Matches(cacheName, offlinePath, origin string) bool {
	return v.CacheName == cacheName && v.OfflinePath == offlinePath && v.Origin == origin
}
