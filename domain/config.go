package domain

// ConfigRepository defines the interface for managing application-level settings stored with the data.
type ConfigRepository interface {
	// UpdateSPKI saves the Subject Public Key Information (SPKI) hash of the proxy CA.
	// Clients pinning the CA can compare it against the value reported by `malja cert`.
	UpdateSPKI(spki string) error

	// GetSPKI returns the stored SPKI hash, empty if no CA was created yet.
	GetSPKI() (string, error)
}
