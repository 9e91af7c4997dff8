package domain

// StatsRepository defines the interface for retrieving statistics about intercepted navigations.
type StatsRepository interface {
	// CountNavigations returns the total number of intercepted navigations.
	CountNavigations() (int, error)
	// CountByOutcome returns the number of navigations answered with the given outcome.
	CountByOutcome(outcome NavigationOutcome) (int, error)
	// CountCacheEntries returns the number of entries across all cache stores.
	CountCacheEntries() (int, error)
}
