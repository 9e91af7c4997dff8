package db

import (
	"fmt"

	"github.com/tfkr-ae/malja/domain"
)

var _ domain.StatsRepository = (*Repository)(nil)

// CountNavigations returns the total number of intercepted navigations.
func (repo *Repository) CountNavigations() (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM navigation`

	err := repo.dbConn.Get(&count, query)
	if err != nil {
		return 0, fmt.Errorf("getting navigation count: %w", err)
	}

	return count, nil
}

// CountByOutcome returns the number of navigations answered with the given outcome.
func (repo *Repository) CountByOutcome(outcome domain.NavigationOutcome) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM navigation WHERE outcome = ?`

	err := repo.dbConn.Get(&count, query, string(outcome))
	if err != nil {
		return 0, fmt.Errorf("getting %s navigation count: %w", outcome, err)
	}

	return count, nil
}

// CountCacheEntries returns the number of entries across all cache stores.
func (repo *Repository) CountCacheEntries() (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM cache_entry`

	err := repo.dbConn.Get(&count, query)
	if err != nil {
		return 0, fmt.Errorf("getting cache entry count: %w", err)
	}

	return count, nil
}
