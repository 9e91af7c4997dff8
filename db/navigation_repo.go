package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/domain"
)

var _ domain.NavigationRepository = (*Repository)(nil)

// dbNavigation represents a navigation record as stored in the database.
type dbNavigation struct {
	ID          uuid.UUID `db:"id"`
	VersionID   uuid.UUID `db:"version_id"`
	URL         string    `db:"url"`
	Outcome     string    `db:"outcome"`
	Error       string    `db:"error"`
	RequestedAt time.Time `db:"requested_at"`
}

// InsertNavigation saves a navigation record.
func (repo *Repository) InsertNavigation(navigation *domain.Navigation) error {
	query := `INSERT INTO navigation (id, version_id, url, outcome, error, requested_at)
	          VALUES (:id, :version_id, :url, :outcome, :error, :requested_at)`

	_, err := repo.dbConn.NamedExec(query, &dbNavigation{
		ID:          navigation.ID,
		VersionID:   navigation.VersionID,
		URL:         navigation.URL,
		Outcome:     string(navigation.Outcome),
		Error:       navigation.Error,
		RequestedAt: navigation.RequestedAt,
	})
	if err != nil {
		return fmt.Errorf("inserting navigation %s: %w", navigation.ID, err)
	}

	return nil
}

// GetNavigations returns the most recent navigation records, newest first.
func (repo *Repository) GetNavigations(limit int) ([]*domain.Navigation, error) {
	var dbNavigations []*dbNavigation
	query := `SELECT id, version_id, url, outcome, error, requested_at
	          FROM navigation ORDER BY requested_at DESC, rowid DESC`

	var err error
	if limit > 0 {
		err = repo.dbConn.Select(&dbNavigations, query+` LIMIT ?`, limit)
	} else {
		err = repo.dbConn.Select(&dbNavigations, query)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving navigations: %w", err)
	}

	navigations := make([]*domain.Navigation, len(dbNavigations))
	for i, n := range dbNavigations {
		navigations[i] = &domain.Navigation{
			ID:          n.ID,
			VersionID:   n.VersionID,
			URL:         n.URL,
			Outcome:     domain.NavigationOutcome(n.Outcome),
			Error:       n.Error,
			RequestedAt: n.RequestedAt,
		}
	}

	return navigations, nil
}
