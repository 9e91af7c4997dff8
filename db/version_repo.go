package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/domain"
)

var _ domain.VersionRepository = (*Repository)(nil)

var (
	// ErrVersionNotFound is returned when a version ID does not exist.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoActiveVersion is returned when no version is activated.
	ErrNoActiveVersion = errors.New("no active version")
)

// dbVersion represents a worker version as stored in the database.
type dbVersion struct {
	ID          uuid.UUID `db:"id"`
	CacheName   string    `db:"cache_name"`
	OfflinePath string    `db:"offline_path"`
	Origin      string    `db:"origin"`
	State       string    `db:"state"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toDomainVersion(v *dbVersion) *domain.Version {
	return &domain.Version{
		ID:          v.ID,
		CacheName:   v.CacheName,
		OfflinePath: v.OfflinePath,
		Origin:      v.Origin,
		State:       domain.VersionState(v.State),
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

// CreateVersion stores a new version.
func (repo *Repository) CreateVersion(version *domain.Version) error {
	query := `INSERT INTO version (id, cache_name, offline_path, origin, state, created_at, updated_at)
	          VALUES (:id, :cache_name, :offline_path, :origin, :state, :created_at, :updated_at)`

	_, err := repo.dbConn.NamedExec(query, &dbVersion{
		ID:          version.ID,
		CacheName:   version.CacheName,
		OfflinePath: version.OfflinePath,
		Origin:      version.Origin,
		State:       string(version.State),
		CreatedAt:   version.CreatedAt,
		UpdatedAt:   version.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("creating version %s: %w", version.ID, err)
	}

	return nil
}

// UpdateVersionState sets the state of a version.
func (repo *Repository) UpdateVersionState(id uuid.UUID, state domain.VersionState) error {
	query := `UPDATE version SET state = ?, updated_at = ? WHERE id = ?`

	result, err := repo.dbConn.Exec(query, string(state), time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating version %s to %s: %w", id, state, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update rows affected for %s: %w", id, err)
	}

	if rowsAffected == 0 {
		return ErrVersionNotFound
	}

	return nil
}

// ActivateVersion marks the version as activated. Any previously activated version becomes redundant
// in the same transaction so there is never more than one activated version.
func (repo *Repository) ActivateVersion(id uuid.UUID) error {
	tx, err := repo.dbConn.Beginx()
	if err != nil {
		return fmt.Errorf("starting transaction : %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.Exec(`UPDATE version SET state = ?, updated_at = ? WHERE state = ? AND id != ?`,
		string(domain.VersionRedundant), now, string(domain.VersionActivated), id)
	if err != nil {
		return fmt.Errorf("retiring active versions : %w", err)
	}

	result, err := tx.Exec(`UPDATE version SET state = ?, updated_at = ? WHERE id = ?`,
		string(domain.VersionActivated), now, id)
	if err != nil {
		return fmt.Errorf("activating version %s : %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update rows affected for %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrVersionNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing activation of %s : %w", id, err)
	}
	return nil
}

// GetActiveVersion returns the activated version or ErrNoActiveVersion.
func (repo *Repository) GetActiveVersion() (*domain.Version, error) {
	var version dbVersion
	query := `SELECT id, cache_name, offline_path, origin, state, created_at, updated_at
	          FROM version WHERE state = ? LIMIT 1`

	err := repo.dbConn.Get(&version, query, string(domain.VersionActivated))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveVersion
		}
		return nil, fmt.Errorf("getting active version: %w", err)
	}

	return toDomainVersion(&version), nil
}

// GetVersions returns all the versions ordered by creation time.
func (repo *Repository) GetVersions() ([]*domain.Version, error) {
	var dbVersions []*dbVersion
	query := `SELECT id, cache_name, offline_path, origin, state, created_at, updated_at
	          FROM version ORDER BY created_at, rowid`

	err := repo.dbConn.Select(&dbVersions, query)
	if err != nil {
		return nil, fmt.Errorf("retrieving versions: %w", err)
	}

	versions := make([]*domain.Version, len(dbVersions))
	for i, v := range dbVersions {
		versions[i] = toDomainVersion(v)
	}

	return versions, nil
}
