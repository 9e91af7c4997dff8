package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tfkr-ae/malja/domain"
)

var _ domain.CacheRepository = (*Repository)(nil)

var (
	// ErrCacheNotFound is returned when the named cache store does not exist.
	ErrCacheNotFound = errors.New("cache store not found")

	// ErrCacheEntryNotFound is returned when a cache store has no entry for a key.
	ErrCacheEntryNotFound = errors.New("cache entry not found")
)

// dbCacheEntry represents a cache entry as stored in the database.
type dbCacheEntry struct {
	CacheName   string    `db:"cache_name"`
	Key         string    `db:"key"`
	Status      string    `db:"status"`
	StatusCode  int       `db:"status_code"`
	ContentType string    `db:"content_type"`
	Raw         []byte    `db:"raw"`
	StoredAt    time.Time `db:"stored_at"`
}

func toDomainCachedResponse(entry *dbCacheEntry) *domain.CachedResponse {
	return &domain.CachedResponse{
		CacheName:   entry.CacheName,
		Key:         entry.Key,
		Status:      entry.Status,
		StatusCode:  entry.StatusCode,
		ContentType: entry.ContentType,
		Raw:         domain.RawField(entry.Raw),
		StoredAt:    entry.StoredAt,
	}
}

func fromDomainCachedResponse(entry *domain.CachedResponse) *dbCacheEntry {
	return &dbCacheEntry{
		CacheName:   entry.CacheName,
		Key:         entry.Key,
		Status:      entry.Status,
		StatusCode:  entry.StatusCode,
		ContentType: entry.ContentType,
		Raw:         []byte(entry.Raw),
		StoredAt:    entry.StoredAt,
	}
}

// OpenCache creates the named cache store if it does not exist.
func (repo *Repository) OpenCache(name string) error {
	query := `INSERT INTO cache (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`

	_, err := repo.dbConn.Exec(query, name, time.Now())
	if err != nil {
		return fmt.Errorf("opening cache %s: %w", name, err)
	}

	return nil
}

// HasCache reports whether the named cache store exists.
func (repo *Repository) HasCache(name string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM cache WHERE name = ?`

	err := repo.dbConn.Get(&count, query, name)
	if err != nil {
		return false, fmt.Errorf("checking cache %s: %w", name, err)
	}

	return count > 0, nil
}

// GetCacheNames returns the names of all cache stores ordered by creation time.
func (repo *Repository) GetCacheNames() ([]string, error) {
	names := make([]string, 0)
	query := `SELECT name FROM cache ORDER BY created_at, rowid`

	err := repo.dbConn.Select(&names, query)
	if err != nil {
		return nil, fmt.Errorf("retrieving cache names: %w", err)
	}

	return names, nil
}

// DeleteCache removes the named cache store, its entries are removed by the foreign key cascade.
func (repo *Repository) DeleteCache(name string) error {
	query := `DELETE FROM cache WHERE name = ?`

	result, err := repo.dbConn.Exec(query, name)
	if err != nil {
		return fmt.Errorf("deleting cache %s: %w", name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deletion rows affected for %s: %w", name, err)
	}

	if rowsAffected == 0 {
		return ErrCacheNotFound
	}

	return nil
}

// PutEntry inserts or replaces a cache entry. The cache store has to be opened first,
// otherwise ErrCacheNotFound is returned and nothing is written.
func (repo *Repository) PutEntry(entry *domain.CachedResponse) error {
	tx, err := repo.dbConn.Beginx()
	if err != nil {
		return fmt.Errorf("starting transaction : %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.Get(&count, `SELECT COUNT(*) FROM cache WHERE name = ?`, entry.CacheName); err != nil {
		return fmt.Errorf("checking cache %s: %w", entry.CacheName, err)
	}
	if count == 0 {
		return ErrCacheNotFound
	}

	query := `INSERT INTO cache_entry (cache_name, key, status, status_code, content_type, raw, stored_at)
	          VALUES (:cache_name, :key, :status, :status_code, :content_type, :raw, :stored_at)
	          ON CONFLICT(cache_name, key) DO UPDATE SET
	              status = excluded.status,
	              status_code = excluded.status_code,
	              content_type = excluded.content_type,
	              raw = excluded.raw,
	              stored_at = excluded.stored_at`

	if _, err := tx.NamedExec(query, fromDomainCachedResponse(entry)); err != nil {
		return fmt.Errorf("putting entry %s in cache %s: %w", entry.Key, entry.CacheName, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entry %s : %w", entry.Key, err)
	}
	return nil
}

// MatchEntry returns the entry stored under key in the named cache store.
func (repo *Repository) MatchEntry(cacheName string, key string) (*domain.CachedResponse, error) {
	var entry dbCacheEntry
	query := `SELECT cache_name, key, status, status_code, content_type, raw, stored_at
	          FROM cache_entry
	          WHERE cache_name = ? AND key = ?`

	err := repo.dbConn.Get(&entry, query, cacheName, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("matching %s in cache %s: %w", key, cacheName, err)
	}

	return toDomainCachedResponse(&entry), nil
}

// DeleteEntry removes the entry stored under key in the named cache store.
func (repo *Repository) DeleteEntry(cacheName string, key string) error {
	query := `DELETE FROM cache_entry WHERE cache_name = ? AND key = ?`

	result, err := repo.dbConn.Exec(query, cacheName, key)
	if err != nil {
		return fmt.Errorf("deleting %s from cache %s: %w", key, cacheName, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deletion rows affected for %s: %w", key, err)
	}

	if rowsAffected == 0 {
		return ErrCacheEntryNotFound
	}

	return nil
}

// GetKeys returns the keys stored in the named cache store.
func (repo *Repository) GetKeys(cacheName string) ([]string, error) {
	keys := make([]string, 0)
	query := `SELECT key FROM cache_entry WHERE cache_name = ? ORDER BY key`

	err := repo.dbConn.Select(&keys, query, cacheName)
	if err != nil {
		return nil, fmt.Errorf("retrieving keys of cache %s: %w", cacheName, err)
	}

	return keys, nil
}
