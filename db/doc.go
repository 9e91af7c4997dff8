// Package db provides the database layer for malja.
// It encapsulates all interactions with the SQLite database, managing
// the cache stores and their entries, worker versions, navigation records,
// logs and application settings.
//
// This package is responsible for:
// - Establishing and managing database connections (`db.go`).
// - Defining database-specific data structures that map to SQL table schemas.
// - Implementing the repository interfaces of the `domain` package
//   (e.g., `CacheRepository`, `VersionRepository`).
// - Handling data conversion between domain structs and database-friendly structs.
// - Managing database migrations (`migrations/`).
package db
