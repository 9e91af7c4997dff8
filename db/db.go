package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// dsnParams keep the database in WAL mode with cascading deletes for cache entries
const dsnParams = "_journal=WAL&_timeout=5000&_fk=true"

// Repository implements every domain repository on top of a single sqlite connection.
type Repository struct {
	dbConn *sqlx.DB
}

func NewRepo(conn *sqlx.DB) *Repository {
	return &Repository{dbConn: conn}
}

func (repo *Repository) Close() error {
	if err := repo.dbConn.Close(); err != nil {
		return fmt.Errorf("closing repo : %w", err)
	}
	return nil
}

// New opens the sqlite file at path and brings its schema up to date.
func New(path string) (*sqlx.DB, error) {
	conn, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func open(path string) (*sqlx.DB, error) {
	conn, err := sqlx.Connect("sqlite", path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}
	// sqlite serialises writers anyway
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys : %w", err)
	}
	return conn, nil
}

func migrate(ctx context.Context, conn *sqlx.DB) error {
	migrations, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations : %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn.DB, migrations)
	if err != nil {
		return fmt.Errorf("creating migration provider : %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migration : %w", err)
	}
	return nil
}
